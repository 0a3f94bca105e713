package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/nfnt/resize"
	"github.com/v0xg/cupos/internal/browser"
)

// Writer stores downscaled screenshots of sessions, used to inspect failed
// initialization attempts
type Writer struct {
	Dir      string
	MaxWidth uint
	// Now defaults to time.Now
	Now func() time.Time
}

// Capture screenshots session and writes it as <dir>/<name>-<timestamp>.png.
// It returns the written path.
func (w *Writer) Capture(ctx context.Context, session browser.Session, name string) (string, error) {
	data, err := session.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}

	maxWidth := w.MaxWidth
	if maxWidth == 0 {
		maxWidth = 800
	}
	if uint(img.Bounds().Dx()) > maxWidth {
		// Height 0 keeps the aspect ratio
		img = resize.Resize(maxWidth, 0, img, resize.Lanczos3)
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("%s-%s.png", name, now().Format("20060102-150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", err
	}
	return path, nil
}
