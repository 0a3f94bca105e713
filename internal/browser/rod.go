package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
	"github.com/ysmood/gson"
)

// Options configures the launched browser
type Options struct {
	Headless   bool
	NoSandbox  bool   // required on Android/Termux
	Bin        string // browser binary, looked up when empty
	ProfileDir string // Chrome/Chromium profile directory
	// IdleWindow is how long the network must stay quiet to count as idle
	IdleWindow time.Duration
	// IdleTimeout bounds WaitIdle, zero waits forever
	IdleTimeout time.Duration
}

// RodEngine is an Engine backed by a single launched Chrome
type RodEngine struct {
	browser *rod.Browser
	opts    Options
	log     *logrus.Entry
}

// Launch starts a browser and connects to it
func Launch(opts Options, log *logrus.Entry) (*RodEngine, error) {
	if opts.IdleWindow == 0 {
		opts.IdleWindow = 500 * time.Millisecond
	}

	path := opts.Bin
	if path == "" {
		path, _ = launcher.LookPath()
	}
	l := launcher.New().Bin(path).Headless(opts.Headless)
	if opts.NoSandbox {
		l = l.NoSandbox(true).Set("disable-gpu")
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	log.WithFields(logrus.Fields{"bin": path, "headless": opts.Headless}).Debug("browser launched")
	return &RodEngine{browser: b, opts: opts, log: log}, nil
}

// NewSession opens a blank tab
func (e *RodEngine) NewSession(ctx context.Context) (Session, error) {
	page, err := e.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	// Calls pass their own context; the tab outlives the one it was opened with
	return &rodSession{page: page.Context(context.Background()), opts: e.opts, log: e.log}, nil
}

// Close shuts the browser down
func (e *RodEngine) Close() error {
	return e.browser.Close()
}

type rodSession struct {
	page *rod.Page
	opts Options
	log  *logrus.Entry
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

func (s *rodSession) Reload(ctx context.Context) error {
	page := s.page.Context(ctx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

func (s *rodSession) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	obj, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.New(nil), fmt.Errorf("eval: %w", err)
	}
	return obj.Value, nil
}

func (s *rodSession) WaitSelector(ctx context.Context, selector string, state WaitState) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return findErr(selector, err)
	}
	switch state {
	case Visible:
		err = el.WaitVisible()
	case Enabled:
		err = el.WaitEnabled()
	}
	if err != nil {
		return fmt.Errorf("wait for %s to be %s: %w", selector, state, err)
	}
	return nil
}

func (s *rodSession) WaitIdle(ctx context.Context) error {
	if s.opts.IdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.IdleTimeout)
		defer cancel()
	}
	// Don't hang forever on long-polling connections
	s.page.Context(ctx).WaitRequestIdle(s.opts.IdleWindow, nil, nil, nil)()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for network idle: %w", err)
	}
	return nil
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return findErr(selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *rodSession) Type(ctx context.Context, selector, text string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return findErr(selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

func (s *rodSession) SelectValue(ctx context.Context, selector, value string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return findErr(selector, err)
	}
	option := fmt.Sprintf(`option[value="%s"]`, value)
	if err := el.Select([]string{option}, true, rod.SelectorTypeCSSSector); err != nil {
		return fmt.Errorf("select %q on %s: %w", value, selector, err)
	}
	return nil
}

func (s *rodSession) HTML(ctx context.Context, selector string) (string, error) {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", selector, err)
	}
	if !has {
		return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return el.HTML()
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (s *rodSession) Close() error {
	return s.page.Close()
}

// findErr reports a failed lookup as ErrNotFound only when the element is
// missing; cancellation and closed targets keep their own error
func findErr(selector string, err error) error {
	var missing *rod.ElementNotFoundError
	if errors.As(err, &missing) {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return fmt.Errorf("find %s: %w", selector, err)
}
