// Package notify surfaces seat changes to the operator
package notify

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
)

// Notifier shows a titled message to the operator
type Notifier interface {
	Notify(title, message string) error
}

// Platform selects how notifications are delivered and how the browser is launched
type Platform string

const (
	Desktop Platform = "desktop"
	Termux  Platform = "termux"
)

// Platforms lists the choices of the startup menu, in menu order
var Platforms = []struct {
	Platform Platform
	Label    string
}{
	{Desktop, "Desktop (Windows, Linux, macOS, etc...)"},
	{Termux, "Android (Termux)"},
}

// ParsePlatform accepts a platform name or its menu index
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "desktop":
		return Desktop, nil
	case "1", "termux", "android":
		return Termux, nil
	}
	return "", fmt.Errorf("unknown platform: %q (supported: desktop, termux)", s)
}

// For returns the notifier used on p
func For(p Platform) (Notifier, error) {
	switch p {
	case Desktop:
		return DesktopNotifier{}, nil
	case Termux:
		return TermuxNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown platform: %q", p)
	}
}

// DesktopNotifier shows a desktop notification banner
type DesktopNotifier struct{}

func (DesktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// TermuxNotifier posts an Android notification through the Termux:API command
type TermuxNotifier struct {
	// Command defaults to termux-notification
	Command string
}

func (n TermuxNotifier) Notify(title, message string) error {
	cmd := n.Command
	if cmd == "" {
		cmd = "termux-notification"
	}
	out, err := exec.Command(cmd, "-t", title, "-c", message).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", cmd, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Message is one delivered notification
type Message struct {
	Title   string
	Message string
}

// Recorder keeps every notification in memory, for tests
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

func (r *Recorder) Notify(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{Title: title, Message: message})
	return nil
}

// Sent returns the notifications delivered so far
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}
