// Package browser defines the browser capabilities the tracker consumes and
// provides a go-rod backed implementation of them.
package browser

import (
	"context"
	"errors"

	"github.com/ysmood/gson"
)

// ErrNotFound is returned when a selector matches nothing on the current page
var ErrNotFound = errors.New("element not found")

// WaitState is the condition WaitSelector blocks on
type WaitState int

const (
	// Attached waits until an element matches the selector
	Attached WaitState = iota
	// Visible waits until the matching element is visible
	Visible
	// Enabled waits until the matching element is enabled
	Enabled
)

func (s WaitState) String() string {
	switch s {
	case Visible:
		return "visible"
	case Enabled:
		return "enabled"
	default:
		return "attached"
	}
}

// Session is one browser tab. A session is owned by a single tracker and is
// never used from more than one goroutine at a time.
type Session interface {
	// Navigate loads url and waits for the load event
	Navigate(ctx context.Context, url string) error
	// Reload reloads the current page and waits for the load event
	Reload(ctx context.Context) error
	// Eval runs a JavaScript function expression in the page and returns its
	// result. Returned promises are awaited.
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	// WaitSelector blocks until selector reaches state
	WaitSelector(ctx context.Context, selector string, state WaitState) error
	// WaitIdle blocks until network activity settles
	WaitIdle(ctx context.Context) error
	Click(ctx context.Context, selector string) error
	// Type enters text into the matching input
	Type(ctx context.Context, selector, text string) error
	// SelectValue picks the option with the given value on a <select>
	SelectValue(ctx context.Context, selector, value string) error
	// HTML returns the outer HTML of the first match, or ErrNotFound
	HTML(ctx context.Context, selector string) (string, error)
	// Screenshot captures the viewport as PNG
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Engine opens sessions on a shared browser
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}
