// Package browsertest provides an in-memory browser.Engine for tests
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/v0xg/cupos/internal/browser"
	"github.com/ysmood/gson"
)

// Call records one operation performed on a Session
type Call struct {
	Method string
	Target string // selector, url or script
	Value  string
}

func (c Call) String() string {
	if c.Value == "" {
		return c.Method + " " + c.Target
	}
	return c.Method + " " + c.Target + "=" + c.Value
}

// Session is a scripted browser.Session. HTML serves the outer HTML registered
// per selector; unknown selectors yield browser.ErrNotFound.
type Session struct {
	ID int

	mu     sync.Mutex
	pages  map[string]string
	calls  []Call
	closed bool

	// Fail is consulted before every operation; a non-nil result is returned
	Fail func(c Call) error
	// EvalFunc answers Eval, defaults to returning null
	EvalFunc func(js string, args ...any) (gson.JSON, error)
	// OnReload runs after every successful Reload
	OnReload func(s *Session)
	// OnClick runs after every successful Click
	OnClick func(s *Session, selector string)
	// PNG is returned by Screenshot
	PNG []byte
}

// NewSession creates a session serving pages
func NewSession(pages map[string]string) *Session {
	s := &Session{pages: map[string]string{}}
	for k, v := range pages {
		s.pages[k] = v
	}
	return s
}

// SetHTML replaces the HTML served for selector
func (s *Session) SetHTML(selector, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[selector] = html
}

// Calls returns a copy of the recorded operations
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many recorded calls used method
func (s *Session) Count(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) record(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	s.calls = append(s.calls, c)
	fail := s.Fail
	s.mu.Unlock()
	if fail != nil {
		return fail(c)
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.record(ctx, Call{Method: "Navigate", Target: url})
}

func (s *Session) Reload(ctx context.Context) error {
	if err := s.record(ctx, Call{Method: "Reload"}); err != nil {
		return err
	}
	if s.OnReload != nil {
		s.OnReload(s)
	}
	return nil
}

func (s *Session) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	if err := s.record(ctx, Call{Method: "Eval", Target: js, Value: fmt.Sprint(args...)}); err != nil {
		return gson.New(nil), err
	}
	if s.EvalFunc != nil {
		return s.EvalFunc(js, args...)
	}
	return gson.New(nil), nil
}

func (s *Session) WaitSelector(ctx context.Context, selector string, state browser.WaitState) error {
	return s.record(ctx, Call{Method: "Wait", Target: selector, Value: state.String()})
}

func (s *Session) WaitIdle(ctx context.Context) error {
	return s.record(ctx, Call{Method: "WaitIdle"})
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.record(ctx, Call{Method: "Click", Target: selector}); err != nil {
		return err
	}
	if s.OnClick != nil {
		s.OnClick(s, selector)
	}
	return nil
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	return s.record(ctx, Call{Method: "Type", Target: selector, Value: text})
}

func (s *Session) SelectValue(ctx context.Context, selector, value string) error {
	return s.record(ctx, Call{Method: "Select", Target: selector, Value: value})
}

func (s *Session) HTML(ctx context.Context, selector string) (string, error) {
	if err := s.record(ctx, Call{Method: "HTML", Target: selector}); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.pages[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return html, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.record(ctx, Call{Method: "Screenshot"}); err != nil {
		return nil, err
	}
	return s.PNG, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Engine hands out sessions built by New
type Engine struct {
	// New builds the n-th session (zero based)
	New func(n int) *Session

	mu       sync.Mutex
	sessions []*Session
	closed   bool
}

func (e *Engine) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.New(len(e.sessions))
	s.ID = len(e.sessions)
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Sessions returns every session opened so far
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
