// Package tracker follows the seat count of one course group.
//
// A Tracker owns one browser session and moves through three states:
//
//	Initializing → Idle → Tracking
//
// Initializing fills the search form and binds a course and a group, retrying
// on a fresh session until it succeeds. Idle reloads the page now and then so
// the remote session does not expire while other trackers are configured.
// Tracking refreshes the page on an interval and notifies whenever the seat
// count changes; a failed refresh drops back to Initializing, which reuses
// the bound course and group, and tracking resumes.
package tracker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/v0xg/cupos/internal/browser"
	"github.com/v0xg/cupos/internal/form"
	"github.com/v0xg/cupos/internal/notify"
	"github.com/v0xg/cupos/internal/prompt"
	"github.com/v0xg/cupos/internal/selector"
	"github.com/v0xg/cupos/internal/snapshot"
)

// State is the lifecycle state of a Tracker
type State int

const (
	Initializing State = iota
	Idle
	Tracking
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Idle:
		return "Ready"
	case Tracking:
		return "Tracking"
	default:
		return ""
	}
}

// Defaults for Options
const (
	DefaultRetryDelay  = 3 * time.Second
	DefaultKeepAlive   = 60 * time.Second
	DefaultMinInterval = 30 * time.Second
)

// Options tunes a Tracker
type Options struct {
	SearchURL   string
	RetryDelay  time.Duration // wait before retrying after a non-form error
	KeepAlive   time.Duration // reload cadence while idle
	MinInterval time.Duration // floor for the tracking interval, at least DefaultMinInterval
}

// Deps are the collaborators shared by every tracker
type Deps struct {
	Engine    browser.Engine
	Prompter  prompt.Prompter
	Notifier  notify.Notifier
	Out       io.Writer
	Log       *logrus.Entry
	Snapshots *snapshot.Writer // optional
	// Sleep waits for d or until ctx is done; defaults to a timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Status is a point-in-time view of a Tracker
type Status struct {
	ID     string
	State  State
	Course *selector.SearchResult
	Group  *selector.Group
}

// Tracker follows one course group. Init and Track must not run concurrently;
// Status may be called from any goroutine.
type Tracker struct {
	id   string
	deps Deps
	opts Options
	log  *logrus.Entry
	out  *gatedWriter

	session browser.Session
	form    form.State

	mu     sync.RWMutex
	state  State
	course *selector.SearchResult
	group  *selector.Group

	idleCancel context.CancelFunc
	idleDone   chan struct{}
}

// New creates a Tracker in the Initializing state
func New(deps Deps, opts Options) *Tracker {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	// The floor can be raised but never lowered
	if opts.MinInterval < DefaultMinInterval {
		opts.MinInterval = DefaultMinInterval
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}

	id := uuid.NewString()[:8]
	return &Tracker{
		id:   id,
		deps: deps,
		opts: opts,
		log:  deps.Log.WithField("tracker", id),
		out:  &gatedWriter{w: deps.Out},
		form: form.State{Answers: form.Answers{}},
	}
}

// ID identifies the tracker in logs
func (t *Tracker) ID() string { return t.id }

// Status returns the current state and bindings
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := Status{ID: t.id, State: t.state}
	if t.course != nil {
		c := *t.course
		st.Course = &c
	}
	if t.group != nil {
		g := *t.group
		st.Group = &g
	}
	return st
}

// Init runs the form until a course and group are bound, then leaves the
// tracker Idle. From then on the tracker no longer writes to the console.
// It returns only on success or when ctx is done.
func (t *Tracker) Init(ctx context.Context) error {
	if err := t.initialize(ctx); err != nil {
		return err
	}
	t.enterIdle(ctx)
	return nil
}

// Track follows the bound group until ctx is done, checking at most once
// per interval. Intervals below the configured floor are raised to it.
func (t *Tracker) Track(ctx context.Context, interval time.Duration) error {
	t.leaveIdle()
	interval = EffectiveInterval(interval, t.opts.MinInterval)

	g := t.Status().Group
	if g == nil {
		return fmt.Errorf("tracker %s: no group bound", t.id)
	}
	last := g.Seats
	t.setState(Tracking)
	t.log.WithField("interval", interval).Info("tracking started")

	for {
		if err := t.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.WithError(err).Warn("refresh failed, reinitializing")
			t.setState(Initializing)
			if err := t.initialize(ctx); err != nil {
				return err
			}
			t.setState(Tracking)
		}

		st := t.Status()
		if st.Group.Seats != last {
			t.announce(st.Course, st.Group)
			last = st.Group.Seats
		}

		if err := t.deps.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Close stops the keep-alive loop and closes the session
func (t *Tracker) Close() error {
	t.leaveIdle()
	return t.closeSession()
}

// EffectiveInterval clamps interval to floor
func EffectiveInterval(interval, floor time.Duration) time.Duration {
	if interval < floor {
		return floor
	}
	return interval
}

func (t *Tracker) initialize(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := t.attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fmt.Fprintf(t.out, "%v\nRestarting...\n", err)
		t.log.WithError(err).WithField("form_error", form.IsFormError(err)).Info("initialization failed")
		t.capture(ctx)
		t.closeSession()

		t.mu.Lock()
		bound := t.group != nil
		t.mu.Unlock()

		// Once a group is bound the console is muted and nobody is asked
		// again, so form errors are retried like any other
		if form.IsFormError(err) && !bound {
			// The operator has to answer everything again
			t.form.Reset()
			t.mu.Lock()
			t.course = nil
			t.mu.Unlock()
			continue
		}
		if err := t.deps.Sleep(ctx, t.opts.RetryDelay); err != nil {
			return err
		}
	}
}

// attempt runs the form and the selection once on the current session
func (t *Tracker) attempt(ctx context.Context) error {
	if t.session == nil {
		s, err := t.deps.Engine.NewSession(ctx)
		if err != nil {
			return err
		}
		t.session = s
	}

	nav := form.NewNavigator(t.session, t.deps.Prompter, t.out, t.opts.SearchURL, t.log)
	if err := nav.Search(ctx, &t.form); err != nil {
		return err
	}

	t.mu.RLock()
	boundCourse, boundGroup := t.course, t.group
	t.mu.RUnlock()

	sel := selector.New(t.session, t.deps.Prompter, t.out, t.log)
	course, err := sel.Course(ctx, boundCourse)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.course = &course
	t.mu.Unlock()

	group, err := sel.Group(ctx, boundGroup)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.group = &group
	t.mu.Unlock()
	return nil
}

// refresh reloads the course page and re-reads the bound group
func (t *Tracker) refresh(ctx context.Context) error {
	if t.session == nil {
		return fmt.Errorf("no session")
	}
	if err := t.session.WaitIdle(ctx); err != nil {
		return err
	}
	if err := t.session.Reload(ctx); err != nil {
		return err
	}

	number := t.Status().Group.Number
	g, err := selector.New(t.session, t.deps.Prompter, t.out, t.log).Lookup(ctx, number)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.group = &g
	t.mu.Unlock()
	t.log.WithFields(logrus.Fields{"group": g.Number, "seats": g.Seats}).Debug("refreshed")
	return nil
}

func (t *Tracker) announce(course *selector.SearchResult, g *selector.Group) {
	message := fmt.Sprintf("Now there are %d seats available in group %d with %s!", g.Seats, g.Number, g.Teacher)
	if err := t.deps.Notifier.Notify(course.Name, message); err != nil {
		t.log.WithError(err).Warn("notification failed")
	}
	t.log.WithFields(logrus.Fields{"course": course.Name, "group": g.Number, "seats": g.Seats}).Info("seats changed")
}

// enterIdle silences the console for good and keeps the session alive until
// leaveIdle is called
func (t *Tracker) enterIdle(ctx context.Context) {
	t.out.silence()
	t.setState(Idle)

	idleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.idleCancel, t.idleDone = cancel, done
	session := t.session

	go func() {
		defer close(done)
		for {
			if err := session.Reload(idleCtx); err != nil && idleCtx.Err() == nil {
				t.log.WithError(err).Warn("keep-alive reload failed")
			}
			if err := t.deps.Sleep(idleCtx, t.opts.KeepAlive); err != nil {
				return
			}
		}
	}()
}

func (t *Tracker) leaveIdle() {
	if t.idleCancel == nil {
		return
	}
	t.idleCancel()
	<-t.idleDone
	t.idleCancel, t.idleDone = nil, nil
}

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tracker) capture(ctx context.Context) {
	if t.deps.Snapshots == nil || t.session == nil {
		return
	}
	path, err := t.deps.Snapshots.Capture(ctx, t.session, "tracker-"+t.id)
	if err != nil {
		t.log.WithError(err).Debug("snapshot failed")
		return
	}
	t.log.WithField("path", path).Info("saved snapshot")
}

func (t *Tracker) closeSession() error {
	if t.session == nil {
		return nil
	}
	err := t.session.Close()
	t.session = nil
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// gatedWriter forwards writes until silenced; silencing is permanent
type gatedWriter struct {
	w     io.Writer
	muted atomic.Bool
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	if g.muted.Load() {
		return len(p), nil
	}
	return g.w.Write(p)
}

func (g *gatedWriter) silence() { g.muted.Store(true) }
