// Package orchestrator sets up trackers one after another on the console,
// then runs all of them concurrently next to a periodic status report.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/v0xg/cupos/internal/prompt"
	"github.com/v0xg/cupos/internal/tracker"
	"golang.org/x/sync/errgroup"
)

// Tracker is the part of *tracker.Tracker the orchestrator drives
type Tracker interface {
	Init(ctx context.Context) error
	Track(ctx context.Context, interval time.Duration) error
	Status() tracker.Status
	Close() error
}

// Factory creates a fresh, uninitialized Tracker
type Factory func() Tracker

// Options tunes an Orchestrator
type Options struct {
	// Interval skips the interval prompt when set; it is still range checked
	Interval    time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
	StatusEvery time.Duration
	// Sleep waits for d or until ctx is done; defaults to a timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator owns every Tracker of a run
type Orchestrator struct {
	newTracker Factory
	prompter   prompt.Prompter
	out        io.Writer
	log        *logrus.Entry
	opts       Options

	mu       sync.Mutex
	trackers []Tracker
}

var (
	stateColors = map[tracker.State]*color.Color{
		tracker.Initializing: color.New(color.FgRed),
		tracker.Idle:         color.New(color.FgYellow),
		tracker.Tracking:     color.New(color.FgGreen),
	}
	bold = color.New(color.Bold)
)

// New creates an Orchestrator with no trackers
func New(newTracker Factory, p prompt.Prompter, out io.Writer, log *logrus.Entry, opts Options) *Orchestrator {
	if opts.MinInterval < tracker.DefaultMinInterval {
		opts.MinInterval = tracker.DefaultMinInterval
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 180 * time.Second
	}
	if opts.StatusEvery == 0 {
		opts.StatusEvery = 30 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		newTracker: newTracker,
		prompter:   p,
		out:        out,
		log:        log,
		opts:       opts,
	}
}

// Setup initializes trackers until the operator declines to add another
func (o *Orchestrator) Setup(ctx context.Context) error {
	for {
		t := o.newTracker()
		o.mu.Lock()
		o.trackers = append(o.trackers, t)
		o.mu.Unlock()

		if err := t.Init(ctx); err != nil {
			return err
		}

		st := t.Status()
		fmt.Fprintf(o.out, "Tracker for %s with %s initialized\n", st.Course.Name, st.Group.Teacher)
		fmt.Fprintln(o.out, "Courses tracked so far:")
		for i, tr := range o.Trackers() {
			st := tr.Status()
			fmt.Fprintf(o.out, "\t%d - %s - %s - Seats: %d\n", i, st.Course.Name, st.Group.Teacher, st.Group.Seats)
		}
		o.log.WithField("trackers", len(o.Trackers())).Debug("tracker ready")

		more, err := prompt.YesNo(ctx, o.prompter, "Track another course? [y/N]: ")
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// AskInterval returns the configured interval or asks for one in seconds
func (o *Orchestrator) AskInterval(ctx context.Context) (time.Duration, error) {
	if o.opts.Interval != 0 {
		if o.opts.Interval < o.opts.MinInterval || o.opts.Interval > o.opts.MaxInterval {
			return 0, fmt.Errorf("interval %s not in [%s, %s]", o.opts.Interval, o.opts.MinInterval, o.opts.MaxInterval)
		}
		return o.opts.Interval, nil
	}

	lo, hi := int(o.opts.MinInterval/time.Second), int(o.opts.MaxInterval/time.Second)
	q := fmt.Sprintf("How often, in seconds, should seats be checked? [%d - %d]: ", lo, hi)
	n, err := prompt.Int(ctx, o.prompter, q, lo, hi)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// Run tracks with every tracker and prints the status report until ctx is
// done. Cancellation is a clean stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	trackers := o.Trackers()
	o.log.WithFields(logrus.Fields{"trackers": len(trackers), "interval": interval}).Info("starting")

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range trackers {
		t := t
		g.Go(func() error {
			return t.Track(gctx, interval)
		})
	}
	g.Go(func() error {
		for {
			o.RenderStatus(o.out)
			if err := o.opts.Sleep(gctx, o.opts.StatusEvery); err != nil {
				return err
			}
		}
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// RenderStatus prints one line per tracker
func (o *Orchestrator) RenderStatus(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 50))
	bold.Fprintln(w, "Course status:")
	for i, t := range o.Trackers() {
		st := t.Status()
		course, teacher, seats := "-", "-", "-"
		if st.Course != nil {
			course = st.Course.Name
		}
		if st.Group != nil {
			teacher = st.Group.Teacher
			seats = fmt.Sprint(st.Group.Seats)
		}
		label := st.State.String()
		if c, ok := stateColors[st.State]; ok {
			label = c.Sprint(label)
		}
		fmt.Fprintf(w, "\t%d - %s - %s - Seats: %s - Tracker: %s\n", i, course, teacher, seats, label)
	}
}

// Trackers returns the trackers created so far
func (o *Orchestrator) Trackers() []Tracker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Tracker(nil), o.trackers...)
}

// Close closes every tracker and returns the first error
func (o *Orchestrator) Close() error {
	var first error
	for _, t := range o.Trackers() {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
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
