// Package form drives the cascading search form of the course catalog until
// search results are visible.
package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/v0xg/cupos/internal/browser"
	"github.com/v0xg/cupos/internal/catalog"
	"github.com/v0xg/cupos/internal/prompt"
)

var (
	// ErrPageNotLoaded means the catalog rendered its degenerate layout
	ErrPageNotLoaded = errors.New("the page did not load correctly")
	// ErrNoOptions means a dropdown had no selectable option
	ErrNoOptions = errors.New("dropdown has no options")
)

// FormError marks a form state that cannot yield a course, e.g. a search
// without results. Recovering from it requires answering the form again.
type FormError struct {
	Reason string
	Err    error
}

func (e *FormError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *FormError) Unwrap() error { return e.Err }

// IsFormError reports whether err is, or wraps, a *FormError
func IsFormError(err error) bool {
	var fe *FormError
	return errors.As(err, &fe)
}

// Answers maps each answered dropdown to the chosen option value
type Answers map[catalog.FieldID]string

// State is what the operator has answered so far for one tracker
type State struct {
	Answers Answers
	Query   string
}

// Reset forgets every answer and the search term
func (s *State) Reset() {
	s.Answers = Answers{}
	s.Query = ""
}

// Option is one choice of a dropdown
type Option struct {
	Value string
	Label string
}

// NoneLabel replaces empty option labels
const NoneLabel = "None"

// Scripts evaluated in the page
const (
	// LayoutProbeScript returns the client height of the layout marker, -1 when absent
	LayoutProbeScript = `(sel) => {
		const el = document.querySelector(sel);
		return el ? el.clientHeight : -1;
	}`

	// armWatchScript starts observing the container of a dropdown for re-rendered children
	armWatchScript = `(id) => {
		const target = document.getElementById(id)?.parentNode;
		if (!target) throw new Error("missing dropdown " + id);
		window.__cuposWatch = window.__cuposWatch || {};
		window.__cuposWatch[id] = new Promise((resolve) => {
			new MutationObserver((records, obs) => {
				if (records.length > 0) {
					obs.disconnect();
					resolve(true);
				}
			}).observe(target, { childList: true });
		});
		return true;
	}`

	// awaitWatchScript resolves once the armed observer saw a change
	awaitWatchScript = `(id) => {
		const watch = window.__cuposWatch && window.__cuposWatch[id];
		if (!watch) throw new Error("no watch armed for " + id);
		delete window.__cuposWatch[id];
		return watch;
	}`
)

// Navigator fills the search form on one session
type Navigator struct {
	session  browser.Session
	prompter prompt.Prompter
	out      io.Writer
	url      string
	log      *logrus.Entry
}

// NewNavigator creates a Navigator. Progress is written to out.
func NewNavigator(session browser.Session, p prompt.Prompter, out io.Writer, url string, log *logrus.Entry) *Navigator {
	if url == "" {
		url = catalog.SearchURL
	}
	return &Navigator{session: session, prompter: p, out: out, url: url, log: log}
}

// Search loads the form, answers every dropdown, submits the search term and
// waits for the results panel. Answers already present in st are reused
// without asking; new answers are stored in st as soon as they are chosen.
func (n *Navigator) Search(ctx context.Context, st *State) error {
	if st.Answers == nil {
		st.Answers = Answers{}
	}

	fmt.Fprint(n.out, "→ Loading the catalog... ")
	if err := n.session.Navigate(ctx, n.url); err != nil {
		fmt.Fprintln(n.out, "failed")
		return err
	}
	fmt.Fprintln(n.out, "done")

	if err := n.checkLayout(ctx); err != nil {
		return err
	}

	fmt.Fprintln(n.out, "→ Filling the search form...")
	for _, step := range catalog.Sequence {
		if err := n.fill(ctx, st, step.Field, step.Prompt, step.Next, step.SkipWait); err != nil {
			return err
		}
	}

	if st.Answers[catalog.Category] == catalog.FreeElectiveCategory {
		if err := n.fillElective(ctx, st); err != nil {
			return err
		}
	}

	return n.submit(ctx, st)
}

func (n *Navigator) checkLayout(ctx context.Context) error {
	height, err := n.session.Eval(ctx, LayoutProbeScript, catalog.Selector(catalog.LayoutMarker))
	if err != nil {
		return fmt.Errorf("probe layout: %w", err)
	}
	if height.Int() == 1 {
		return ErrPageNotLoaded
	}
	return nil
}

// fill answers one dropdown. When next is set, the options of next are watched
// across the change and fill returns only after they were re-rendered, unless
// skipWait holds for the chosen value.
func (n *Navigator) fill(ctx context.Context, st *State, field catalog.FieldID, question string, next catalog.FieldID, skipWait func(string) bool) error {
	value, ok := st.Answers[field]
	if !ok {
		options, err := n.Options(ctx, field)
		if err != nil {
			return err
		}
		value, err = n.choose(ctx, question, options)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		st.Answers[field] = value
	}
	if skipWait != nil && skipWait(value) {
		next = ""
	}

	n.log.WithFields(logrus.Fields{"field": string(field), "value": value}).Debug("selecting option")

	if next != "" {
		if _, err := n.session.Eval(ctx, armWatchScript, catalog.Container(next)); err != nil {
			return fmt.Errorf("watch %s: %w", next, err)
		}
	}

	sel := catalog.Selector(field)
	if err := n.session.Click(ctx, sel); err != nil {
		return err
	}
	if err := n.session.SelectValue(ctx, sel, value); err != nil {
		return err
	}

	if next != "" {
		if _, err := n.session.Eval(ctx, awaitWatchScript, catalog.Container(next)); err != nil {
			return fmt.Errorf("wait for %s to reload: %w", next, err)
		}
	}
	return nil
}

// fillElective answers the nested dropdowns of a free-elective search
func (n *Navigator) fillElective(ctx context.Context, st *State) error {
	if err := n.session.WaitSelector(ctx, catalog.Selector(catalog.ElectivePanel), browser.Visible); err != nil {
		return err
	}
	if err := n.fill(ctx, st, catalog.ElectiveReason, catalog.ElectiveReasonPrompt, "", nil); err != nil {
		return err
	}

	if st.Answers[catalog.ElectiveReason] == catalog.ElectiveByFaculty {
		if err := n.session.WaitSelector(ctx, catalog.Selector(catalog.ElectiveCenterPanel), browser.Visible); err != nil {
			return err
		}
		if err := n.fill(ctx, st, catalog.ElectiveCampus, catalog.ElectiveCampusPrompt, catalog.ElectiveFaculty, nil); err != nil {
			return err
		}
		if err := n.fill(ctx, st, catalog.ElectiveFaculty, catalog.ElectiveFacultyPrompt, "", nil); err != nil {
			return err
		}
	}

	if err := n.session.WaitSelector(ctx, catalog.Selector(catalog.ElectiveProgram), browser.Enabled); err != nil {
		return err
	}
	return n.fill(ctx, st, catalog.ElectiveProgram, catalog.ElectiveProgramPrompt, "", nil)
}

func (n *Navigator) submit(ctx context.Context, st *State) error {
	if st.Query == "" {
		query, err := n.prompter.Ask(ctx, "Enter the search term: ")
		if err != nil {
			return err
		}
		st.Query = strings.TrimSpace(query)
	}

	if err := n.session.Type(ctx, catalog.Selector(catalog.SearchText), st.Query); err != nil {
		return err
	}
	if err := n.session.WaitSelector(ctx, catalog.EnabledSelector(catalog.Submit), browser.Attached); err != nil {
		return err
	}
	if err := n.session.Click(ctx, catalog.Selector(catalog.Submit)); err != nil {
		return err
	}

	fmt.Fprint(n.out, "→ Searching... ")
	if err := n.session.WaitSelector(ctx, catalog.Selector(catalog.ResultsPanel), browser.Visible); err != nil {
		fmt.Fprintln(n.out, "failed")
		return err
	}
	fmt.Fprintln(n.out, "done")
	return nil
}

// Options returns the non-empty options currently offered by a dropdown
func (n *Navigator) Options(ctx context.Context, field catalog.FieldID) ([]Option, error) {
	html, err := n.session.HTML(ctx, catalog.Selector(field))
	if err != nil {
		return nil, err
	}
	return ParseOptions(html)
}

// ParseOptions extracts the options of a <select> element, skipping the
// empty placeholder option
func ParseOptions(html string) ([]Option, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dropdown: %w", err)
	}

	var options []Option
	doc.Find("option").Each(func(_ int, s *goquery.Selection) {
		value, _ := s.Attr("value")
		if value == "" {
			return
		}
		label := strings.TrimSpace(s.Text())
		if label == "" {
			label = NoneLabel
		}
		options = append(options, Option{Value: value, Label: label})
	})
	return options, nil
}

// choose picks the sole option or asks the operator to pick one
func (n *Navigator) choose(ctx context.Context, question string, options []Option) (string, error) {
	switch len(options) {
	case 0:
		return "", ErrNoOptions
	case 1:
		return options[0].Value, nil
	}

	fmt.Fprintln(n.out, question)
	for i, opt := range options {
		fmt.Fprintf(n.out, "\t[%d] - %s\n", i, opt.Label)
	}
	i, err := prompt.Int(ctx, n.prompter, fmt.Sprintf("Select an option [0-%d]: ", len(options)-1), 0, len(options)-1)
	if err != nil {
		return "", err
	}
	return options[i].Value, nil
}
