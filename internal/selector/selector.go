// Package selector reads search results and course groups from the catalog
// and binds one course and one group.
package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/v0xg/cupos/internal/browser"
	"github.com/v0xg/cupos/internal/catalog"
	"github.com/v0xg/cupos/internal/form"
	"github.com/v0xg/cupos/internal/prompt"
)

var (
	ErrNoResults = errors.New("no results found")
	ErrNoGroups  = errors.New("no groups found")
	// ErrGroupMissing means the bound group is no longer rendered
	ErrGroupMissing = errors.New("group not found on page")
	// ErrCourseMissing means the bound course index is past the results
	ErrCourseMissing = errors.New("course no longer listed")
)

// NoTeacher is shown for groups without an assigned teacher
const NoTeacher = "Not informed"

// SearchResult is one row of the search results. RowID changes on every
// page load; Index is what identifies the course across reloads.
type SearchResult struct {
	RowID string
	Index int
	Code  string
	Name  string
}

// Group is one section of a course. Number is its 1-based position on the page.
type Group struct {
	Number  int
	Teacher string
	Seats   int
}

// Selector binds a course and a group on one session
type Selector struct {
	session  browser.Session
	prompter prompt.Prompter
	out      io.Writer
	log      *logrus.Entry
}

func New(session browser.Session, p prompt.Prompter, out io.Writer, log *logrus.Entry) *Selector {
	return &Selector{session: session, prompter: p, out: out, log: log}
}

// Course reads the results table and opens one course. A previously bound
// course is picked again by index without asking.
func (s *Selector) Course(ctx context.Context, bound *SearchResult) (SearchResult, error) {
	html, err := s.session.HTML(ctx, catalog.Selector(catalog.ResultsTable))
	if err != nil {
		return SearchResult{}, &form.FormError{Reason: ErrNoResults.Error(), Err: err}
	}
	results, err := ParseResults(html)
	if err != nil {
		return SearchResult{}, &form.FormError{Reason: ErrNoResults.Error(), Err: err}
	}

	var course SearchResult
	switch {
	case bound != nil:
		if bound.Index >= len(results) {
			return SearchResult{}, fmt.Errorf("%w: index %d of %d", ErrCourseMissing, bound.Index, len(results))
		}
		course = results[bound.Index]
	case len(results) == 1:
		course = results[0]
	default:
		fmt.Fprintln(s.out, "These are the search results:")
		for _, r := range results {
			fmt.Fprintf(s.out, "\t[%d] - %s %s\n", r.Index, r.Code, r.Name)
		}
		i, err := prompt.Int(ctx, s.prompter, fmt.Sprintf("Select a course [0-%d]: ", len(results)-1), 0, len(results)-1)
		if err != nil {
			return SearchResult{}, err
		}
		course = results[i]
	}

	s.log.WithFields(logrus.Fields{"code": course.Code, "index": course.Index}).Debug("opening course")
	if err := s.session.Click(ctx, catalog.RowSelector(course.RowID)); err != nil {
		return SearchResult{}, err
	}
	return course, nil
}

// Group waits for the group listing and binds one group. A previously bound
// group is kept as is.
func (s *Selector) Group(ctx context.Context, bound *Group) (Group, error) {
	if err := s.session.WaitIdle(ctx); err != nil {
		return Group{}, err
	}
	if bound != nil {
		return *bound, nil
	}

	html, err := s.session.HTML(ctx, "body")
	if err != nil {
		return Group{}, err
	}
	groups, err := ParseGroups(html)
	if err != nil {
		return Group{}, err
	}
	if len(groups) == 0 {
		return Group{}, &form.FormError{Reason: ErrNoGroups.Error(), Err: ErrNoGroups}
	}
	if len(groups) == 1 {
		return groups[0], nil
	}

	fmt.Fprintln(s.out, "These are the groups found:")
	for _, g := range groups {
		fmt.Fprintf(s.out, "\t[%d] - %s - Seats: %d\n", g.Number, g.Teacher, g.Seats)
	}
	n, err := prompt.Int(ctx, s.prompter, fmt.Sprintf("Select a group [1-%d]: ", len(groups)), 1, len(groups))
	if err != nil {
		return Group{}, err
	}
	return groups[n-1], nil
}

// Lookup reads the current state of group number from the loaded course page
func (s *Selector) Lookup(ctx context.Context, number int) (Group, error) {
	html, err := s.session.HTML(ctx, "body")
	if err != nil {
		return Group{}, err
	}
	return FindGroup(html, number)
}

// ParseResults extracts the rows of the results table
func ParseResults(html string) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}

	rows := doc.Find("table").First().Find("tbody").Last().ChildrenFiltered("tr")
	if rows.Length() == 0 {
		return nil, ErrNoResults
	}

	results := make([]SearchResult, 0, rows.Length())
	var parseErr error
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		cols := row.ChildrenFiltered("td")
		link := cols.Eq(0).Find("a").First()
		id, ok := link.Attr("id")
		if !ok {
			parseErr = fmt.Errorf("row %d: missing course link", i)
			return false
		}
		results = append(results, SearchResult{
			RowID: id,
			Index: i,
			Code:  strings.TrimSpace(link.Text()),
			Name:  strings.TrimSpace(cols.Eq(1).Find("[title]").First().Text()),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return results, nil
}

// ParseGroups extracts every group block of a course page, in page order
func ParseGroups(html string) ([]Group, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse groups: %w", err)
	}

	var groups []Group
	var parseErr error
	doc.Find(suffix(catalog.GroupBlockSuffix)).EachWithBreak(func(i int, block *goquery.Selection) bool {
		g, err := parseGroup(block, i+1)
		if err != nil {
			parseErr = err
			return false
		}
		groups = append(groups, g)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return groups, nil
}

// FindGroup extracts group number from a course page. Groups are matched by
// position; the listing is assumed to keep its order across reloads.
func FindGroup(html string, number int) (Group, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Group{}, fmt.Errorf("parse groups: %w", err)
	}
	block := doc.Find(suffix(fmt.Sprintf(":%d:%s", number-1, catalog.GroupBlockSuffix))).First()
	if block.Length() == 0 {
		return Group{}, fmt.Errorf("%w: %d", ErrGroupMissing, number)
	}
	return parseGroup(block, number)
}

func parseGroup(block *goquery.Selection, number int) (Group, error) {
	teacher := NoTeacher
	if t := block.Find(suffix(catalog.GroupTeacherSuffix)).First(); t.Length() > 0 {
		teacher = strings.TrimSpace(t.Text())
	}

	seatsText := strings.TrimSpace(block.Find(suffix(catalog.GroupSeatsSuffix)).First().Text())
	seats, err := strconv.Atoi(seatsText)
	if err != nil {
		return Group{}, fmt.Errorf("group %d: seats %q: %w", number, seatsText, err)
	}
	return Group{Number: number, Teacher: teacher, Seats: seats}, nil
}

func suffix(s string) string {
	return fmt.Sprintf(`[id$="%s"]`, s)
}
