package selector

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/cupos/internal/browser/browsertest"
	"github.com/v0xg/cupos/internal/catalog"
	"github.com/v0xg/cupos/internal/form"
	"github.com/v0xg/cupos/internal/prompt"
)

type row struct{ code, name string }

// resultsHTML renders the results table; session varies the row ids the way
// the catalog regenerates them on every load
func resultsHTML(session string, rows ...row) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div id="%s"><table><colgroup><col/></colgroup><tbody>`, catalog.ResultsTable)
	for i, r := range rows {
		fmt.Fprintf(&b, `<tr><td><a id="pt1:r1:%s:t4:%d:cl1" href="#">%s</a></td><td><span title="%s">%s</span></td></tr>`,
			session, i, r.code, r.name, r.name)
	}
	b.WriteString(`</tbody></table></div>`)
	return b.String()
}

type group struct {
	teacher string // empty renders no teacher span
	seats   string
}

func groupsHTML(groups ...group) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="pt1:r1:1:pgl3">`)
	for i, g := range groups {
		fmt.Fprintf(&b, `<div id="pt1:r1:1:i1:%d:pgl7">`, i)
		if g.teacher != "" {
			fmt.Fprintf(&b, `<span id="pt1:r1:1:i1:%d:ot8"> %s </span>`, i, g.teacher)
		}
		fmt.Fprintf(&b, `<span id="pt1:r1:1:i1:%d:ot24">%s</span></div>`, i, g.seats)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

var calculus = []row{{"1000004", "Calculo diferencial"}, {"1000005", "Calculo integral"}}

func TestParseResults(t *testing.T) {
	results, err := ParseResults(resultsHTML("0", calculus...))
	require.NoError(t, err)
	assert.Equal(t, []SearchResult{
		{RowID: "pt1:r1:0:t4:0:cl1", Index: 0, Code: "1000004", Name: "Calculo diferencial"},
		{RowID: "pt1:r1:0:t4:1:cl1", Index: 1, Code: "1000005", Name: "Calculo integral"},
	}, results)
}

func TestParseResultsEmpty(t *testing.T) {
	_, err := ParseResults(resultsHTML("0"))
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = ParseResults(`<div></div>`)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestParseResultsMalformedRow(t *testing.T) {
	_, err := ParseResults(`<table><tbody><tr><td>no link</td><td></td></tr></tbody></table>`)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoResults)
}

func TestCourseSelectsByPrompt(t *testing.T) {
	s := browsertest.NewSession(map[string]string{
		catalog.Selector(catalog.ResultsTable): resultsHTML("0", calculus...),
	})
	p := prompt.NewScript("0")

	course, err := New(s, p, io.Discard, testLog()).Course(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Calculo diferencial", course.Name)
	assert.Equal(t, []string{"Select a course [0-1]: "}, p.Asked())
	assert.Equal(t, 1, s.Count("Click"))
	assert.Equal(t, catalog.RowSelector("pt1:r1:0:t4:0:cl1"), s.Calls()[1].Target)
}

func TestCourseRejectsOutOfRange(t *testing.T) {
	s := browsertest.NewSession(map[string]string{
		catalog.Selector(catalog.ResultsTable): resultsHTML("0", calculus...),
	})
	p := prompt.NewScript("5", "1")

	course, err := New(s, p, io.Discard, testLog()).Course(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, course.Index)
	assert.Len(t, p.Asked(), 2)
}

func TestCourseReselectsByIndexDespiteNewRowIDs(t *testing.T) {
	bound := &SearchResult{RowID: "pt1:r1:0:t4:1:cl1", Index: 1, Code: "1000005", Name: "Calculo integral"}
	s := browsertest.NewSession(map[string]string{
		catalog.Selector(catalog.ResultsTable): resultsHTML("7", calculus...),
	})
	p := prompt.NewScript()

	course, err := New(s, p, io.Discard, testLog()).Course(context.Background(), bound)
	require.NoError(t, err)
	assert.Empty(t, p.Asked())
	assert.Equal(t, 1, course.Index)
	assert.Equal(t, "pt1:r1:7:t4:1:cl1", course.RowID)
	assert.Equal(t, catalog.RowSelector("pt1:r1:7:t4:1:cl1"), s.Calls()[1].Target)
}

func TestCourseBoundIndexMissing(t *testing.T) {
	s := browsertest.NewSession(map[string]string{
		catalog.Selector(catalog.ResultsTable): resultsHTML("0", calculus[0]),
	})
	_, err := New(s, prompt.NewScript(), io.Discard, testLog()).Course(context.Background(), &SearchResult{Index: 1})
	assert.ErrorIs(t, err, ErrCourseMissing)
	assert.False(t, form.IsFormError(err))
}

func TestCourseSingleResultIsAutomatic(t *testing.T) {
	s := browsertest.NewSession(map[string]string{
		catalog.Selector(catalog.ResultsTable): resultsHTML("0", calculus[0]),
	})
	p := prompt.NewScript()
	course, err := New(s, p, io.Discard, testLog()).Course(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "1000004", course.Code)
	assert.Empty(t, p.Asked())
}

func TestCourseWithoutResultsIsFormError(t *testing.T) {
	for name, pages := range map[string]map[string]string{
		"missing table": {},
		"empty table":   {catalog.Selector(catalog.ResultsTable): resultsHTML("0")},
	} {
		s := browsertest.NewSession(pages)
		_, err := New(s, prompt.NewScript(), io.Discard, testLog()).Course(context.Background(), nil)
		assert.True(t, form.IsFormError(err), name)
	}
}

func TestParseGroups(t *testing.T) {
	groups, err := ParseGroups(groupsHTML(group{"ANA PEREZ", "10"}, group{"", "0"}))
	require.NoError(t, err)
	assert.Equal(t, []Group{
		{Number: 1, Teacher: "ANA PEREZ", Seats: 10},
		{Number: 2, Teacher: NoTeacher, Seats: 0},
	}, groups)
}

func TestParseGroupsBadSeats(t *testing.T) {
	_, err := ParseGroups(groupsHTML(group{"ANA PEREZ", "n/a"}))
	assert.Error(t, err)
}

func TestGroupPromptsWithinRange(t *testing.T) {
	s := browsertest.NewSession(map[string]string{
		"body": groupsHTML(group{"ANA", "10"}, group{"LUIS", "3"}, group{"", "0"}),
	})
	p := prompt.NewScript("0", "4", "2")

	g, err := New(s, p, io.Discard, testLog()).Group(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Group{Number: 2, Teacher: "LUIS", Seats: 3}, g)
	assert.Len(t, p.Asked(), 3)
	assert.Equal(t, "Select a group [1-3]: ", p.Asked()[0])
	assert.Equal(t, "WaitIdle", s.Calls()[0].Method)
}

func TestGroupBoundSkipsPrompt(t *testing.T) {
	s := browsertest.NewSession(nil)
	p := prompt.NewScript()
	bound := &Group{Number: 2, Teacher: "LUIS", Seats: 3}

	g, err := New(s, p, io.Discard, testLog()).Group(context.Background(), bound)
	require.NoError(t, err)
	assert.Equal(t, *bound, g)
	assert.Empty(t, p.Asked())
	assert.Equal(t, []string{"WaitIdle"}, methods(s))
}

func TestGroupNoneIsFormError(t *testing.T) {
	s := browsertest.NewSession(map[string]string{"body": groupsHTML()})
	_, err := New(s, prompt.NewScript(), io.Discard, testLog()).Group(context.Background(), nil)
	assert.True(t, form.IsFormError(err))
	assert.ErrorIs(t, err, ErrNoGroups)
}

func TestFindGroup(t *testing.T) {
	html := groupsHTML(group{"ANA", "10"}, group{"LUIS", "8"})
	g, err := FindGroup(html, 2)
	require.NoError(t, err)
	assert.Equal(t, Group{Number: 2, Teacher: "LUIS", Seats: 8}, g)

	_, err = FindGroup(html, 3)
	assert.ErrorIs(t, err, ErrGroupMissing)
}

func TestFindGroupDoesNotConfuseTwoDigitPositions(t *testing.T) {
	var gs []group
	for i := 0; i < 12; i++ {
		gs = append(gs, group{fmt.Sprintf("T%d", i+1), fmt.Sprint(i)})
	}
	g, err := FindGroup(groupsHTML(gs...), 2)
	require.NoError(t, err)
	assert.Equal(t, "T2", g.Teacher)
	assert.Equal(t, 1, g.Seats)
}

func TestLookup(t *testing.T) {
	s := browsertest.NewSession(map[string]string{"body": groupsHTML(group{"ANA", "4"})})
	g, err := New(s, prompt.NewScript(), io.Discard, testLog()).Lookup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Seats)
}

func methods(s *browsertest.Session) []string {
	var out []string
	for _, c := range s.Calls() {
		out = append(out, c.Method)
	}
	return out
}
