package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/cupos/internal/browser/browsertest"
	"github.com/v0xg/cupos/internal/catalog"
	"github.com/v0xg/cupos/internal/prompt"
	"github.com/ysmood/gson"
)

var dropdowns = []catalog.FieldID{
	catalog.StudyLevel, catalog.Campus, catalog.Faculty, catalog.Program, catalog.Category,
	catalog.ElectiveReason, catalog.ElectiveCampus, catalog.ElectiveFaculty, catalog.ElectiveProgram,
}

func selectHTML(id catalog.FieldID, labels ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<select id="%s"><option value=""></option>`, id)
	for i, l := range labels {
		fmt.Fprintf(&b, `<option value="%d">%s</option>`, i, l)
	}
	b.WriteString(`</select>`)
	return b.String()
}

// newSession serves a single option for every dropdown unless overridden
func newSession(overrides map[catalog.FieldID][]string) *browsertest.Session {
	pages := map[string]string{}
	for _, id := range dropdowns {
		labels, ok := overrides[id]
		if !ok {
			labels = []string{"Only " + string(id)}
		}
		pages[catalog.Selector(id)] = selectHTML(id, labels...)
	}
	return browsertest.NewSession(pages)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func methodsOf(calls []browsertest.Call) []string {
	var out []string
	for _, c := range calls {
		target := c.Target
		switch target {
		case LayoutProbeScript:
			target = "layout"
		case armWatchScript:
			target = "arm"
		case awaitWatchScript:
			target = "await"
		}
		if c.Method == "Eval" {
			out = append(out, "Eval "+target+" "+c.Value)
			continue
		}
		out = append(out, browsertest.Call{Method: c.Method, Target: target, Value: c.Value}.String())
	}
	return out
}

func TestSearchSingleOptionsPromptsOnlyForSearchTerm(t *testing.T) {
	s := newSession(nil)
	p := prompt.NewScript("Calculo")
	st := &State{}

	err := NewNavigator(s, p, io.Discard, "https://example.test/catalog", testLog()).Search(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, []string{"Enter the search term: "}, p.Asked())
	assert.Equal(t, "Calculo", st.Query)
	assert.Equal(t, Answers{
		catalog.StudyLevel: "0",
		catalog.Campus:     "0",
		catalog.Faculty:    "0",
		catalog.Program:    "0",
		catalog.Category:   "0",
	}, st.Answers)

	sel := catalog.Selector
	want := []string{
		"Navigate https://example.test/catalog",
		"Eval layout " + sel(catalog.LayoutMarker),
		"HTML " + sel(catalog.StudyLevel),
		"Eval arm " + catalog.Container(catalog.Campus),
		"Click " + sel(catalog.StudyLevel),
		"Select " + sel(catalog.StudyLevel) + "=0",
		"Eval await " + catalog.Container(catalog.Campus),
		"HTML " + sel(catalog.Campus),
		// campus "0" is all campuses: faculty does not reload
		"Click " + sel(catalog.Campus),
		"Select " + sel(catalog.Campus) + "=0",
		"HTML " + sel(catalog.Faculty),
		"Eval arm " + catalog.Container(catalog.Program),
		"Click " + sel(catalog.Faculty),
		"Select " + sel(catalog.Faculty) + "=0",
		"Eval await " + catalog.Container(catalog.Program),
		"HTML " + sel(catalog.Program),
		"Eval arm " + catalog.Container(catalog.Category),
		"Click " + sel(catalog.Program),
		"Select " + sel(catalog.Program) + "=0",
		"Eval await " + catalog.Container(catalog.Category),
		"HTML " + sel(catalog.Category),
		"Click " + sel(catalog.Category),
		"Select " + sel(catalog.Category) + "=0",
		"Type " + sel(catalog.SearchText) + "=Calculo",
		"Wait " + catalog.EnabledSelector(catalog.Submit) + "=attached",
		"Click " + sel(catalog.Submit),
		"Wait " + sel(catalog.ResultsPanel) + "=visible",
	}
	assert.Equal(t, want, methodsOf(s.Calls()))
}

func TestSearchWaitsForFacultyWhenCampusChosen(t *testing.T) {
	s := newSession(map[catalog.FieldID][]string{
		catalog.Campus: {"All", "Bogota"},
	})
	p := prompt.NewScript("1", "Fisica")
	st := &State{}

	require.NoError(t, NewNavigator(s, p, io.Discard, "", testLog()).Search(context.Background(), st))
	assert.Equal(t, "1", st.Answers[catalog.Campus])
	assert.Contains(t, methodsOf(s.Calls()), "Eval await "+catalog.Container(catalog.Faculty))
	assert.Equal(t, catalog.SearchURL, s.Calls()[0].Target)
}

func TestSearchReusesAnswersVerbatim(t *testing.T) {
	s := newSession(map[catalog.FieldID][]string{
		catalog.StudyLevel: {"Undergraduate", "Graduate"},
		catalog.Faculty:    {"Science", "Engineering", "Arts"},
	})
	p := prompt.NewScript("7", "1", "2", "Calculo")
	st := &State{}
	nav := NewNavigator(s, p, io.Discard, "", testLog())

	require.NoError(t, nav.Search(context.Background(), st))
	assert.Equal(t, "1", st.Answers[catalog.StudyLevel])
	assert.Equal(t, "2", st.Answers[catalog.Faculty])
	// "7" is out of range for two options and was asked again
	assert.Len(t, p.Asked(), 4)

	before := make(Answers)
	for k, v := range st.Answers {
		before[k] = v
	}

	retry := newSession(nil)
	again := prompt.NewScript()
	require.NoError(t, NewNavigator(retry, again, io.Discard, "", testLog()).Search(context.Background(), st))
	assert.Empty(t, again.Asked())
	assert.Equal(t, before, st.Answers)
	assert.Contains(t, methodsOf(retry.Calls()), "Select "+catalog.Selector(catalog.Faculty)+"=2")
	assert.Contains(t, methodsOf(retry.Calls()), "Type "+catalog.Selector(catalog.SearchText)+"=Calculo")
}

func TestSearchFreeElectiveBranch(t *testing.T) {
	categories := []string{"A", "B", "C", "D", "E", "F", "G", "Free elective"}
	s := newSession(map[catalog.FieldID][]string{
		catalog.Category:       categories,
		catalog.ElectiveReason: {"By faculty and program", "By program"},
	})
	p := prompt.NewScript("7", "0", "Etica")
	st := &State{}

	require.NoError(t, NewNavigator(s, p, io.Discard, "", testLog()).Search(context.Background(), st))
	assert.Equal(t, catalog.FreeElectiveCategory, st.Answers[catalog.Category])
	for _, id := range []catalog.FieldID{catalog.ElectiveReason, catalog.ElectiveCampus, catalog.ElectiveFaculty, catalog.ElectiveProgram} {
		assert.Contains(t, st.Answers, id)
	}

	calls := methodsOf(s.Calls())
	index := func(call string) int {
		for i, c := range calls {
			if c == call {
				return i
			}
		}
		t.Fatalf("missing call %q in %v", call, calls)
		return -1
	}

	panel := index("Wait " + catalog.Selector(catalog.ElectivePanel) + "=visible")
	center := index("Wait " + catalog.Selector(catalog.ElectiveCenterPanel) + "=visible")
	facultyReload := index("Eval await " + catalog.Container(catalog.ElectiveFaculty))
	planEnabled := index("Wait " + catalog.Selector(catalog.ElectiveProgram) + "=enabled")
	plan := index("Select " + catalog.Selector(catalog.ElectiveProgram) + "=0")
	typed := index("Type " + catalog.Selector(catalog.SearchText) + "=Etica")

	assert.Less(t, index("Select "+catalog.Selector(catalog.Category)+"=7"), panel)
	assert.Less(t, panel, center)
	assert.Less(t, center, facultyReload)
	assert.Less(t, facultyReload, planEnabled)
	assert.Less(t, planEnabled, plan)
	assert.Less(t, plan, typed)
}

func TestSearchFreeElectiveByProgramSkipsCampusAndFaculty(t *testing.T) {
	s := newSession(map[catalog.FieldID][]string{
		catalog.Category:       {"A", "B", "C", "D", "E", "F", "G", "Free elective"},
		catalog.ElectiveReason: {"By faculty and program", "By program"},
	})
	p := prompt.NewScript("7", "1", "Etica")
	st := &State{}

	require.NoError(t, NewNavigator(s, p, io.Discard, "", testLog()).Search(context.Background(), st))
	assert.NotContains(t, st.Answers, catalog.ElectiveCampus)
	assert.NotContains(t, st.Answers, catalog.ElectiveFaculty)
	assert.Contains(t, st.Answers, catalog.ElectiveProgram)
}

func TestSearchBrokenLayoutIsNotAFormError(t *testing.T) {
	s := newSession(nil)
	s.EvalFunc = func(js string, args ...any) (gson.JSON, error) {
		if js == LayoutProbeScript {
			return gson.New(1), nil
		}
		return gson.New(nil), nil
	}

	err := NewNavigator(s, prompt.NewScript(), io.Discard, "", testLog()).Search(context.Background(), &State{})
	assert.ErrorIs(t, err, ErrPageNotLoaded)
	assert.False(t, IsFormError(err))
}

func TestSearchKeepsAnswersChosenBeforeFailure(t *testing.T) {
	s := newSession(map[catalog.FieldID][]string{
		catalog.StudyLevel: {"Undergraduate", "Graduate"},
	})
	s.Fail = func(c browsertest.Call) error {
		if c.Method == "Select" && c.Target == catalog.Selector(catalog.Faculty) {
			return errors.New("detached node")
		}
		return nil
	}
	st := &State{}

	err := NewNavigator(s, prompt.NewScript("1"), io.Discard, "", testLog()).Search(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, "1", st.Answers[catalog.StudyLevel])
	assert.Equal(t, "0", st.Answers[catalog.Faculty])
	assert.Empty(t, st.Query)
}

func TestSearchEmptyDropdown(t *testing.T) {
	s := newSession(map[catalog.FieldID][]string{catalog.Program: {}})
	err := NewNavigator(s, prompt.NewScript(), io.Discard, "", testLog()).Search(context.Background(), &State{})
	assert.ErrorIs(t, err, ErrNoOptions)
	assert.False(t, IsFormError(err))
}

func TestParseOptions(t *testing.T) {
	html := `<select id="x">
		<option value="">Choose</option>
		<option value="0"> Pregrado </option>
		<option value="1"></option>
	</select>`
	opts, err := ParseOptions(html)
	require.NoError(t, err)
	assert.Equal(t, []Option{{"0", "Pregrado"}, {"1", NoneLabel}}, opts)
}

func TestStateReset(t *testing.T) {
	st := &State{Answers: Answers{catalog.Campus: "3"}, Query: "Calculo"}
	st.Reset()
	assert.Empty(t, st.Answers)
	assert.NotNil(t, st.Answers)
	assert.Empty(t, st.Query)
}

func TestFormError(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("select course: %w", &FormError{Reason: "no results found", Err: inner})
	assert.True(t, IsFormError(err))
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "select course: no results found: boom", err.Error())
	assert.False(t, IsFormError(inner))
}
