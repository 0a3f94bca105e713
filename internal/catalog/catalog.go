// Package catalog holds the fixed layout of the course catalog search form.
// Every locator here is specific to one site and is not meant to be generalized.
package catalog

import "strings"

// SearchURL is the public course catalog search page
const SearchURL = "https://sia.unal.edu.co/Catalogo/facespublico/public/servicioPublico.jsf?taskflowId=task-flow-AC_CatalogoAsignaturas"

// FieldID is the DOM id of a form element
type FieldID string

const (
	StudyLevel FieldID = "pt1:r1:0:soc1::content"
	Campus     FieldID = "pt1:r1:0:soc9::content"
	Faculty    FieldID = "pt1:r1:0:soc2::content"
	Program    FieldID = "pt1:r1:0:soc3::content"
	Category   FieldID = "pt1:r1:0:soc4::content"

	// Reachable only when Category is FreeElectiveCategory
	ElectiveReason  FieldID = "pt1:r1:0:soc5::content"
	ElectiveCampus  FieldID = "pt1:r1:0:soc10::content"
	ElectiveFaculty FieldID = "pt1:r1:0:soc6::content"
	ElectiveProgram FieldID = "pt1:r1:0:soc7::content"

	SearchText   FieldID = "pt1:r1:0:it11::content"
	Submit       FieldID = "pt1:r1:0:cb1"
	ResultsPanel FieldID = "pt1:r1:0:pb3"
	ResultsTable FieldID = "pt1:r1:0:t4::db"

	// Panels wrapping the free-elective dropdowns; they must be visible before use
	ElectivePanel       FieldID = "pt1:r1:0:pgBusqueda"
	ElectiveCenterPanel FieldID = "pt1:r1:0:pgBusquedaCentro"

	// LayoutMarker has a client height of 1 when the page failed to render
	LayoutMarker FieldID = "d1"
)

// Option values with special meaning on the form
const (
	// FreeElectiveCategory is the Category value that opens the free-elective branch
	FreeElectiveCategory = "7"
	// AllCampuses is the Campus value for which Faculty does not reload
	AllCampuses = "0"
	// ElectiveByFaculty is the ElectiveReason value that asks for campus and faculty
	ElectiveByFaculty = "0"
)

// Group block locators. Each group of a course renders as a block whose id ends in
// ":<position>:pgl7", with the teacher and seat count in nested spans.
const (
	GroupBlockSuffix   = "pgl7"
	GroupTeacherSuffix = "ot8"
	GroupSeatsSuffix   = "ot24"
)

// DisabledClass marks a disabled command button
const DisabledClass = "p_AFDisabled"

// Step is one dropdown of the main cascade
type Step struct {
	Field  FieldID
	Prompt string
	// Next is the field whose options reload after Field is set, empty when none
	Next FieldID
	// SkipWait reports whether Next keeps its options for the chosen value
	SkipWait func(value string) bool
}

// Sequence is the fixed order in which the main cascade is filled
var Sequence = []Step{
	{Field: StudyLevel, Prompt: "Select study level:", Next: Campus},
	{Field: Campus, Prompt: "Select campus:", Next: Faculty, SkipWait: func(v string) bool { return v == AllCampuses }},
	{Field: Faculty, Prompt: "Select faculty:", Next: Program},
	{Field: Program, Prompt: "Select study program:", Next: Category},
	{Field: Category, Prompt: "Select course category:"},
}

// Prompts for the free-elective branch
const (
	ElectiveReasonPrompt  = "Why are you searching?:"
	ElectiveCampusPrompt  = "Which campus?:"
	ElectiveFacultyPrompt = "Which faculty?:"
	ElectiveProgramPrompt = "Which program?:"
)

// Selector converts a DOM id into a CSS id selector, escaping colons
func Selector(id FieldID) string {
	return "#" + strings.ReplaceAll(string(id), ":", `\:`)
}

// RowSelector converts a raw element id found on the page into a CSS id selector
func RowSelector(id string) string {
	return Selector(FieldID(id))
}

// Container returns the id of the element whose parent is re-rendered when the
// options of a dropdown change
func Container(id FieldID) string {
	return strings.TrimSuffix(string(id), "::content")
}

// EnabledSelector matches the submit control only once it is enabled
func EnabledSelector(id FieldID) string {
	return Selector(id) + ":not(." + DisabledClass + ")"
}
