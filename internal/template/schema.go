// Package template renders the current remote state (owned and foreign
// sections plus unassigned students) into the fixed-schema table operators
// edit and re-upload. The schema and the derived classification labels
// defined here are the contract the reconciler parses against.
package template

import (
	"regexp"
	"strings"

	"sectionmgr/internal/ownership"
	"sectionmgr/internal/types"
)

// SectionType classifies a section from live remote state. The value in an
// uploaded table is untrusted; the reconciler always re-derives it.
type SectionType string

const (
	TypeToolCreated SectionType = "tool_created"
	TypeDefault     SectionType = "default"
	TypeExisting    SectionType = "existing"
	TypeNewSection  SectionType = "new_section"
)

// Operation labels describe what a row represents.
const (
	OpCurrentEnrollment  = "current_enrollment"  // owned section membership, movable
	OpExistingEnrollment = "existing_enrollment" // foreign section membership, read-only
	OpExistingSection    = "existing_section"    // empty owned section, context
	OpReadonlySection    = "readonly_section"    // empty foreign section, context
	OpCreateAndEnroll    = "create_and_enroll"   // proposed section + enrollment
)

// Section statuses accepted in uploads.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// NewSectionPrefix marks section ids that do not exist remotely yet.
const NewSectionPrefix = "NEW_"

// Columns is the fixed header of the tabular interface, in order.
var Columns = []string{
	"section_id",
	"course_id",
	"name",
	"status",
	"start_date",
	"end_date",
	"student_id",
	"student_name",
	"student_email",
	"facilitator_email",
	"section_type",
	"campus_info",
	"operation",
}

// Row is one logical record of the table.
type Row struct {
	SectionID        string
	CourseID         string
	Name             string
	Status           string
	StartDate        string
	EndDate          string
	StudentID        string
	StudentName      string
	StudentEmail     string
	FacilitatorEmail string
	SectionType      string
	CampusInfo       string
	Operation        string
}

// Record returns the row's CSV fields in column order.
func (r Row) Record() []string {
	return []string{
		r.SectionID, r.CourseID, r.Name, r.Status, r.StartDate, r.EndDate,
		r.StudentID, r.StudentName, r.StudentEmail, r.FacilitatorEmail,
		r.SectionType, r.CampusInfo, r.Operation,
	}
}

// IsNewPlaceholder reports whether the row targets a not-yet-existing section.
func (r Row) IsNewPlaceholder() bool {
	return strings.HasPrefix(r.SectionID, NewSectionPrefix)
}

// Classify derives a section's true type from live state. A nil section
// means it does not exist remotely.
func Classify(sec *types.Section) SectionType {
	switch {
	case sec == nil:
		return TypeNewSection
	case ownership.IsOwned(*sec):
		return TypeToolCreated
	case sec.Default || strings.Contains(strings.ToLower(sec.Name), "default"):
		return TypeDefault
	default:
		return TypeExisting
	}
}

// campusKeywords are matched against section names and student emails to
// derive a locality signal. Best-effort only; "unknown" is the catch-all.
var campusKeywords = []string{
	"blacktown",
	"strathfield",
	"north sydney",
	"melbourne",
	"brisbane",
	"canberra",
	"ballarat",
	"online",
	"zoom",
	"campus",
}

var groupedNamePattern = regexp.MustCompile(`(?i)section [a-z]\b`)

// CampusFromName extracts a locality signal from a section name.
func CampusFromName(name string) string {
	lower := strings.ToLower(name)
	for _, kw := range campusKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	if groupedNamePattern.MatchString(name) {
		return "grouped"
	}
	return "unknown"
}

// CampusFromEmail guesses a student's campus from their email address.
func CampusFromEmail(email string) string {
	lower := strings.ToLower(email)
	for _, kw := range campusKeywords[:7] {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return "unknown"
}
