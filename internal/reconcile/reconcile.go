package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"sectionmgr/internal/canvas"
	"sectionmgr/internal/ownership"
	"sectionmgr/internal/template"
	"sectionmgr/internal/types"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var validOperations = map[string]bool{
	template.OpCurrentEnrollment:  true,
	template.OpExistingEnrollment: true,
	template.OpExistingSection:    true,
	template.OpReadonlySection:    true,
	template.OpCreateAndEnroll:    true,
}

var validSectionTypes = map[string]bool{
	string(template.TypeToolCreated): true,
	string(template.TypeDefault):     true,
	string(template.TypeExisting):    true,
	string(template.TypeNewSection):  true,
}

// State is a live snapshot of the remote course, fetched once per
// reconciliation pass.
type State struct {
	Course       types.Course
	Students     []types.Student
	Facilitators []types.Facilitator
	Sections     []types.Section
}

// FetchState reads the course, roster, facilitator pool, and sections in
// parallel through the client.
func FetchState(ctx context.Context, client canvas.CourseClient, courseID string) (State, error) {
	var state State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		state.Course, err = client.GetCourse(gctx, courseID)
		return err
	})
	g.Go(func() (err error) {
		state.Students, err = client.GetStudents(gctx, courseID)
		return err
	})
	g.Go(func() (err error) {
		state.Facilitators, err = client.GetFacilitators(gctx, courseID)
		return err
	})
	g.Go(func() (err error) {
		state.Sections, err = client.GetSections(gctx, courseID)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, fmt.Errorf("failed to fetch course state: %w", err)
	}
	return state, nil
}

// Resolve finds the live section a row refers to: id match first, name
// match second. New-section placeholders resolve to nil.
func (s *State) Resolve(row Row) *types.Section {
	if row.IsNewPlaceholder() {
		return nil
	}
	for i := range s.Sections {
		sec := &s.Sections[i]
		if sec.ID == row.SectionID || (sec.SISSectionID != "" && sec.SISSectionID == row.SectionID) {
			return sec
		}
	}
	for i := range s.Sections {
		sec := &s.Sections[i]
		if strings.EqualFold(sec.Name, row.Name) {
			return sec
		}
	}
	return nil
}

func (s *State) hasStudent(ref string) bool {
	for _, st := range s.Students {
		if st.ID == ref || (st.SISUserID != "" && st.SISUserID == ref) {
			return true
		}
	}
	return false
}

func (s *State) hasFacilitatorEmail(email string) bool {
	for _, f := range s.Facilitators {
		if f.Email != "" && strings.EqualFold(f.Email, email) {
			return true
		}
	}
	return false
}

// MemberRef identifies one student inside a deletion candidate.
type MemberRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeletionCandidate is an owned section the upload silently omitted.
// Surfaced as a warning; deleting it requires deletion mode plus explicit
// confirmation of this exact candidate set.
type DeletionCandidate struct {
	SectionID    string      `json:"section_id"`
	SISSectionID string      `json:"sis_section_id,omitempty"`
	Name         string      `json:"name"`
	StudentCount int         `json:"student_count"`
	Students     []MemberRef `json:"students,omitempty"`
}

// RowResult carries the findings for one row.
type RowResult struct {
	Line     int      `json:"line"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Result aggregates a reconciliation pass. Valid means zero row errors;
// warnings and deletion candidates never block validity.
type Result struct {
	Valid            bool                `json:"valid"`
	TotalRows        int                 `json:"total_rows"`
	ValidRows        int                 `json:"valid_rows"`
	ErrorRows        int                 `json:"error_rows"`
	WarningRows      int                 `json:"warning_rows"`
	RowResults       []RowResult         `json:"row_results"`
	Errors           []string            `json:"errors,omitempty"`
	Warnings         []string            `json:"warnings,omitempty"`
	DeletionWarnings []DeletionCandidate `json:"deletion_warnings,omitempty"`
}

// Reconcile classifies every row against live state. Derived classification
// always wins over the table's declared values: disagreement is tampering,
// not a correction.
func Reconcile(rows []Row, state State) *Result {
	result := &Result{TotalRows: len(rows)}

	for _, row := range rows {
		rr := checkRow(row, state)
		result.RowResults = append(result.RowResults, rr)
		if len(rr.Errors) > 0 {
			result.ErrorRows++
			for _, e := range rr.Errors {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %s", row.Line, e))
			}
		} else {
			result.ValidRows++
		}
		if len(rr.Warnings) > 0 {
			result.WarningRows++
			for _, w := range rr.Warnings {
				result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: %s", row.Line, w))
			}
		}
	}

	result.DeletionWarnings = omittedOwnedSections(rows, state)
	if n := len(result.DeletionWarnings); n > 0 {
		affected := 0
		for _, c := range result.DeletionWarnings {
			affected += c.StudentCount
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"%d tool-created section(s) missing from upload; %d enrolled students affected if deleted",
			n, affected))
	}

	result.Valid = result.ErrorRows == 0
	return result
}

func checkRow(row Row, state State) RowResult {
	rr := RowResult{Line: row.Line}
	fail := func(format string, args ...any) {
		rr.Errors = append(rr.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		rr.Warnings = append(rr.Warnings, fmt.Sprintf(format, args...))
	}

	// Required fields.
	if row.SectionID == "" {
		fail("section_id is required")
	}
	if row.Name == "" {
		fail("section name is required")
	}
	if row.Status != template.StatusActive && row.Status != template.StatusDeleted {
		fail(`status must be "active" or "deleted"`)
	}
	if len(rr.Errors) > 0 {
		return rr
	}

	if row.SectionType != "" && !validSectionTypes[row.SectionType] {
		fail("invalid section_type %q", row.SectionType)
	}
	if row.Operation != "" && !validOperations[row.Operation] {
		fail("invalid operation %q", row.Operation)
	}

	resolved := state.Resolve(row)
	derived := template.Classify(resolved)

	if resolved == nil {
		if !row.IsNewPlaceholder() {
			fail("section %q (%s) not found in course", row.Name, row.SectionID)
		}
	} else {
		// Tamper detection: the row may not claim a different identity
		// than the section it resolved to.
		if row.SectionType != "" && validSectionTypes[row.SectionType] && row.SectionType != string(derived) {
			fail("section_type tampering detected: actual %s, declared %s", derived, row.SectionType)
		}
		if !strings.EqualFold(row.Name, resolved.Name) {
			fail("cannot rename section %q to %q", resolved.Name, row.Name)
		}
		if row.SectionID != resolved.ID && row.SectionID != resolved.SISSectionID {
			fail("cannot change section_id for %q: actual %s, declared %s", resolved.Name, sectionRef(resolved), row.SectionID)
		}
	}

	// Foreign and default sections are read-only.
	if derived == template.TypeExisting || derived == template.TypeDefault {
		if row.Operation == template.OpCreateAndEnroll || row.Status == template.StatusDeleted {
			fail("cannot modify %s sections - these are read-only", derived)
		}
		if row.Operation == template.OpCurrentEnrollment && row.StudentID != "" {
			warn("cannot move students out of %s sections via upload - handle manually", derived)
		}
	}
	if row.Status == template.StatusDeleted &&
		(row.Operation == template.OpReadonlySection || row.Operation == template.OpExistingEnrollment) {
		fail("cannot delete readonly sections")
	}

	if row.StudentID != "" && !state.hasStudent(row.StudentID) {
		fail("student %s not found in course", row.StudentID)
	}

	if row.FacilitatorEmail != "" {
		if !emailPattern.MatchString(row.FacilitatorEmail) {
			fail("invalid facilitator email %q", row.FacilitatorEmail)
		} else if !state.hasFacilitatorEmail(row.FacilitatorEmail) {
			warn("facilitator %s not found in course - section will be created without one", row.FacilitatorEmail)
		}
	}

	if row.IsNewPlaceholder() && row.Operation == template.OpCreateAndEnroll {
		for _, sec := range state.Sections {
			if strings.EqualFold(sec.Name, row.Name) {
				fail("section name %q already exists in course", row.Name)
				break
			}
		}
	}

	if row.StartDate != "" && !datePattern.MatchString(row.StartDate) {
		fail("start_date must be in YYYY-MM-DD format")
	}
	if row.EndDate != "" && !datePattern.MatchString(row.EndDate) {
		fail("end_date must be in YYYY-MM-DD format")
	}

	return rr
}

// omittedOwnedSections collects every owned section no row references.
// Each candidate carries its live membership so the caller can see exactly
// what a deletion would unenroll.
func omittedOwnedSections(rows []Row, state State) []DeletionCandidate {
	var candidates []DeletionCandidate
	for _, sec := range state.Sections {
		if !ownership.IsOwned(sec) {
			continue
		}
		if sectionReferenced(sec, rows) {
			continue
		}
		candidate := DeletionCandidate{
			SectionID:    sec.ID,
			SISSectionID: sec.SISSectionID,
			Name:         sec.Name,
		}
		for _, s := range state.Students {
			if s.InSection(sec.ID) {
				candidate.Students = append(candidate.Students, MemberRef{ID: s.ID, Name: s.Name})
			}
		}
		candidate.StudentCount = len(candidate.Students)
		candidates = append(candidates, candidate)
	}
	return candidates
}

func sectionReferenced(sec types.Section, rows []Row) bool {
	for _, row := range rows {
		if row.SectionID == sec.ID ||
			(sec.SISSectionID != "" && row.SectionID == sec.SISSectionID) ||
			strings.EqualFold(row.Name, sec.Name) {
			return true
		}
	}
	return false
}

func sectionRef(sec *types.Section) string {
	if sec.SISSectionID != "" {
		return sec.SISSectionID
	}
	return sec.ID
}
