// Package execute turns reconciled rows or an allocation plan into an
// ordered batch of remote operations and applies it with best-effort,
// partial-success semantics.
package execute

import (
	"fmt"
	"sort"
	"strings"

	"sectionmgr/internal/reconcile"
	"sectionmgr/internal/template"
)

// Deletion reasons recorded on batch entries.
const (
	ReasonExplicit = "explicit_status_deletion"
	ReasonOmission = "omission_deletion"
	ReasonRollback = "session_rollback"
)

// Options gate the destructive half of a batch. Omitted owned sections are
// deleted only when deletion mode is on, the caller confirmed, and the
// confirmed candidate set is exactly the one the reconciliation surfaced.
type Options struct {
	DeletionMode        bool
	DeletionConfirmed   bool
	ConfirmedCandidates []reconcile.DeletionCandidate
}

// ConfirmationRequiredError is a distinct status, not a generic failure:
// the caller must re-submit with confirmation (or a fresh candidate set)
// before omission deletions are permitted.
type ConfirmationRequiredError struct {
	Sections int
	Students int
	Stale    bool
}

func (e *ConfirmationRequiredError) Error() string {
	if e.Stale {
		return fmt.Sprintf("confirmed deletion set is stale: re-validate and confirm the current %d candidate section(s)", e.Sections)
	}
	return fmt.Sprintf("deletion of %d section(s) affecting %d student(s) requires explicit confirmation", e.Sections, e.Students)
}

// MemberRef is one student to enroll, by canonical remote user id.
type MemberRef struct {
	UserID string
	Name   string
}

// SectionCreate is one section to create with its enrollments.
type SectionCreate struct {
	Name             string
	FacilitatorID    string
	FacilitatorEmail string
	Students         []MemberRef
}

// SectionDelete is one owned section to remove.
type SectionDelete struct {
	SectionID    string
	Name         string
	Reason       string
	StudentCount int
}

// Batch is an ordered set of remote operations: creations (with their
// enrollments) run before deletions.
type Batch struct {
	Creates []SectionCreate
	Deletes []SectionDelete
}

// BuildBatch groups valid reconciled rows into a batch. The reconciliation
// must be valid: structural and tamper errors fail closed before any remote
// mutation is attempted.
func BuildBatch(rows []reconcile.Row, rec *reconcile.Result, state reconcile.State, opts Options) (*Batch, error) {
	if rec == nil || !rec.Valid {
		return nil, fmt.Errorf("cannot execute: reconciliation has unresolved errors")
	}

	batch := &Batch{}
	createIndex := map[string]int{} // lower(name) -> Creates index
	enrolled := map[string]bool{}   // lower(name) + user id
	deleted := map[string]bool{}

	for _, row := range rows {
		// New sections, deduplicated by target name.
		if row.IsNewPlaceholder() && row.Operation == template.OpCreateAndEnroll {
			key := strings.ToLower(row.Name)
			i, ok := createIndex[key]
			if !ok {
				i = len(batch.Creates)
				createIndex[key] = i
				batch.Creates = append(batch.Creates, SectionCreate{
					Name:             row.Name,
					FacilitatorEmail: row.FacilitatorEmail,
					FacilitatorID:    facilitatorIDByEmail(state, row.FacilitatorEmail),
				})
			}
			if row.StudentID != "" {
				if userID, name := studentByRef(state, row.StudentID); userID != "" && !enrolled[key+"/"+userID] {
					enrolled[key+"/"+userID] = true
					batch.Creates[i].Students = append(batch.Creates[i].Students, MemberRef{UserID: userID, Name: name})
				}
			}
			continue
		}

		// Explicit deletions. The reconciler has already rejected deletion
		// requests against foreign sections; owned-only is re-checked here
		// because deletion must never depend on caller-supplied flags.
		if row.Status == template.StatusDeleted {
			sec := state.Resolve(row)
			if sec == nil || template.Classify(sec) != template.TypeToolCreated || deleted[sec.ID] {
				continue
			}
			deleted[sec.ID] = true
			batch.Deletes = append(batch.Deletes, SectionDelete{
				SectionID:    sec.ID,
				Name:         sec.Name,
				Reason:       ReasonExplicit,
				StudentCount: sec.StudentCount,
			})
		}
	}

	omissions, err := omissionDeletes(rec, opts)
	if err != nil {
		return nil, err
	}
	for _, d := range omissions {
		if !deleted[d.SectionID] {
			deleted[d.SectionID] = true
			batch.Deletes = append(batch.Deletes, d)
		}
	}

	return batch, nil
}

func omissionDeletes(rec *reconcile.Result, opts Options) ([]SectionDelete, error) {
	if !opts.DeletionMode || len(rec.DeletionWarnings) == 0 {
		// Default behavior: omitted owned sections stay untouched.
		return nil, nil
	}

	sections, students := len(rec.DeletionWarnings), 0
	for _, c := range rec.DeletionWarnings {
		students += c.StudentCount
	}
	if !opts.DeletionConfirmed {
		return nil, &ConfirmationRequiredError{Sections: sections, Students: students}
	}
	if !sameCandidateSet(opts.ConfirmedCandidates, rec.DeletionWarnings) {
		return nil, &ConfirmationRequiredError{Sections: sections, Students: students, Stale: true}
	}

	deletes := make([]SectionDelete, 0, sections)
	for _, c := range rec.DeletionWarnings {
		deletes = append(deletes, SectionDelete{
			SectionID:    c.SectionID,
			Name:         c.Name,
			Reason:       ReasonOmission,
			StudentCount: c.StudentCount,
		})
	}
	return deletes, nil
}

// sameCandidateSet compares candidate sets by section id, order-insensitive.
// A section added, removed, or re-identified since the caller confirmed
// rejects the set.
func sameCandidateSet(confirmed, current []reconcile.DeletionCandidate) bool {
	if len(confirmed) != len(current) {
		return false
	}
	ids := func(cs []reconcile.DeletionCandidate) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.SectionID
		}
		sort.Strings(out)
		return out
	}
	a, b := ids(confirmed), ids(current)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func facilitatorIDByEmail(state reconcile.State, email string) string {
	if email == "" {
		return ""
	}
	for _, f := range state.Facilitators {
		if strings.EqualFold(f.Email, email) {
			return f.ID
		}
	}
	return ""
}

func studentByRef(state reconcile.State, ref string) (id, name string) {
	for _, s := range state.Students {
		if s.ID == ref || (s.SISUserID != "" && s.SISUserID == ref) {
			return s.ID, s.Name
		}
	}
	return "", ""
}

// Preview summarizes a batch before execution.
type Preview struct {
	SectionsToCreate int      `json:"sections_to_create"`
	StudentsToEnroll int      `json:"students_to_enroll"`
	SectionsToDelete int      `json:"sections_to_delete"`
	NewSections      []string `json:"new_sections,omitempty"`
	Deletions        []string `json:"deletions,omitempty"`
}

// Summarize builds a preview with up to five name samples per category.
func Summarize(batch *Batch) Preview {
	p := Preview{
		SectionsToCreate: len(batch.Creates),
		SectionsToDelete: len(batch.Deletes),
	}
	for _, c := range batch.Creates {
		p.StudentsToEnroll += len(c.Students)
		if len(p.NewSections) < 5 {
			p.NewSections = append(p.NewSections, c.Name)
		}
	}
	for _, d := range batch.Deletes {
		if len(p.Deletions) < 5 {
			p.Deletions = append(p.Deletions, d.Name)
		}
	}
	return p
}
