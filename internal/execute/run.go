package execute

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sectionmgr/internal/allocation"
	"sectionmgr/internal/canvas"
	"sectionmgr/internal/ownership"
)

// Write pacing. The remote system throttles bursty enrollment traffic, so
// the runner pauses after every block of enrollment calls.
const (
	enrollPauseEvery = 10
	enrollPause      = time.Second
)

// ItemError is one failed remote operation. Execution continues past it.
type ItemError struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Report is the outcome of one execution batch.
type Report struct {
	SessionID          string        `json:"session_id,omitempty"`
	SectionsCreated    int           `json:"sections_created"`
	StudentsEnrolled   int           `json:"students_enrolled"`
	FacilitatorsAdded  int           `json:"facilitators_added"`
	SectionsDeleted    int           `json:"sections_deleted"`
	StudentsUnenrolled int           `json:"students_unenrolled"`
	Errors             []ItemError   `json:"errors,omitempty"`
	APICalls           int           `json:"api_calls"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Runner applies a batch against the remote course system. Writes are
// strictly sequential; a failed item is recorded and skipped, never retried.
type Runner struct {
	client canvas.CourseClient
	logger *zap.Logger
	sleep  func(time.Duration)
}

// NewRunner builds a runner.
func NewRunner(client canvas.CourseClient, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: client, logger: logger, sleep: time.Sleep}
}

// Run executes a batch: creations first (each with its enrollments and
// facilitator assignment), then deletions. Every section created in the
// batch is stamped with the same freshly minted session id, which the
// returned report carries for later rollback.
func (r *Runner) Run(ctx context.Context, courseID, operatorID string, batch *Batch) *Report {
	start := time.Now()
	report := &Report{}

	if len(batch.Creates) > 0 {
		report.SessionID = ownership.NewSessionID()
	}

	enrollCalls := 0
	for i, cr := range batch.Creates {
		r.createSection(ctx, courseID, operatorID, report, cr, i+1, &enrollCalls)
	}
	for _, del := range batch.Deletes {
		r.deleteSection(ctx, report, del)
	}

	report.APICalls = r.client.Calls()
	report.Elapsed = time.Since(start)
	return report
}

func (r *Runner) createSection(ctx context.Context, courseID, operatorID string, report *Report, cr SectionCreate, ordinal int, enrollCalls *int) {
	meta := canvas.SectionMetadata{
		SISSectionID:  ownership.SISID(report.SessionID, ordinal),
		IntegrationID: ownership.NewTag(operatorID, report.SessionID).Encode(),
	}
	sec, err := r.client.CreateSection(ctx, courseID, cr.Name, meta)
	if err != nil {
		r.fail(report, fmt.Sprintf("create section %q", cr.Name), err)
		return
	}
	report.SectionsCreated++
	r.logger.Info("section created",
		zap.String("section_id", sec.ID),
		zap.String("name", cr.Name),
		zap.String("session_id", report.SessionID))

	for _, st := range cr.Students {
		if *enrollCalls > 0 && *enrollCalls%enrollPauseEvery == 0 {
			r.sleep(enrollPause)
		}
		*enrollCalls++
		if _, err := r.client.EnrollStudent(ctx, sec.ID, st.UserID); err != nil {
			r.fail(report, fmt.Sprintf("enroll %s in %q", st.Name, cr.Name), err)
			continue
		}
		report.StudentsEnrolled++
	}

	if cr.FacilitatorID != "" {
		if err := r.client.AssignAsFacilitator(ctx, courseID, cr.FacilitatorID); err != nil {
			r.fail(report, fmt.Sprintf("assign facilitator %s for %q", cr.FacilitatorEmail, cr.Name), err)
			return
		}
		report.FacilitatorsAdded++
	}
}

// deleteSection removes live memberships first and deletes the section only
// when none remain: a section is never deleted out from under its members.
func (r *Runner) deleteSection(ctx context.Context, report *Report, del SectionDelete) {
	members, err := r.client.GetSectionMembers(ctx, del.SectionID)
	if err != nil {
		r.fail(report, fmt.Sprintf("list members of %q", del.Name), err)
		return
	}

	remaining := 0
	for _, m := range members {
		// Only live student memberships are removed; teaching enrollments
		// stay with the facilitator and never block the deletion.
		if !m.IsActiveStudent() {
			continue
		}
		if err := r.client.UnenrollStudent(ctx, m.ID); err != nil {
			r.fail(report, fmt.Sprintf("unenroll %s from %q", m.UserName, del.Name), err)
			remaining++
			continue
		}
		report.StudentsUnenrolled++
	}
	if remaining > 0 {
		r.fail(report, fmt.Sprintf("delete section %q", del.Name),
			fmt.Errorf("%d membership(s) could not be removed", remaining))
		return
	}

	if err := r.client.DeleteSection(ctx, del.SectionID); err != nil {
		r.fail(report, fmt.Sprintf("delete section %q", del.Name), err)
		return
	}
	report.SectionsDeleted++
	r.logger.Info("section deleted",
		zap.String("section_id", del.SectionID),
		zap.String("name", del.Name),
		zap.String("reason", del.Reason))
}

func (r *Runner) fail(report *Report, target string, err error) {
	report.Errors = append(report.Errors, ItemError{Target: target, Message: err.Error()})
	r.logger.Warn("operation failed", zap.String("target", target), zap.Error(err))
}

// RunPlan executes an allocation plan directly, without a template round
// trip: one section per planned section, enrolling its assigned students.
func (r *Runner) RunPlan(ctx context.Context, courseID, operatorID string, plan *allocation.Plan) *Report {
	batch := &Batch{}
	for _, ps := range plan.Sections {
		cr := SectionCreate{Name: ps.ExternalName}
		if ps.Facilitator != nil {
			cr.FacilitatorID = ps.Facilitator.ID
			cr.FacilitatorEmail = ps.Facilitator.Email
		}
		for _, st := range ps.Students {
			cr.Students = append(cr.Students, MemberRef{UserID: st.ID, Name: st.Name})
		}
		batch.Creates = append(batch.Creates, cr)
	}
	return r.Run(ctx, courseID, operatorID, batch)
}
