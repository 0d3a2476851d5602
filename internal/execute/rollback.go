package execute

import (
	"context"
	"fmt"

	"sectionmgr/internal/ownership"
	"sectionmgr/internal/types"
)

// SectionsForSession filters the sections created under one execution
// session. Owned sections whose session encoding was lost never match.
func SectionsForSession(sections []types.Section, sessionID string) []types.Section {
	var out []types.Section
	for _, sec := range sections {
		if sid, ok := ownership.SessionOf(sec); ok && sid == sessionID {
			out = append(out, sec)
		}
	}
	return out
}

// Sessions lists the distinct execution sessions that still have live
// sections in the given set, with per-session section counts.
func Sessions(sections []types.Section) map[string][]types.Section {
	out := map[string][]types.Section{}
	for _, sec := range sections {
		if sid, ok := ownership.SessionOf(sec); ok {
			out[sid] = append(out[sid], sec)
		}
	}
	return out
}

// Rollback removes every section created under the given session: members
// are unenrolled first, then each section is deleted. Foreign sections and
// sections from other sessions are untouched. Returns an error only when
// the section list itself cannot be fetched; per-section failures land in
// the report.
func (r *Runner) Rollback(ctx context.Context, courseID, sessionID string) (*Report, error) {
	sections, err := r.client.GetSections(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}

	matched := SectionsForSession(sections, sessionID)
	if len(matched) == 0 {
		return nil, fmt.Errorf("no sections found for session %s", sessionID)
	}

	batch := &Batch{}
	for _, sec := range matched {
		batch.Deletes = append(batch.Deletes, SectionDelete{
			SectionID:    sec.ID,
			Name:         sec.Name,
			Reason:       ReasonRollback,
			StudentCount: sec.StudentCount,
		})
	}

	report := r.Run(ctx, courseID, "", batch)
	report.SessionID = sessionID
	return report, nil
}
