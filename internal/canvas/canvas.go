// Package canvas talks to the remote course system. The CourseClient
// interface is what the rest of the tool programs against; Client is the
// HTTP implementation. Tests and callers that only need classification
// inject their own fakes.
package canvas

import (
	"context"

	"sectionmgr/internal/types"
)

// SectionMetadata carries the ownership identifiers stamped onto a section
// at creation time. Both fields are optional from the remote system's point
// of view; the tool always sets both.
type SectionMetadata struct {
	SISSectionID  string
	IntegrationID string
}

// CourseClient is the tool's view of the remote course system.
//
// Implementations must keep a per-client call counter (surfaced through
// Calls) and return *APIError for failed requests so callers can tell a
// network failure from a rejected request.
type CourseClient interface {
	GetCurrentUser(ctx context.Context) (types.User, error)
	GetCourse(ctx context.Context, courseID string) (types.Course, error)
	GetStudents(ctx context.Context, courseID string) ([]types.Student, error)
	GetFacilitators(ctx context.Context, courseID string) ([]types.Facilitator, error)
	GetSections(ctx context.Context, courseID string) ([]types.Section, error)
	GetSectionMembers(ctx context.Context, sectionID string) ([]types.Enrollment, error)

	CreateSection(ctx context.Context, courseID, name string, meta SectionMetadata) (types.Section, error)
	DeleteSection(ctx context.Context, sectionID string) error
	EnrollStudent(ctx context.Context, sectionID, userID string) (types.Enrollment, error)
	UnenrollStudent(ctx context.Context, enrollmentID string) error
	AssignAsFacilitator(ctx context.Context, courseID, userID string) error

	// Calls returns the number of remote calls issued by this client.
	Calls() int
}
