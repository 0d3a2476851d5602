// Package types holds the domain model shared by every component: courses,
// students, facilitators, sections, and enrollments as reported by the
// remote course system. Values are snapshots, immutable within one
// reconciliation pass.
package types

// Course is a remote course.
type Course struct {
	ID          string `json:"id"`
	SISCourseID string `json:"sis_course_id,omitempty"`
	CourseCode  string `json:"course_code,omitempty"`
	Name        string `json:"name"`
}

// Student is a course member with a student enrollment.
// SectionIDs lists the sections the student is actively enrolled in,
// derived from the remote enrollment records at fetch time.
type Student struct {
	ID           string   `json:"id"`
	SISUserID    string   `json:"sis_user_id,omitempty"`
	Name         string   `json:"name"`
	SortableName string   `json:"sortable_name,omitempty"`
	Email        string   `json:"email,omitempty"`
	SectionIDs   []string `json:"section_ids,omitempty"`
}

// InSection reports whether the student is actively enrolled in the section.
func (s Student) InSection(sectionID string) bool {
	for _, id := range s.SectionIDs {
		if id == sectionID {
			return true
		}
	}
	return false
}

// Facilitator is a course member with a teaching enrollment.
// SectionIDs lists the sections the facilitator currently teaches,
// derived from the remote enrollment records at fetch time.
type Facilitator struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email,omitempty"`
	SectionIDs []string `json:"section_ids,omitempty"`
}

// InSection reports whether the facilitator teaches the section.
func (f Facilitator) InSection(sectionID string) bool {
	for _, id := range f.SectionIDs {
		if id == sectionID {
			return true
		}
	}
	return false
}

// Section is a remote course section. SISSectionID and IntegrationID are
// the two free-form identifier fields the ownership tag is written into.
type Section struct {
	ID            string `json:"id"`
	SISSectionID  string `json:"sis_section_id,omitempty"`
	IntegrationID string `json:"integration_id,omitempty"`
	Name          string `json:"name"`
	Default       bool   `json:"default,omitempty"`
	StudentCount  int    `json:"student_count,omitempty"`
}

// Enrollment is one membership record in a section.
type Enrollment struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	SectionID string `json:"section_id"`
	Type      string `json:"type"`
	State     string `json:"state"`
}

// Enrollment types and states as the remote system reports them.
const (
	EnrollmentTypeStudent = "StudentEnrollment"
	EnrollmentTypeTeacher = "TeacherEnrollment"
	EnrollmentStateActive = "active"
)

// IsActiveStudent reports whether the enrollment is a live student membership.
func (e Enrollment) IsActiveStudent() bool {
	return e.Type == EnrollmentTypeStudent && e.State == EnrollmentStateActive
}

// User is the authenticated remote user.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Severity grades a warning.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Warning is a non-fatal finding attached to an analysis or validation.
type Warning struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
