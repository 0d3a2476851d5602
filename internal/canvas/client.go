package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sectionmgr/internal/types"
)

const (
	defaultTimeout = 30 * time.Second
	pageSize       = 100

	// Editing lecturers hold a teaching enrollment but never facilitate
	// sections, so they are excluded from the facilitator pool.
	editingLecturerRole = "Editing Lecturer"
)

// Config configures the HTTP client.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client is the HTTP implementation of CourseClient.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	calls      atomic.Int64
}

var _ CourseClient = (*Client)(nil)

// NewClient creates a client for the remote course system's REST API.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		token:   cfg.APIToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Calls returns the number of remote calls issued by this client.
func (c *Client) Calls() int {
	return int(c.calls.Load())
}

// do issues one request and decodes the response into out (when non-nil).
// The response headers are returned for pagination.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	n := c.calls.Add(1)

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("canvas call",
		zap.Int64("n", n),
		zap.String("method", method),
		zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Network: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Network: true, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Message: rejectionMessage(resp.StatusCode, data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.Header, nil
}

// rejectionMessage pulls the remote error message out of a failure payload.
func rejectionMessage(status int, data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if len(payload.Errors) > 0 && payload.Errors[0].Message != "" {
			return payload.Errors[0].Message
		}
	}
	return http.StatusText(status)
}

// Wire representations. Identifier fields arrive as JSON numbers; the
// domain model keeps them as strings.

type wireCourse struct {
	ID          json.Number `json:"id"`
	SISCourseID string      `json:"sis_course_id"`
	CourseCode  string      `json:"course_code"`
	Name        string      `json:"name"`
}

type wireEnrollment struct {
	ID              json.Number `json:"id"`
	UserID          json.Number `json:"user_id"`
	CourseSectionID json.Number `json:"course_section_id"`
	Type            string      `json:"type"`
	Role            string      `json:"role"`
	EnrollmentState string      `json:"enrollment_state"`
	User            struct {
		Name string `json:"name"`
	} `json:"user"`
}

type wireUser struct {
	ID           json.Number      `json:"id"`
	SISUserID    string           `json:"sis_user_id"`
	Name         string           `json:"name"`
	SortableName string           `json:"sortable_name"`
	Email        string           `json:"email"`
	Enrollments  []wireEnrollment `json:"enrollments"`
}

type wireSection struct {
	ID             json.Number `json:"id"`
	SISSectionID   string      `json:"sis_section_id"`
	IntegrationID  string      `json:"integration_id"`
	Name           string      `json:"name"`
	DefaultSection bool        `json:"default_section"`
	TotalStudents  int         `json:"total_students"`
}

// GetCurrentUser fetches the authenticated user. Used to fail fast on bad
// credentials before any workflow starts.
func (c *Client) GetCurrentUser(ctx context.Context) (types.User, error) {
	var w wireUser
	if _, err := c.do(ctx, http.MethodGet, "/users/self", nil, nil, &w); err != nil {
		return types.User{}, err
	}
	return types.User{ID: w.ID.String(), Name: w.Name, Email: w.Email}, nil
}

// GetCourse fetches one course.
func (c *Client) GetCourse(ctx context.Context, courseID string) (types.Course, error) {
	var w wireCourse
	if _, err := c.do(ctx, http.MethodGet, "/courses/"+courseID, nil, nil, &w); err != nil {
		return types.Course{}, err
	}
	return types.Course{
		ID:          w.ID.String(),
		SISCourseID: w.SISCourseID,
		CourseCode:  w.CourseCode,
		Name:        w.Name,
	}, nil
}

// getCourseUsers pages through the course user list for one enrollment type.
func (c *Client) getCourseUsers(ctx context.Context, courseID, enrollmentType string) ([]wireUser, error) {
	var all []wireUser
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("per_page", fmt.Sprint(pageSize))
		query.Set("page", fmt.Sprint(page))
		query.Add("include[]", "enrollments")
		query.Add("enrollment_type[]", enrollmentType)

		var users []wireUser
		headers, err := c.do(ctx, http.MethodGet, "/courses/"+courseID+"/users", query, nil, &users)
		if err != nil {
			return nil, err
		}
		all = append(all, users...)

		if !strings.Contains(headers.Get("Link"), `rel="next"`) {
			return all, nil
		}
	}
}

// activeSectionIDs collects the section ids of a user's active enrollments
// of the given type.
func activeSectionIDs(enrollments []wireEnrollment, enrollmentType string) []string {
	var ids []string
	for _, e := range enrollments {
		if e.Type == enrollmentType && e.EnrollmentState == types.EnrollmentStateActive && e.CourseSectionID != "" {
			ids = append(ids, e.CourseSectionID.String())
		}
	}
	return ids
}

// GetStudents fetches all students with their active section memberships.
func (c *Client) GetStudents(ctx context.Context, courseID string) ([]types.Student, error) {
	users, err := c.getCourseUsers(ctx, courseID, "student")
	if err != nil {
		return nil, err
	}
	students := make([]types.Student, 0, len(users))
	for _, w := range users {
		students = append(students, types.Student{
			ID:           w.ID.String(),
			SISUserID:    w.SISUserID,
			Name:         w.Name,
			SortableName: w.SortableName,
			Email:        w.Email,
			SectionIDs:   activeSectionIDs(w.Enrollments, types.EnrollmentTypeStudent),
		})
	}
	return students, nil
}

// GetFacilitators fetches teaching staff, excluding editing lecturers.
func (c *Client) GetFacilitators(ctx context.Context, courseID string) ([]types.Facilitator, error) {
	users, err := c.getCourseUsers(ctx, courseID, "teacher")
	if err != nil {
		return nil, err
	}
	var facilitators []types.Facilitator
	for _, w := range users {
		editing := false
		for _, e := range w.Enrollments {
			if e.Role == editingLecturerRole {
				editing = true
				break
			}
		}
		if editing {
			continue
		}
		facilitators = append(facilitators, types.Facilitator{
			ID:         w.ID.String(),
			Name:       w.Name,
			Email:      w.Email,
			SectionIDs: activeSectionIDs(w.Enrollments, types.EnrollmentTypeTeacher),
		})
	}
	return facilitators, nil
}

// GetSections fetches all sections in the course.
func (c *Client) GetSections(ctx context.Context, courseID string) ([]types.Section, error) {
	query := url.Values{}
	query.Add("include[]", "total_students")

	var wires []wireSection
	if _, err := c.do(ctx, http.MethodGet, "/courses/"+courseID+"/sections", query, nil, &wires); err != nil {
		return nil, err
	}
	sections := make([]types.Section, 0, len(wires))
	for _, w := range wires {
		sections = append(sections, types.Section{
			ID:            w.ID.String(),
			SISSectionID:  w.SISSectionID,
			IntegrationID: w.IntegrationID,
			Name:          w.Name,
			Default:       w.DefaultSection,
			StudentCount:  w.TotalStudents,
		})
	}
	return sections, nil
}

// GetSectionMembers fetches the enrollment records of one section.
func (c *Client) GetSectionMembers(ctx context.Context, sectionID string) ([]types.Enrollment, error) {
	var wires []wireEnrollment
	if _, err := c.do(ctx, http.MethodGet, "/sections/"+sectionID+"/enrollments", nil, nil, &wires); err != nil {
		return nil, err
	}
	members := make([]types.Enrollment, 0, len(wires))
	for _, w := range wires {
		members = append(members, types.Enrollment{
			ID:        w.ID.String(),
			UserID:    w.UserID.String(),
			UserName:  w.User.Name,
			SectionID: sectionID,
			Type:      w.Type,
			State:     w.EnrollmentState,
		})
	}
	return members, nil
}

// CreateSection creates a section carrying the given ownership metadata.
func (c *Client) CreateSection(ctx context.Context, courseID, name string, meta SectionMetadata) (types.Section, error) {
	body := map[string]any{
		"course_section": map[string]any{
			"name":           name,
			"sis_section_id": meta.SISSectionID,
			"integration_id": meta.IntegrationID,
		},
	}
	var w wireSection
	if _, err := c.do(ctx, http.MethodPost, "/courses/"+courseID+"/sections", nil, body, &w); err != nil {
		return types.Section{}, err
	}
	return types.Section{
		ID:            w.ID.String(),
		SISSectionID:  w.SISSectionID,
		IntegrationID: w.IntegrationID,
		Name:          w.Name,
	}, nil
}

// DeleteSection deletes a section.
func (c *Client) DeleteSection(ctx context.Context, sectionID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/sections/"+sectionID, nil, nil, nil)
	return err
}

// EnrollStudent adds a student to a section.
func (c *Client) EnrollStudent(ctx context.Context, sectionID, userID string) (types.Enrollment, error) {
	body := map[string]any{
		"enrollment": map[string]any{
			"user_id":          userID,
			"type":             types.EnrollmentTypeStudent,
			"enrollment_state": types.EnrollmentStateActive,
		},
	}
	var w wireEnrollment
	if _, err := c.do(ctx, http.MethodPost, "/sections/"+sectionID+"/enrollments", nil, body, &w); err != nil {
		return types.Enrollment{}, err
	}
	return types.Enrollment{
		ID:        w.ID.String(),
		UserID:    w.UserID.String(),
		SectionID: sectionID,
		Type:      w.Type,
		State:     w.EnrollmentState,
	}, nil
}

// UnenrollStudent removes one enrollment record.
func (c *Client) UnenrollStudent(ctx context.Context, enrollmentID string) error {
	query := url.Values{}
	query.Set("task", "delete")
	_, err := c.do(ctx, http.MethodDelete, "/enrollments/"+enrollmentID, query, nil, nil)
	return err
}

// AssignAsFacilitator gives a user a teaching enrollment in the course.
func (c *Client) AssignAsFacilitator(ctx context.Context, courseID, userID string) error {
	body := map[string]any{
		"enrollment": map[string]any{
			"user_id":          userID,
			"type":             types.EnrollmentTypeTeacher,
			"enrollment_state": types.EnrollmentStateActive,
		},
	}
	_, err := c.do(ctx, http.MethodPost, "/courses/"+courseID+"/enrollments", nil, body, nil)
	return err
}
