package template

import (
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"sectionmgr/internal/allocation"
	"sectionmgr/internal/canvas"
	"sectionmgr/internal/types"
)

// proposedSectionSize chunks unassigned-student buckets into proposed
// sections of at most one target ratio each.
const proposedSectionSize = allocation.DefaultTargetRatio

// Summary is the machine-readable category breakdown emitted with a template.
type Summary struct {
	ExistingSections      int      `json:"existing_sections"`
	ToolCreatedSections   int      `json:"tool_created_sections"`
	TotalStudents         int      `json:"total_students"`
	UnassignedStudents    int      `json:"unassigned_students"`
	AvailableFacilitators int      `json:"available_facilitators"`
	CampusGroups          []string `json:"campus_groups"`
}

// Template is the rendered table plus its usage instructions and summary.
type Template struct {
	Filename     string  `json:"filename"`
	Rows         []Row   `json:"-"`
	Content      string  `json:"content"`
	Instructions string  `json:"instructions"`
	Summary      Summary `json:"summary"`
}

// Builder renders templates from live remote state.
type Builder struct {
	client canvas.CourseClient
}

// NewBuilder returns a template builder reading through the given client.
func NewBuilder(client canvas.CourseClient) *Builder {
	return &Builder{client: client}
}

// Build fetches the course, roster, facilitator pool, and section list in
// parallel (the reads are independent) and renders the template.
func (b *Builder) Build(ctx context.Context, courseID string) (*Template, error) {
	var (
		course       types.Course
		students     []types.Student
		facilitators []types.Facilitator
		sections     []types.Section
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		course, err = b.client.GetCourse(gctx, courseID)
		return err
	})
	g.Go(func() (err error) {
		students, err = b.client.GetStudents(gctx, courseID)
		return err
	})
	g.Go(func() (err error) {
		facilitators, err = b.client.GetFacilitators(gctx, courseID)
		return err
	})
	g.Go(func() (err error) {
		sections, err = b.client.GetSections(gctx, courseID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("template generation failed: %w", err)
	}

	return BuildFromState(course, students, facilitators, sections)
}

// BuildFromState renders a template from an already-fetched state snapshot.
func BuildFromState(course types.Course, students []types.Student, facilitators []types.Facilitator, sections []types.Section) (*Template, error) {
	courseRef := course.SISCourseID
	if courseRef == "" {
		courseRef = course.ID
	}

	var rows []Row
	toolCreated := 0

	// Every live section appears: one row per member, or one context row
	// when empty. Foreign sections are shown read-only so the operator can
	// see campus patterns before grouping.
	for _, sec := range sections {
		sec := sec
		sectionType := Classify(&sec)
		if sectionType == TypeToolCreated {
			toolCreated++
		}
		campus := CampusFromName(sec.Name)

		base := Row{
			SectionID:        sectionRef(sec),
			CourseID:         courseRef,
			Name:             sec.Name,
			Status:           StatusActive,
			FacilitatorEmail: facilitatorFor(facilitators, sec.ID),
			SectionType:      string(sectionType),
			CampusInfo:       campus,
		}

		members := 0
		for _, s := range students {
			if !s.InSection(sec.ID) {
				continue
			}
			members++
			row := base
			row.StudentID = studentRef(s)
			row.StudentName = s.Name
			row.StudentEmail = s.Email
			row.Operation = OpExistingEnrollment
			if sectionType == TypeToolCreated {
				row.Operation = OpCurrentEnrollment
			}
			rows = append(rows, row)
		}

		if members == 0 {
			row := base
			row.Operation = OpReadonlySection
			if sectionType == TypeToolCreated {
				row.Operation = OpExistingSection
			}
			rows = append(rows, row)
		}
	}

	// Unassigned students get proposed new sections, bucketed by campus
	// signal and chunked to the target ratio.
	unassigned := allocation.UnassignedStudents(students, sections)
	buckets := groupByCampus(unassigned)

	facilitatorEmail := ""
	if len(facilitators) > 0 {
		facilitatorEmail = facilitators[0].Email
	}

	letter := 0
	for _, campus := range bucketOrder(buckets) {
		group := buckets[campus]
		for start := 0; start < len(group); start += proposedSectionSize {
			end := start + proposedSectionSize
			if end > len(group) {
				end = len(group)
			}
			suffix := sectionSuffix(letter)
			letter++

			name := fmt.Sprintf("New Section %s", suffix)
			if campus != "unknown" {
				name = fmt.Sprintf("New Section %s %s", campus, suffix)
			}
			id := fmt.Sprintf("%sSECTION_%s_%s", NewSectionPrefix, strings.ToUpper(strings.ReplaceAll(campus, " ", "_")), suffix)

			for _, s := range group[start:end] {
				rows = append(rows, Row{
					SectionID:        id,
					CourseID:         courseRef,
					Name:             name,
					Status:           StatusActive,
					StudentID:        studentRef(s),
					StudentName:      s.Name,
					StudentEmail:     s.Email,
					FacilitatorEmail: facilitatorEmail,
					SectionType:      string(TypeNewSection),
					CampusInfo:       campus,
					Operation:        OpCreateAndEnroll,
				})
			}
		}
	}

	content, err := render(rows)
	if err != nil {
		return nil, err
	}

	nameStem := course.CourseCode
	if nameStem == "" {
		nameStem = course.ID
	}

	return &Template{
		Filename:     fmt.Sprintf("%s_sections_bulk_template.csv", nameStem),
		Rows:         rows,
		Content:      content,
		Instructions: instructions,
		Summary: Summary{
			ExistingSections:      len(sections) - toolCreated,
			ToolCreatedSections:   toolCreated,
			TotalStudents:         len(students),
			UnassignedStudents:    len(unassigned),
			AvailableFacilitators: len(facilitators),
			CampusGroups:          bucketOrder(buckets),
		},
	}, nil
}

// sectionSuffix converts a 0-based index into a spreadsheet-style letter
// suffix: A..Z, then AA, AB, and so on.
func sectionSuffix(n int) string {
	suffix := ""
	for n >= 0 {
		suffix = string(rune('A'+n%26)) + suffix
		n = n/26 - 1
	}
	return suffix
}

// sectionRef is the identifier a template row carries for a live section:
// the SIS id when present, the remote id otherwise.
func sectionRef(sec types.Section) string {
	if sec.SISSectionID != "" {
		return sec.SISSectionID
	}
	return sec.ID
}

// facilitatorFor returns the email of the facilitator currently teaching
// the section, or "" when it has none.
func facilitatorFor(facilitators []types.Facilitator, sectionID string) string {
	for _, f := range facilitators {
		if f.InSection(sectionID) {
			return f.Email
		}
	}
	return ""
}

func studentRef(s types.Student) string {
	if s.SISUserID != "" {
		return s.SISUserID
	}
	return s.ID
}

func groupByCampus(students []types.Student) map[string][]types.Student {
	buckets := make(map[string][]types.Student)
	for _, s := range students {
		campus := CampusFromEmail(s.Email)
		buckets[campus] = append(buckets[campus], s)
	}
	return buckets
}

// bucketOrder returns bucket keys alphabetically with "unknown" last, so
// template output is deterministic.
func bucketOrder(buckets map[string][]types.Student) []string {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		if k != "unknown" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := buckets["unknown"]; ok {
		keys = append(keys, "unknown")
	}
	return keys
}

func render(rows []Row) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(Columns); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.Record()); err != nil {
			return "", fmt.Errorf("failed to render template: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return sb.String(), nil
}

const instructions = `SECTION MANAGEMENT - BULK OPERATIONS CSV

This table shows the complete course state, including sections this tool did
not create, and accepts bulk changes on upload.

SECTION TYPES:
- tool_created: created by this tool (students movable, section deletable)
- existing:     created manually (READ-ONLY, shown for campus context)
- default:      the platform's default bucket (READ-ONLY)
- new_section:  proposed sections for unassigned students (editable)

HOW TO MAKE CHANGES:
1. Create sections: edit the NEW_SECTION_* rows (name, facilitator_email).
2. Move students: re-point a tool_created row's section_id and name at the
   target section.
3. Delete sections: set status to "deleted" on tool_created rows, or omit
   the section's rows entirely and upload with deletion mode enabled.
4. Assign facilitators: fill facilitator_email with a course staff address.

RULES:
- Only tool_created sections can be modified or deleted.
- section_type, and the id/name of any live section, are locked to remote
  state; changed values are rejected as tampering.
- Section names must be unique within the course.
- Dates use YYYY-MM-DD. Status is "active" or "deleted".
- Maximum upload: 1 MB, 2000 rows.`
