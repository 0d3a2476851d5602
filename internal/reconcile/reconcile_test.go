package reconcile

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sectionmgr/internal/ownership"
	"sectionmgr/internal/template"
	"sectionmgr/internal/types"
)

func ownedSection(id, name, sessionID string) types.Section {
	tag := ownership.NewTag("op-1", sessionID)
	return types.Section{
		ID:            id,
		SISSectionID:  ownership.SISID(sessionID, 1),
		IntegrationID: tag.Encode(),
		Name:          name,
	}
}

func testState() State {
	return State{
		Course: types.Course{ID: "7", CourseCode: "BIO101", Name: "Biology 101"},
		Sections: []types.Section{
			{ID: "1", Name: "Biology 101", Default: true},
			ownedSection("2", "Tutorial Melbourne A", "sess-1"),
			{ID: "3", Name: "Evening Lab", SISSectionID: "LAB-77"},
		},
		Students: []types.Student{
			{ID: "s1", Name: "Ada Abbott", SectionIDs: []string{"1", "2"}},
			{ID: "s2", Name: "Ben Brown", SISUserID: "SIS-2", SectionIDs: []string{"1", "2"}},
			{ID: "s3", Name: "Cem Canter", SectionIDs: []string{"1"}},
		},
		Facilitators: []types.Facilitator{
			{ID: "f1", Name: "Facilitator One", Email: "f1@example.edu"},
		},
	}
}

// ownedRow is a well-formed row for the owned fixture section.
func ownedRow(state State) Row {
	sec := state.Sections[1]
	return Row{
		Line: 2,
		Row: template.Row{
			SectionID:   sec.SISSectionID,
			CourseID:    "7",
			Name:        sec.Name,
			Status:      template.StatusActive,
			StudentID:   "s1",
			SectionType: string(template.TypeToolCreated),
			Operation:   template.OpCurrentEnrollment,
		},
	}
}

func TestParse(t *testing.T) {
	t.Run("round trips a minimal sheet", func(t *testing.T) {
		data := []byte("section_id,name,status,operation\n2,Tutorial A,active,current_enrollment\n")
		rows, err := Parse(data)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 2, rows[0].Line)
		assert.Equal(t, "Tutorial A", rows[0].Name)
		assert.Equal(t, template.StatusActive, rows[0].Status)
	})

	t.Run("headers match case-insensitively and unknown columns are ignored", func(t *testing.T) {
		data := []byte("Section_ID,NAME,status,extra\n2,Tutorial A,active,junk\n")
		rows, err := Parse(data)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "2", rows[0].SectionID)
	})

	t.Run("rejects empty uploads", func(t *testing.T) {
		_, err := Parse(nil)
		assert.ErrorContains(t, err, "empty")
	})

	t.Run("rejects oversized uploads", func(t *testing.T) {
		_, err := Parse(make([]byte, MaxUploadBytes+1))
		assert.ErrorContains(t, err, "exceeds limit")
	})

	t.Run("rejects sheets without a section_id column", func(t *testing.T) {
		_, err := Parse([]byte("name,status\nTutorial A,active\n"))
		assert.ErrorContains(t, err, "section_id")
	})

	t.Run("rejects header-only uploads", func(t *testing.T) {
		_, err := Parse([]byte("section_id,name,status\n"))
		assert.ErrorContains(t, err, "no data rows")
	})

	t.Run("rejects uploads over the row ceiling", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("section_id,name,status\n")
		for i := 0; i <= MaxRows; i++ {
			fmt.Fprintf(&b, "%d,Section %d,active\n", i, i)
		}
		_, err := Parse([]byte(b.String()))
		assert.ErrorContains(t, err, "rows")
	})
}

func TestReconcile_ValidRow(t *testing.T) {
	state := testState()
	result := Reconcile([]Row{ownedRow(state)}, state)

	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.ValidRows)
	assert.Zero(t, result.ErrorRows)
	assert.Empty(t, result.DeletionWarnings, "referenced owned section is not a deletion candidate")
}

func TestReconcile_TamperDetection(t *testing.T) {
	state := testState()

	t.Run("renaming a section is rejected", func(t *testing.T) {
		row := ownedRow(state)
		row.Name = "Tutorial Melbourne B"
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		require.Len(t, result.RowResults[0].Errors, 1)
		assert.Contains(t, result.RowResults[0].Errors[0], "cannot rename")
	})

	t.Run("declared section_type loses to derived classification", func(t *testing.T) {
		row := ownedRow(state)
		row.SectionType = string(template.TypeExisting)
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "tampering")
	})

	t.Run("pointing a section name at a different id is rejected", func(t *testing.T) {
		row := ownedRow(state)
		row.SectionID = "999"
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "section_id")
	})
}

func TestReconcile_ReadOnlySections(t *testing.T) {
	state := testState()

	t.Run("deleting a foreign section is rejected", func(t *testing.T) {
		row := Row{Line: 2, Row: template.Row{
			SectionID:   "LAB-77",
			Name:        "Evening Lab",
			Status:      template.StatusDeleted,
			SectionType: string(template.TypeExisting),
			Operation:   template.OpReadonlySection,
		}}
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "read-only")
	})

	t.Run("moving a student out of the default bucket warns", func(t *testing.T) {
		row := Row{Line: 2, Row: template.Row{
			SectionID:   "1",
			Name:        "Biology 101",
			Status:      template.StatusActive,
			StudentID:   "s3",
			SectionType: string(template.TypeDefault),
			Operation:   template.OpCurrentEnrollment,
		}}
		result := Reconcile([]Row{row}, state)

		assert.True(t, result.Valid)
		require.Len(t, result.RowResults[0].Warnings, 1)
		assert.Contains(t, result.RowResults[0].Warnings[0], "manually")
	})
}

func TestReconcile_RowChecks(t *testing.T) {
	state := testState()

	t.Run("unknown section is an error", func(t *testing.T) {
		row := ownedRow(state)
		row.SectionID = "404"
		row.Name = "Ghost Section"
		row.SectionType = ""
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "not found")
	})

	t.Run("missing required fields abort further checks", func(t *testing.T) {
		row := Row{Line: 2, Row: template.Row{Status: "bogus"}}
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		assert.Len(t, result.RowResults[0].Errors, 3)
	})

	t.Run("unknown student is an error, SIS id matches", func(t *testing.T) {
		bad := ownedRow(state)
		bad.StudentID = "s404"
		good := ownedRow(state)
		good.StudentID = "SIS-2"
		result := Reconcile([]Row{bad, good}, state)

		assert.Equal(t, 1, result.ErrorRows)
		assert.Contains(t, result.Errors[0], "student s404 not found")
	})

	t.Run("malformed facilitator email is an error, unknown one a warning", func(t *testing.T) {
		bad := ownedRow(state)
		bad.FacilitatorEmail = "not-an-email"
		unknown := ownedRow(state)
		unknown.FacilitatorEmail = "nobody@example.edu"
		result := Reconcile([]Row{bad, unknown}, state)

		assert.Equal(t, 1, result.ErrorRows)
		assert.Equal(t, 1, result.WarningRows)
	})

	t.Run("proposed section name colliding with a live one is an error", func(t *testing.T) {
		row := Row{Line: 2, Row: template.Row{
			SectionID: "NEW_SECTION_A",
			Name:      "evening lab",
			Status:    template.StatusActive,
			Operation: template.OpCreateAndEnroll,
		}}
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "already exists")
	})

	t.Run("dates must be ISO formatted", func(t *testing.T) {
		row := ownedRow(state)
		row.StartDate = "01/02/2026"
		row.EndDate = "2026-12-01"
		result := Reconcile([]Row{row}, state)

		require.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "start_date")
	})
}

func TestReconcile_OmittedOwnedSections(t *testing.T) {
	state := testState()
	members := make([]types.Student, 5)
	for i := range members {
		members[i] = types.Student{
			ID:         fmt.Sprintf("m%d", i+1),
			Name:       fmt.Sprintf("Member %d", i+1),
			SectionIDs: []string{"9"},
		}
	}
	state.Sections = append(state.Sections, ownedSection("9", "Tutorial Sydney A", "sess-2"))
	state.Students = append(state.Students, members...)

	// The upload references the first owned section but omits the second.
	result := Reconcile([]Row{ownedRow(state)}, state)

	assert.True(t, result.Valid, "omission is a warning, not an error")
	require.Len(t, result.DeletionWarnings, 1)

	c := result.DeletionWarnings[0]
	assert.Equal(t, "9", c.SectionID)
	assert.Equal(t, "Tutorial Sydney A", c.Name)
	assert.Equal(t, 5, c.StudentCount)
	assert.Len(t, c.Students, 5)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "5 enrolled students")
}

// A freshly generated template must reconcile cleanly against the state it
// was generated from.
func TestReconcile_TemplateRoundTrip(t *testing.T) {
	state := testState()
	tpl, err := template.BuildFromState(state.Course, state.Students, state.Facilitators, state.Sections)
	require.NoError(t, err)

	rows, err := Parse([]byte(tpl.Content))
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	result := Reconcile(rows, state)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Zero(t, result.ErrorRows)
	assert.Empty(t, result.DeletionWarnings)
}
