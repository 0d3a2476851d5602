// Package reconcile diffs an uploaded table against live remote state. Every
// row's classification is re-derived from what the remote system actually
// reports; the table's own claims are treated as untrusted input.
package reconcile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"sectionmgr/internal/template"
)

// Hard upload ceilings. Not configurable per call.
const (
	MaxUploadBytes = 1 << 20
	MaxRows        = 2000
)

// Row is one parsed record with its 1-based file line (header is line 1).
type Row struct {
	template.Row
	Line int
}

// Parse reads an uploaded CSV into rows. Headers are matched
// case-insensitively after trimming; unknown columns are ignored and
// missing ones yield empty fields, so a reordered or extended sheet still
// parses. Structural failures (size, row count, malformed CSV) are input
// errors: nothing downstream runs.
func Parse(data []byte) ([]Row, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("upload is empty")
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("upload size %dKB exceeds limit of %dKB", len(data)/1024, MaxUploadBytes/1024)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index["section_id"]; !ok {
		return nil, fmt.Errorf("upload is missing the section_id column")
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse upload at line %d: %w", line, err)
		}
		if isBlank(record) {
			continue
		}
		rows = append(rows, Row{
			Line: line,
			Row: template.Row{
				SectionID:        field(record, "section_id"),
				CourseID:         field(record, "course_id"),
				Name:             field(record, "name"),
				Status:           field(record, "status"),
				StartDate:        field(record, "start_date"),
				EndDate:          field(record, "end_date"),
				StudentID:        field(record, "student_id"),
				StudentName:      field(record, "student_name"),
				StudentEmail:     field(record, "student_email"),
				FacilitatorEmail: field(record, "facilitator_email"),
				SectionType:      field(record, "section_type"),
				CampusInfo:       field(record, "campus_info"),
				Operation:        field(record, "operation"),
			},
		})
		if len(rows) > MaxRows {
			return nil, fmt.Errorf("too many rows (limit %d)", MaxRows)
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upload contains no data rows")
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
