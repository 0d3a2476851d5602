// Package ownership stamps and recognizes the sections this tool created.
//
// A tag is written twice when a section is created: as JSON in the section's
// integration-id field, and as a fixed prefix on its SIS identifier. Either
// encoding alone is enough to prove ownership, so a platform that strips or
// truncates one field does not orphan the section. Classification is pure:
// malformed metadata means "not ours", never an error.
package ownership

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sectionmgr/internal/types"
)

const (
	// Marker identifies this tool in serialized tags.
	Marker = "sectionmgr"

	// Version is embedded in every tag for forward compatibility.
	Version = "1.0"

	// SISPrefix marks SIS section identifiers minted by this tool.
	SISPrefix = "SM_"
)

// Tag is the structured ownership value embedded into a section's metadata.
type Tag struct {
	Tool      string    `json:"tool"`
	Version   string    `json:"version"`
	CreatedBy string    `json:"created_by"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTag builds a tag binding a section to the operator and execution session.
func NewTag(operatorID, sessionID string) Tag {
	return Tag{
		Tool:      Marker,
		Version:   Version,
		CreatedBy: operatorID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// Encode serializes the tag for the section's integration-id field.
func (t Tag) Encode() string {
	data, err := json.Marshal(t)
	if err != nil {
		// Tag has no unmarshalable fields; kept for interface honesty.
		return ""
	}
	return string(data)
}

// ParseTag decodes a tag from an integration-id value. The second return is
// false when the value is empty, malformed, or carries another tool's marker.
func ParseTag(integrationID string) (Tag, bool) {
	if integrationID == "" {
		return Tag{}, false
	}
	var t Tag
	if err := json.Unmarshal([]byte(integrationID), &t); err != nil {
		// Not JSON. A raw marker substring still counts as ours: some
		// platforms mangle the field but preserve the text.
		if strings.Contains(integrationID, Marker) {
			return Tag{Tool: Marker}, true
		}
		return Tag{}, false
	}
	if t.Tool != Marker {
		return Tag{}, false
	}
	return t, true
}

// NewSessionID mints an opaque session identifier for one execution batch.
func NewSessionID() string {
	return uuid.NewString()
}

// SISID builds the SIS section identifier for the n-th section of a session.
// The prefix makes ownership recoverable even when the integration-id field
// is unreadable.
func SISID(sessionID string, n int) string {
	short := sessionID
	if i := strings.IndexByte(short, '-'); i > 0 {
		short = short[:i]
	}
	return fmt.Sprintf("%s%d_%d_%s", SISPrefix, time.Now().Unix(), n, short)
}

// IsOwned reports whether the section was created by this tool. Either the
// SIS prefix or a parsable tag with our marker is sufficient.
func IsOwned(sec types.Section) bool {
	if strings.HasPrefix(sec.SISSectionID, SISPrefix) {
		return true
	}
	_, ok := ParseTag(sec.IntegrationID)
	return ok
}

// SessionOf extracts the session id a section was created under.
// Returns false for foreign sections and for owned sections whose
// integration-id encoding was lost.
func SessionOf(sec types.Section) (string, bool) {
	t, ok := ParseTag(sec.IntegrationID)
	if !ok || t.SessionID == "" {
		return "", false
	}
	return t.SessionID, true
}
