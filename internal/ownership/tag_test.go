package ownership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sectionmgr/internal/types"
)

func TestTagRoundTrip(t *testing.T) {
	session := NewSessionID()
	tag := NewTag("operator-42", session)

	parsed, ok := ParseTag(tag.Encode())
	require.True(t, ok)
	assert.Equal(t, Marker, parsed.Tool)
	assert.Equal(t, "operator-42", parsed.CreatedBy)
	assert.Equal(t, session, parsed.SessionID)
	assert.False(t, parsed.Timestamp.IsZero())
}

func TestParseTag_Malformed(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok := ParseTag("")
		assert.False(t, ok)
	})

	t.Run("garbage is not owned, not an error", func(t *testing.T) {
		_, ok := ParseTag("{{{not json")
		assert.False(t, ok)
	})

	t.Run("foreign tool marker", func(t *testing.T) {
		_, ok := ParseTag(`{"tool":"other_tool","session_id":"x"}`)
		assert.False(t, ok)
	})

	t.Run("mangled field keeping marker text", func(t *testing.T) {
		_, ok := ParseTag("created by sectionmgr v1")
		assert.True(t, ok)
	})
}

func TestIsOwned(t *testing.T) {
	tag := NewTag("op", "sess-1")

	cases := []struct {
		name string
		sec  types.Section
		want bool
	}{
		{"both encodings", types.Section{SISSectionID: SISID("sess-1", 1), IntegrationID: tag.Encode()}, true},
		{"sis prefix only", types.Section{SISSectionID: "SM_1700000000_1_abc"}, true},
		{"integration id only", types.Section{IntegrationID: tag.Encode()}, true},
		{"foreign section", types.Section{SISSectionID: "2024-SPRING-01", Name: "Tutorial Group 3"}, false},
		{"malformed metadata", types.Section{IntegrationID: "%%%"}, false},
		{"untagged", types.Section{Name: "Default Section"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsOwned(tc.sec))
		})
	}
}

func TestSessionOf(t *testing.T) {
	tag := NewTag("op", "sess-9")

	id, ok := SessionOf(types.Section{IntegrationID: tag.Encode()})
	require.True(t, ok)
	assert.Equal(t, "sess-9", id)

	_, ok = SessionOf(types.Section{SISSectionID: "SM_1_1_x"})
	assert.False(t, ok, "prefix-only sections have no recoverable session")

	_, ok = SessionOf(types.Section{Name: "Tutorial Group 3"})
	assert.False(t, ok)
}

func TestSISID_Prefix(t *testing.T) {
	id := SISID(NewSessionID(), 3)
	assert.True(t, len(id) > len(SISPrefix))
	assert.Contains(t, id, SISPrefix)
}
