package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRoomId(t *testing.T) {
	for _, id := range []string{"live-dj42", "club-7", "a", "after_party.2024", strings.Repeat("x", 128)} {
		assert.True(t, ValidRoomId(id), id)
	}
	for _, id := range []string{"", "-leading", "with space", "colon:room", "slash/room", strings.Repeat("x", 129)} {
		assert.False(t, ValidRoomId(id), id)
	}
}

func TestRoomKindOf(t *testing.T) {
	assert.Equal(t, RoomKindClub, RoomKindOf(ClubRoomID("7")))
	assert.Equal(t, RoomKindDJ, RoomKindOf(DJRoomID("42")))
	assert.Equal(t, RoomKindDJ, RoomKindOf("dj-42"))
	assert.Equal(t, RoomKindAdhoc, RoomKindOf("afterparty"))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" dj ")
	require.NoError(t, err)
	assert.Equal(t, RoleDJ, r)
	assert.True(t, r.CanModerate())
	assert.False(t, RoleUser.CanModerate())
	_, err = ParseRole("bouncer")
	assert.Error(t, err)
}

func TestValidEmoji(t *testing.T) {
	assert.True(t, ValidEmoji("🔥"))
	assert.True(t, ValidEmoji("+1"))
	assert.False(t, ValidEmoji(""))
	assert.False(t, ValidEmoji("  "))
	assert.False(t, ValidEmoji(strings.Repeat("🔥", 5)))
	assert.False(t, ValidEmoji("\xff"))
}

func TestReactions(t *testing.T) {
	r := Reactions{}
	assert.True(t, r.Add("🔥", "bob"))
	assert.True(t, r.Add("🔥", "alice"))
	assert.False(t, r.Add("🔥", "alice"))
	assert.Equal(t, []string{"alice", "bob"}, r["🔥"])
	assert.True(t, r.Has("🔥", "bob"))

	assert.True(t, r.Remove("🔥", "alice"))
	assert.False(t, r.Remove("🔥", "alice"))
	assert.True(t, r.Remove("🔥", "bob"))
	_, ok := r["🔥"]
	assert.False(t, ok)

	b, err := json.Marshal(Reactions(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestChatErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("send: %w", NewError(CodeMuted, "muted in %s", "club-7"))
	assert.True(t, errors.Is(err, ErrMuted))
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, CodeMuted, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))

	cause := errors.New("disk full")
	wrapped := WrapError(CodePersistenceFailed, cause, "message could not be saved")
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, "PERSISTENCE_FAILED: message could not be saved: disk full", wrapped.Error())

	assert.Equal(t, CodeInvalidInput, AsChatError(errors.New("boom")).Code)
}

func TestEncode(t *testing.T) {
	frame, err := Encode(EventUserCount, UserCount{RoomId: "club-7", Count: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user_count","data":{"roomId":"club-7","count":2}}`, string(frame))

	frame, err = Encode(EventHeartbeat, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"heartbeat"}`, string(frame))
}

func TestFormatIsZero(t *testing.T) {
	var f *Format
	assert.True(t, f.IsZero())
	assert.True(t, (&Format{}).IsZero())
	assert.False(t, (&Format{Bold: true}).IsZero())
}
