package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/policy"
	"github.com/nightlife-social/livechat/presence"
	"github.com/nightlife-social/livechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Broadcast(roomId, event string, payload interface{}, exclude string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type lookup map[string]*types.User

func (l lookup) Lookup(_ context.Context, userId string) (*types.User, error) {
	if u, ok := l[userId]; ok {
		return u, nil
	}
	return nil, types.ErrNotFound
}

var (
	fan   = types.User{Id: "fan", Name: "Fan", Role: types.RoleUser}
	fan2  = types.User{Id: "fan2", Name: "Fan 2", Role: types.RoleUser}
	dj    = types.User{Id: "dj", Name: "DJ", Role: types.RoleDJ}
	admin = types.User{Id: "admin", Name: "Admin", Role: types.RoleAdmin}
)

func setup(t *testing.T) (*Controller, *presence.Registry, *recorder) {
	reg := presence.NewRegistry()
	reg.Join("live-dj42", "c-fan", fan)
	reg.Join("live-dj42", "c-dj", dj)
	reg.Join("live-dj42", "c-admin", admin)
	p, err := policy.New("")
	require.NoError(t, err)
	rec := &recorder{}
	return NewController(reg, rec, p, lookup{"fan2": &fan2}, hclog.NewNullLogger()), reg, rec
}

func TestMuteAndUnmute(t *testing.T) {
	c, reg, rec := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Mute(ctx, "live-dj42", &dj, "fan"))
	assert.True(t, reg.IsMuted("live-dj42", "fan"))
	require.NoError(t, c.Unmute(ctx, "live-dj42", &dj, "fan"))
	assert.False(t, c.IsMuted("live-dj42", "fan"))
	assert.Equal(t, []string{types.EventUserMuted, types.EventUserUnmuted}, rec.events)
}

func TestMuteRejections(t *testing.T) {
	c, _, rec := setup(t)
	ctx := context.Background()
	outsider := types.User{Id: "other-dj", Name: "Other", Role: types.RoleDJ}

	cases := []struct {
		name   string
		room   string
		actor  *types.User
		target string
		want   error
	}{
		{"anonymous", "live-dj42", nil, "fan", types.ErrUnauthorized},
		{"plain user", "live-dj42", &fan, "dj", types.ErrForbidden},
		{"bad room", "", &dj, "fan", types.ErrInvalidInput},
		{"missing target", "live-dj42", &dj, "", types.ErrInvalidInput},
		{"actor not in room", "live-dj42", &outsider, "fan", types.ErrNotFound},
		{"self", "live-dj42", &dj, "dj", types.ErrInvalidInput},
		{"unknown target", "live-dj42", &dj, "ghost", types.ErrNotFound},
		{"dj mutes admin", "live-dj42", &dj, "admin", types.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Mute(ctx, tc.room, tc.actor, tc.target)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Empty(t, rec.events)
}

func TestMuteAbsentKnownUser(t *testing.T) {
	c, reg, _ := setup(t)
	require.NoError(t, c.Mute(context.Background(), "live-dj42", &admin, "fan2"))
	assert.True(t, reg.IsMuted("live-dj42", "fan2"))
}

func TestMuteIsRoomScoped(t *testing.T) {
	c, reg, _ := setup(t)
	reg.Join("club-1", "c-fan", fan)
	reg.Join("club-1", "c-dj", dj)
	require.NoError(t, c.Mute(context.Background(), "club-1", &dj, "fan"))
	assert.True(t, reg.IsMuted("club-1", "fan"))
	assert.False(t, reg.IsMuted("live-dj42", "fan"))
}
