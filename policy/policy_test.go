package policy

import (
	"testing"

	"github.com/nightlife-social/livechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fan   = types.User{Id: "fan", Name: "Fan", Role: types.RoleUser}
	dj    = types.User{Id: "dj", Name: "DJ", Role: types.RoleDJ}
	admin = types.User{Id: "admin", Name: "Admin", Role: types.RoleAdmin}
)

func TestDefaultPolicy(t *testing.T) {
	p, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultExpression, p.String())

	cases := []struct {
		actor, target types.User
		allowed       bool
	}{
		{dj, fan, true},
		{dj, dj, true},
		{dj, admin, false},
		{admin, admin, true},
		{admin, dj, true},
	}
	for _, c := range cases {
		ok, err := p.Allowed(c.actor, c.target, "live-dj42")
		require.NoError(t, err)
		assert.Equal(t, c.allowed, ok, "%s -> %s", c.actor.Id, c.target.Id)
	}
}

func TestRoomAwarePolicy(t *testing.T) {
	p, err := New(`Actor.Role == "ADMIN" || (Room.Kind == "DJ" && Target.Role == "USER")`)
	require.NoError(t, err)

	ok, err := p.Allowed(dj, fan, "live-dj42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Allowed(dj, fan, "club-berghain")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := New(`Actor.Nick == "x"`)
	assert.Error(t, err)
	_, err = New(`Actor.Role`)
	assert.Error(t, err)
}
