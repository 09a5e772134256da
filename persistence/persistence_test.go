package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Persister {
	res := map[string]Persister{}
	for _, cfg := range []config.PersistenceConfig{
		{Type: config.PersistenceBuntDB, DSN: ":memory:"},
		{Type: config.PersistenceSQLite, DSN: ":memory:"},
	} {
		p, err := NewPersister(cfg)
		require.NoError(t, err, cfg.Type)
		t.Cleanup(func() { p.Close() })
		res[cfg.Type] = p
	}
	return res
}

func newMessage(roomId, body string) *types.ChatMessage {
	return &types.ChatMessage{
		RoomId:     roomId,
		SenderId:   "alice",
		SenderName: "Alice",
		SenderRole: types.RoleUser,
		Message:    body,
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.StoreUser(ctx, types.User{Id: "b", Name: "Bob", Role: types.RoleDJ}))
			require.NoError(t, p.StoreUser(ctx, types.User{Id: "a", Name: "Alice"}))

			u, err := p.GetUser(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "Alice", u.Name)
			assert.Equal(t, types.RoleUser, u.Role)

			require.NoError(t, p.StoreUser(ctx, types.User{Id: "a", Name: "Alice", Role: types.RoleAdmin}))
			u, err = p.GetUser(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, types.RoleAdmin, u.Role)

			users, err := p.GetUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, "a", users[0].Id)
			assert.Equal(t, "b", users[1].Id)

			require.NoError(t, p.DeleteUser(ctx, "b"))
			_, err = p.GetUser(ctx, "b")
			assert.True(t, errors.Is(err, ErrNotFound))
			assert.True(t, errors.Is(err, types.ErrNotFound))
			assert.True(t, errors.Is(p.DeleteUser(ctx, "b"), ErrNotFound))
		})
	}
}

func TestCreateMessageAndHistory(t *testing.T) {
	ctx := context.Background()
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var created []*types.ChatMessage
			for i := 0; i < 5; i++ {
				msg := newMessage("club-1", fmt.Sprintf("msg %d", i))
				if i == 0 {
					msg.Format = &types.Format{Bold: true}
				}
				require.NoError(t, p.CreateMessage(ctx, msg))
				assert.NotEmpty(t, msg.Id)
				assert.False(t, msg.CreatedAt.IsZero())
				assert.Equal(t, types.KindText, msg.Kind)
				assert.NotNil(t, msg.Reactions)
				created = append(created, msg)
				time.Sleep(2 * time.Millisecond)
			}
			require.NoError(t, p.CreateMessage(ctx, newMessage("club-10", "elsewhere")))

			page, err := p.History(ctx, "club-1", 3, time.Time{})
			require.NoError(t, err)
			require.Len(t, page, 3)
			assert.Equal(t, "msg 4", page[0].Message)
			assert.Equal(t, "msg 2", page[2].Message)

			page, err = p.History(ctx, "club-1", 3, page[2].CreatedAt)
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, "msg 1", page[0].Message)
			assert.Equal(t, "msg 0", page[1].Message)
			assert.Equal(t, &types.Format{Bold: true}, page[1].Format)
			assert.Equal(t, created[0].Id, page[1].Id)
			assert.True(t, created[0].CreatedAt.Equal(page[1].CreatedAt))

			page, err = p.History(ctx, "nowhere", 10, time.Time{})
			require.NoError(t, err)
			assert.Empty(t, page)
		})
	}
}

func TestReactions(t *testing.T) {
	ctx := context.Background()
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			msg := newMessage("live-dj42", "drop it")
			require.NoError(t, p.CreateMessage(ctx, msg))

			once, err := p.AddReaction(ctx, msg.Id, "bob", "🔥")
			require.NoError(t, err)
			twice, err := p.AddReaction(ctx, msg.Id, "bob", "🔥")
			require.NoError(t, err)
			assert.Equal(t, once.Reactions, twice.Reactions)
			assert.Equal(t, types.Reactions{"🔥": {"bob"}}, twice.Reactions)
			assert.Equal(t, "live-dj42", twice.RoomId)

			_, err = p.AddReaction(ctx, msg.Id, "alice", "🔥")
			require.NoError(t, err)
			got, err := p.GetMessage(ctx, msg.Id)
			require.NoError(t, err)
			assert.Equal(t, []string{"alice", "bob"}, got.Reactions["🔥"])

			got, err = p.RemoveReaction(ctx, msg.Id, "bob", "🔥")
			require.NoError(t, err)
			assert.Equal(t, types.Reactions{"🔥": {"alice"}}, got.Reactions)
			got, err = p.RemoveReaction(ctx, msg.Id, "alice", "🔥")
			require.NoError(t, err)
			assert.Empty(t, got.Reactions)
			got, err = p.RemoveReaction(ctx, msg.Id, "alice", "🔥")
			require.NoError(t, err)
			assert.Empty(t, got.Reactions)

			_, err = p.AddReaction(ctx, "missing", "bob", "🔥")
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = p.GetMessage(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestNewPersisterUnknownType(t *testing.T) {
	_, err := NewPersister(config.PersistenceConfig{Type: "mongo", DSN: "x"})
	assert.Error(t, err)
}
