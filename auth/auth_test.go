package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/persistence"
	"github.com/nightlife-social/livechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) persistence.Persister {
	p, err := persistence.NewPersister(config.PersistenceConfig{Type: config.PersistenceBuntDB, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier("secret", "livechat")
	token, err := v.IssueToken("alice", "Alice", time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{Subject: "alice", Name: "Alice"}, id)

	_, err = NewJWTVerifier("other", "livechat").Verify(context.Background(), token)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	_, err = NewJWTVerifier("secret", "someone-else").Verify(context.Background(), token)
	assert.Error(t, err)

	expired, err := v.IssueToken("alice", "Alice", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
}

func TestDirectoryResolve(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.StoreUser(ctx, types.User{Id: "dj", Name: "DJ Night", Role: types.RoleDJ}))

	d, err := NewDirectoryFromConfig(config.AuthConfig{
		JWT:             config.JWTConfig{Secret: "secret", Issuer: "livechat"},
		DefaultProvider: ProviderJWT,
		CacheSize:       8,
	}, store, hclog.NewNullLogger())
	require.NoError(t, err)
	v := NewJWTVerifier("secret", "livechat")

	token, _ := v.IssueToken("dj", "Someone Else", time.Minute)
	u, err := d.Resolve(ctx, token, "")
	require.NoError(t, err)
	assert.Equal(t, "DJ Night", u.Name)
	assert.Equal(t, types.RoleDJ, u.Role)

	// unknown users are registered as USER
	token, _ = v.IssueToken("fan", "Fan", time.Minute)
	u, err = d.Resolve(ctx, token, ProviderJWT)
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, u.Role)
	stored, err := store.GetUser(ctx, "fan")
	require.NoError(t, err)
	assert.Equal(t, "Fan", stored.Name)

	token, _ = v.IssueToken("anon", "", time.Minute)
	u, err = d.Resolve(ctx, token, ProviderJWT)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Name, "(guest)"))

	_, err = d.Resolve(ctx, "", "")
	assert.True(t, errors.Is(err, ErrInvalidCredential))
	_, err = d.Resolve(ctx, token, "facebook")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
	_, err = d.Resolve(ctx, "garbage", "")
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
}

func TestDirectoryCache(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	d, err := NewDirectory(store, ProviderJWT, 8, hclog.NewNullLogger())
	require.NoError(t, err)
	v := NewJWTVerifier("secret", "")
	d.Register(ProviderJWT, v)

	token, _ := v.IssueToken("u1", "U1", time.Minute)
	_, err = d.Resolve(ctx, token, "")
	require.NoError(t, err)

	// a role change written by another process shows up on the next handshake
	require.NoError(t, store.StoreUser(ctx, types.User{Id: "u1", Name: "U1", Role: types.RoleAdmin}))
	u, err := d.Resolve(ctx, token, "")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, u.Role)

	// and refreshes the cached profile
	u, err = d.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, u.Role)

	require.NoError(t, store.StoreUser(ctx, types.User{Id: "u1", Name: "U1", Role: types.RoleDJ}))
	u, err = d.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, u.Role)
	d.Invalidate("u1")
	u, err = d.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleDJ, u.Role)
	u, err = d.Resolve(ctx, token, "")
	require.NoError(t, err)
	assert.Equal(t, types.RoleDJ, u.Role)
	_, err = d.Lookup(ctx, "nobody")
	assert.True(t, errors.Is(err, persistence.ErrNotFound))
}

func TestCredentialFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/socketio?token=abc&provider=google", nil)
	cred, provider := CredentialFromRequest(r)
	assert.Equal(t, "abc", cred)
	assert.Equal(t, "google", provider)

	r = httptest.NewRequest(http.MethodGet, "/api/socketio", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	cred, provider = CredentialFromRequest(r)
	assert.Equal(t, "xyz", cred)
	assert.Equal(t, "", provider)

	r = httptest.NewRequest(http.MethodGet, "/api/socketio", nil)
	r.Header.Set("Authorization", "Basic xyz")
	cred, _ = CredentialFromRequest(r)
	assert.Equal(t, "", cred)
}
