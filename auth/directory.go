// Package auth is the account directory: it turns a handshake credential into a server-resolved user.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/folkengine/goname"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/persistence"
	"github.com/nightlife-social/livechat/types"
)

// Identity is what a verifier vouches for. Name is a hint used only when registering a new user.
type Identity struct {
	Subject string
	Name    string
}

type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Directory resolves credentials to users. Role and display name always come from the user store, never from
// the credential itself.
type Directory struct {
	verifiers       map[string]Verifier
	defaultProvider string
	users           persistence.UserStore
	cache           *lru.ARCCache
	logger          hclog.Logger
}

func NewDirectory(users persistence.UserStore, defaultProvider string, cacheSize int, logger hclog.Logger) (*Directory, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Directory{
		verifiers:       make(map[string]Verifier),
		defaultProvider: defaultProvider,
		users:           users,
		cache:           cache,
		logger:          globals.Logger(logger, "auth"),
	}, nil
}

// NewDirectoryFromConfig registers the jwt verifier (if a secret is configured) and every OIDC provider.
func NewDirectoryFromConfig(cfg config.AuthConfig, users persistence.UserStore, logger hclog.Logger) (*Directory, error) {
	d, err := NewDirectory(users, cfg.DefaultProvider, cfg.CacheSize, logger)
	if err != nil {
		return nil, err
	}
	if cfg.JWT.Secret != "" {
		d.Register(ProviderJWT, NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer))
	}
	for _, oc := range cfg.OIDCConfigs {
		if oc.Name == "" || oc.ProviderUrl == "" {
			return nil, fmt.Errorf("oidc provider needs name and provider_url")
		}
		d.Register(oc.Name, NewOIDCVerifier(oc))
	}
	return d, nil
}

func (d *Directory) Register(provider string, v Verifier) {
	d.verifiers[provider] = v
}

// Resolve verifies credential with the named provider (the default one if empty) and returns the user,
// registering unknown users with role USER. The profile is always read from the store, so role changes made
// elsewhere apply from the next handshake on; the cache entry used by Lookup is refreshed along the way.
func (d *Directory) Resolve(ctx context.Context, credential, provider string) (*types.User, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	if provider == "" {
		provider = d.defaultProvider
	}
	v, ok := d.verifiers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	id, err := v.Verify(ctx, credential)
	if err != nil {
		d.logger.Debug("credential rejected", "provider", provider, "error", err)
		return nil, err
	}

	user, err := d.users.GetUser(ctx, id.Subject)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		user = &types.User{Id: id.Subject, Name: id.Name, Role: types.RoleUser}
		if user.Name == "" {
			user.Name = guestName()
		}
		if err := d.users.StoreUser(ctx, *user); err != nil {
			return nil, types.WrapError(types.CodePersistenceFailed, err, "could not register user")
		}
		d.logger.Info("registered user", "user", user.Id, "provider", provider)
	case err != nil:
		return nil, types.WrapError(types.CodePersistenceFailed, err, "could not load user")
	case user.Name == "":
		user.Name = guestName()
	}
	d.cache.Add(user.Id, *user)
	return copyUser(user), nil
}

// Lookup returns a known user without registering anything. Profiles may be served from the cache.
func (d *Directory) Lookup(ctx context.Context, userId string) (*types.User, error) {
	if u, ok := d.cached(userId); ok {
		return u, nil
	}
	user, err := d.users.GetUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	d.cache.Add(user.Id, *user)
	return user, nil
}

// Invalidate drops a cached profile, f.e. after a role change.
func (d *Directory) Invalidate(userId string) {
	d.cache.Remove(userId)
}

func (d *Directory) cached(userId string) (*types.User, bool) {
	v, ok := d.cache.Get(userId)
	if !ok {
		return nil, false
	}
	u := v.(types.User)
	return &u, true
}

func copyUser(u *types.User) *types.User {
	c := *u
	return &c
}

func guestName() string {
	return goname.New(goname.FantasyMap).FirstLast() + " (guest)"
}
