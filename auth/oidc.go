package auth

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/types"
)

// OIDCVerifier verifies a given OIDC ID-Token using the configured OIDC provider. The provider's discovery
// document is fetched on first use.
// TODO: the user id is the "email" claim, this could be made configurable. But: ensure that it is unique
// across the user base!
type OIDCVerifier struct {
	cfg      config.OIDCConfig
	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(cfg config.OIDCConfig) *OIDCVerifier {
	return &OIDCVerifier{cfg: cfg}
}

func (v *OIDCVerifier) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.verifier != nil {
		return v.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, v.cfg.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if v.cfg.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = v.cfg.ClientId
	}
	v.verifier = provider.Verifier(&conf)
	return v.verifier, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	verifier, err := v.idTokenVerifier(ctx)
	if err != nil {
		return Identity{}, types.WrapError(types.CodeUnauthorized, err, "identity provider unavailable")
	}
	verified, err := verifier.Verify(ctx, idToken)
	if err != nil {
		return Identity{}, types.WrapError(types.CodeUnauthorized, err, ErrInvalidCredential.Message)
	}
	claims := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	if err := verified.Claims(&claims); err != nil {
		return Identity{}, types.WrapError(types.CodeUnauthorized, err, ErrInvalidCredential.Message)
	}
	if claims.Email == "" {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{Subject: claims.Email, Name: claims.Name}, nil
}
