// Package ratelimit implements the per-user sliding-window send quota.
package ratelimit

import (
	"context"
	"time"

	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/types"
)

// Policy allows MaxMessages sends in any Window.
type Policy struct {
	MaxMessages int
	Window      time.Duration
}

// Policies holds the role-specific thresholds.
type Policies struct {
	Default Policy
	DJ      Policy
	Admin   Policy
}

func DefaultPolicies() Policies {
	return Policies{
		Default: Policy{MaxMessages: 5, Window: 5 * time.Second},
		DJ:      Policy{MaxMessages: 10, Window: 5 * time.Second},
		Admin:   Policy{MaxMessages: 20, Window: 5 * time.Second},
	}
}

func PoliciesFromConfig(cfg config.RateLimitConfig) Policies {
	return Policies{
		Default: Policy(cfg.Default),
		DJ:      Policy(cfg.DJ),
		Admin:   Policy(cfg.Admin),
	}
}

func (p Policies) ForRole(role types.Role) Policy {
	switch role {
	case types.RoleAdmin:
		return p.Admin
	case types.RoleDJ:
		return p.DJ
	}
	return p.Default
}

// Reservation is the outcome of a single admission decision. An allowed reservation has already been
// recorded in the window; Cancel takes it back when a later gate rejects the send.
type Reservation struct {
	Allowed    bool
	RetryAfter time.Duration
	cancel     func()
}

// Cancel removes the recorded send from the window. It is a no-op for rejected reservations and on repeated
// calls.
func (r *Reservation) Cancel() {
	if r == nil || r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
}

// A Limiter checks and records a send in one atomic step.
type Limiter interface {
	Reserve(ctx context.Context, key string, p Policy) (*Reservation, error)
	// Sweep drops windows that only contain expired entries.
	Sweep()
	Close() error
}
