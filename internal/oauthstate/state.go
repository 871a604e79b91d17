// Package oauthstate issues and validates the short-lived, single-use CSRF
// tokens that bind a pending OAuth authorization to a user, a platform and
// a redirect URI.
package oauthstate

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a generated state stays valid.
const DefaultTTL = 10 * time.Minute

// ErrInvalidState is the only error callers of ValidateState see for a
// token that is unknown, expired, bound to another platform or user, or
// already used.
var ErrInvalidState = errors.New("oauthstate: invalid state")

// Store-level outcomes. The registry logs them but never returns them.
var (
	// ErrNoMatch means no unused, unexpired record matched the claim.
	ErrNoMatch = errors.New("oauthstate: no matching state")

	// ErrConsumed means the record exists and matched but was already used.
	ErrConsumed = errors.New("oauthstate: state already used")
)

// Record is one persisted authorization state.
type Record struct {
	Token       string            `json:"state_token"`
	UserID      string            `json:"user_id"`
	Platform    string            `json:"platform"`
	RedirectURI string            `json:"redirect_uri"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Used        bool              `json:"used"`
}

// Claim selects the record a validation is allowed to consume.
type Claim struct {
	Token    string
	Platform string
	// UserID is optional; empty matches any user.
	UserID string
	Now    time.Time
}

// Matches reports whether r satisfies c, ignoring the used flag.
func (c Claim) Matches(r Record) bool {
	if r.Token != c.Token || r.Platform != c.Platform {
		return false
	}
	if c.UserID != "" && r.UserID != c.UserID {
		return false
	}
	return c.Now.Before(r.ExpiresAt)
}

// Store persists state records. Consume must check the claim and mark the
// record used in one atomic step: of two concurrent Consume calls for the
// same token, at most one may succeed.
type Store interface {
	Put(ctx context.Context, rec Record) error

	// Consume returns the record and marks it used. It returns ErrNoMatch
	// or ErrConsumed when the claim cannot be honored.
	Consume(ctx context.Context, c Claim) (Record, error)

	// DeleteExpired removes every record with ExpiresAt before the given
	// time, used or not, and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
