// Package credential owns stored OAuth credentials and the coordinator
// that keeps their access tokens fresh.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/cadence/internal/connector"
)

// Status of a stored credential.
type Status string

// Credential statuses.
const (
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
)

// Sentinel errors.
var (
	ErrNotFound      = errors.New("credential: not found")
	ErrDisconnected  = errors.New("credential: account disconnected")
	ErrRefreshFailed = errors.New("credential: refresh failed")
)

// Credential is one connected platform account. Tokens never serialize.
type Credential struct {
	Platform        string     `json:"platform"`
	AccountID       string     `json:"account_id"`
	OwnerID         string     `json:"owner_id"`
	AccessToken     string     `json:"-"`
	RefreshToken    string     `json:"-"`
	ExpiresAt       *time.Time `json:"token_expires_at,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Key identifies a credential.
type Key struct {
	Platform  string
	AccountID string
}

// Key returns the credential's identity.
func (c Credential) Key() Key {
	return Key{Platform: c.Platform, AccountID: c.AccountID}
}

// Token converts the credential to the connector's view.
func (c Credential) Token() connector.Token {
	return connector.Token{
		AccountID:    c.AccountID,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
	}
}

// TokenUpdate is the set of fields a refresh writes.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	RefreshedAt  time.Time
}

// Store persists credentials keyed by (platform, account_id).
type Store interface {
	// Get returns ErrNotFound when no credential matches.
	Get(ctx context.Context, platform, accountID string) (Credential, error)

	// Upsert inserts or replaces a credential, preserving CreatedAt.
	Upsert(ctx context.Context, c Credential) error

	// UpdateToken overwrites token fields of an existing credential.
	UpdateToken(ctx context.Context, platform, accountID string, u TokenUpdate) error

	// SetStatus changes the status of an existing credential.
	SetStatus(ctx context.Context, platform, accountID string, status Status, now time.Time) error

	ListByOwner(ctx context.Context, ownerID string) ([]Credential, error)

	// ListExpiring returns active credentials whose expiry falls within
	// [from, to], ordered by expiry.
	ListExpiring(ctx context.Context, from, to time.Time) ([]Credential, error)

	// ListActive returns every active credential, ordered by owner.
	ListActive(ctx context.Context) ([]Credential, error)
}

// RefreshError reports a connector refusing a refresh. It matches
// ErrRefreshFailed and the underlying cause with errors.Is.
type RefreshError struct {
	Platform  string
	AccountID string
	Err       error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("credential: refresh %s/%s failed: %v", e.Platform, e.AccountID, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshFailed, e.Err}
}

func expiryFrom(now time.Time, in time.Duration) *time.Time {
	if in <= 0 {
		return nil
	}
	t := now.Add(in)
	return &t
}
