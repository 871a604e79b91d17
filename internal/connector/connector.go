// Package connector defines the per-platform capability the credential
// coordinator and the job handlers talk to: code exchange, token refresh
// and publishing content.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrUnknownPlatform   = errors.New("connector: unknown platform")
	ErrNoRefreshToken    = errors.New("connector: credential has no refresh token")
	ErrDuplicatePlatform = errors.New("connector: platform already registered")
)

// Token is the connector's view of a stored credential.
type Token struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// TokenResult is what a platform hands back from a code exchange or a
// refresh. Empty RefreshToken means the platform did not issue one.
// Zero ExpiresIn means the token does not expire.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	// AccountID is filled by connectors that can identify the account.
	AccountID string
}

// PostResult identifies published content on the platform.
type PostResult struct {
	PlatformPostID string `json:"platform_post_id"`
}

// Connector is implemented once per external platform.
type Connector interface {
	// Platform returns the registry key, e.g. "linkedin".
	Platform() string

	// AuthCodeURL builds the URL the user is sent to for consent.
	AuthCodeURL(state, redirectURI string) string

	ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error)
	Refresh(ctx context.Context, tok Token) (TokenResult, error)
	Post(ctx context.Context, tok Token, content json.RawMessage) (PostResult, error)
}

// StatusError is returned when a platform answers with a non-2xx status.
type StatusError struct {
	Platform string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("connector: %s returned status %d: %s", e.Platform, e.Code, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// IsRetryable reports whether err is worth retrying. Errors that do not
// come from a platform status are assumed transient.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrUnknownPlatform) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
