package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/flemzord/cadence/internal/clock"
	"github.com/flemzord/cadence/internal/metrics"
)

// tokenBytes yields 256 bits of entropy per state.
const tokenBytes = 32

// Grant is what a successful validation hands back to the callback.
type Grant struct {
	UserID      string
	RedirectURI string
	Metadata    map[string]string
}

// Options configures a Registry.
type Options struct {
	TTL     time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Registry generates and validates OAuth state tokens.
type Registry struct {
	store   Store
	ttl     time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store Store, opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		store:   store,
		ttl:     opts.TTL,
		clock:   clock.OrReal(opts.Clock),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// GenerateState persists a new state bound to the given user, platform and
// redirect URI, and returns its token.
func (r *Registry) GenerateState(ctx context.Context, userID, platform, redirectURI string, metadata map[string]string) (string, error) {
	if platform == "" {
		return "", errors.New("oauthstate: platform is required")
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := r.clock.Now()
	rec := Record{
		Token:       token,
		UserID:      userID,
		Platform:    platform,
		RedirectURI: redirectURI,
		Metadata:    maps.Clone(metadata),
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("oauthstate: persist: %w", err)
	}
	return token, nil
}

// ValidateState consumes the token if it exists, matches platform (and
// userID when non-empty), is unused and has not expired. Every rejection
// is reported as ErrInvalidState.
func (r *Registry) ValidateState(ctx context.Context, token, platform, userID string) (Grant, error) {
	if token == "" {
		r.metrics.StateValidated(metrics.OutcomeInvalid)
		return Grant{}, ErrInvalidState
	}

	rec, err := r.store.Consume(ctx, Claim{
		Token:    token,
		Platform: platform,
		UserID:   userID,
		Now:      r.clock.Now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNoMatch), errors.Is(err, ErrConsumed):
		r.logger.Debug("oauthstate: rejected state", "platform", platform, "reason", err)
		r.metrics.StateValidated(metrics.OutcomeInvalid)
		return Grant{}, ErrInvalidState
	default:
		r.metrics.StateValidated(metrics.OutcomeFailed)
		return Grant{}, fmt.Errorf("oauthstate: consume: %w", err)
	}

	r.metrics.StateValidated(metrics.OutcomeSuccess)
	return Grant{
		UserID:      rec.UserID,
		RedirectURI: rec.RedirectURI,
		Metadata:    rec.Metadata,
	}, nil
}

// Cleanup deletes every expired record and returns the count.
func (r *Registry) Cleanup(ctx context.Context) (int, error) {
	n, err := r.store.DeleteExpired(ctx, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("oauthstate: cleanup: %w", err)
	}
	return n, nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauthstate: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
