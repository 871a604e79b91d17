package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/flemzord/cadence/internal/clock"
	"github.com/flemzord/cadence/internal/connector"
	"github.com/flemzord/cadence/internal/keylock"
	"github.com/flemzord/cadence/internal/metrics"
	"github.com/flemzord/cadence/internal/oauthstate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "github.com/flemzord/cadence/internal/credential"

	// batchConcurrency bounds parallel refreshes in a sweep.
	batchConcurrency = 4
)

// SecretSink receives every token the coordinator handles, so log output
// can be scrubbed of them.
type SecretSink interface {
	AddLiteral(secret string)
}

// Options configures a Coordinator.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// States enables Authorize and Connect.
	States *oauthstate.Registry

	// Secrets, when set, learns every access and refresh token.
	Secrets SecretSink

	// SerializeRefresh collapses concurrent refreshes of the same
	// credential into one. When false, concurrent refreshes race and the
	// last write wins.
	SerializeRefresh bool
}

// Coordinator hands out valid access tokens, refreshing them through the
// platform's connector when they are close to expiry. It is the only
// writer of token fields in the Store.
type Coordinator struct {
	store      Store
	connectors *connector.Registry
	states     *oauthstate.Registry
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	secrets    SecretSink
	locks      *keylock.Map[Key]
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store Store, connectors *connector.Registry, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	c := &Coordinator{
		store:      store,
		connectors: connectors,
		states:     opts.States,
		clock:      clock.OrReal(opts.Clock),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		secrets:    opts.Secrets,
	}
	if opts.SerializeRefresh {
		c.locks = keylock.New[Key]()
	}
	return c
}

// Get returns the stored credential without refreshing it.
func (c *Coordinator) Get(ctx context.Context, platform, accountID string) (Credential, error) {
	cred, err := c.store.Get(ctx, platform, accountID)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: get %s/%s: %w", platform, accountID, err)
	}
	return cred, nil
}

// GetValidToken returns an access token for the account, refreshing it
// first when it expires within the platform's threshold. A failed refresh
// returns a *RefreshError and leaves the stored credential untouched.
func (c *Coordinator) GetValidToken(ctx context.Context, platform, accountID string) (string, error) {
	cred, err := c.Get(ctx, platform, accountID)
	if err != nil {
		return "", err
	}
	if cred.Status == StatusDisconnected {
		return "", fmt.Errorf("credential: %s/%s: %w", platform, accountID, ErrDisconnected)
	}
	if !c.expiring(cred) {
		return cred.AccessToken, nil
	}

	fresh, err := c.refresh(ctx, cred, false)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// expiring reports whether cred is within its platform's refresh threshold.
// Tokens without an expiry never are.
func (c *Coordinator) expiring(cred Credential) bool {
	if cred.ExpiresAt == nil {
		return false
	}
	return cred.ExpiresAt.Sub(c.clock.Now()) < c.connectors.Threshold(cred.Platform)
}

// refresh calls the connector and persists the result. With force unset and
// serialization enabled, a credential refreshed by a concurrent caller
// while this one waited for the lock is returned as is.
func (c *Coordinator) refresh(ctx context.Context, cred Credential, force bool) (Credential, error) {
	if c.locks != nil {
		unlock := c.locks.Lock(cred.Key())
		defer unlock()

		current, err := c.store.Get(ctx, cred.Platform, cred.AccountID)
		if err != nil {
			return Credential{}, fmt.Errorf("credential: reload %s/%s: %w", cred.Platform, cred.AccountID, err)
		}
		if current.Status == StatusDisconnected {
			return Credential{}, fmt.Errorf("credential: %s/%s: %w", cred.Platform, cred.AccountID, ErrDisconnected)
		}
		if !force && !c.expiring(current) {
			return current, nil
		}
		cred = current
	}

	ctx, span := c.tracer.Start(ctx, "credential.refresh", trace.WithAttributes(
		attribute.String("platform", cred.Platform),
		attribute.String("account_id", cred.AccountID),
	))
	defer span.End()

	conn, err := c.connectors.Get(cred.Platform)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown platform")
		c.metrics.TokenRefreshed(cred.Platform, metrics.OutcomeFailed)
		return Credential{}, &RefreshError{Platform: cred.Platform, AccountID: cred.AccountID, Err: err}
	}

	res, err := conn.Refresh(ctx, cred.Token())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh rejected")
		c.metrics.TokenRefreshed(cred.Platform, metrics.OutcomeFailed)
		c.logger.Warn("credential: refresh failed",
			"platform", cred.Platform,
			"account_id", cred.AccountID,
			"error", err,
		)
		return Credential{}, &RefreshError{Platform: cred.Platform, AccountID: cred.AccountID, Err: err}
	}

	now := c.clock.Now()
	update := TokenUpdate{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    expiryFrom(now, res.ExpiresIn),
		RefreshedAt:  now,
	}
	if update.RefreshToken == "" {
		update.RefreshToken = cred.RefreshToken
	}
	c.remember(update.AccessToken, update.RefreshToken)

	if err := c.store.UpdateToken(ctx, cred.Platform, cred.AccountID, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		c.metrics.TokenRefreshed(cred.Platform, metrics.OutcomeFailed)
		return Credential{}, fmt.Errorf("credential: persist refresh %s/%s: %w", cred.Platform, cred.AccountID, err)
	}

	c.metrics.TokenRefreshed(cred.Platform, metrics.OutcomeSuccess)
	c.logger.Info("credential: token refreshed",
		"platform", cred.Platform,
		"account_id", cred.AccountID,
		"rotated", res.RefreshToken != "",
	)

	cred.AccessToken = update.AccessToken
	cred.RefreshToken = update.RefreshToken
	cred.ExpiresAt = update.ExpiresAt
	cred.LastRefreshedAt = &now
	cred.UpdatedAt = now
	return cred, nil
}

func (c *Coordinator) remember(secrets ...string) {
	if c.secrets == nil {
		return
	}
	for _, s := range secrets {
		c.secrets.AddLiteral(s)
	}
}

// BatchResult counts the outcome of a refresh sweep.
type BatchResult struct {
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// RefreshExpiringBatch refreshes every active credential expiring within
// [now, now+horizon]. Each credential is refreshed independently; only a
// failure to list credentials aborts the sweep.
func (c *Coordinator) RefreshExpiringBatch(ctx context.Context, horizon time.Duration) (BatchResult, error) {
	now := c.clock.Now()
	creds, err := c.store.ListExpiring(ctx, now, now.Add(horizon))
	if err != nil {
		return BatchResult{}, fmt.Errorf("credential: list expiring: %w", err)
	}

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, cred := range creds {
		g.Go(func() error {
			if _, err := c.refresh(gctx, cred, true); err != nil {
				failed.Add(1)
				if !errors.Is(err, ErrRefreshFailed) {
					c.logger.Error("credential: batch refresh error",
						"platform", cred.Platform,
						"account_id", cred.AccountID,
						"error", err,
					)
				}
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Refreshed: int(refreshed.Load()), Failed: int(failed.Load())}
	c.logger.Info("credential: refresh sweep done",
		"candidates", len(creds),
		"refreshed", res.Refreshed,
		"failed", res.Failed,
	)
	return res, nil
}

// Outcome reports a manual refresh of one credential.
type Outcome struct {
	Platform  string     `json:"platform"`
	AccountID string     `json:"account_id"`
	Refreshed bool       `json:"refreshed"`
	Skipped   bool       `json:"skipped,omitempty"`
	ExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RefreshOwner force-refreshes the owner's active credentials, optionally
// limited to one platform. Non-expiring credentials are skipped.
func (c *Coordinator) RefreshOwner(ctx context.Context, ownerID, platform string) ([]Outcome, error) {
	creds, err := c.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("credential: list owner %s: %w", ownerID, err)
	}

	out := make([]Outcome, 0, len(creds))
	for _, cred := range creds {
		if platform != "" && cred.Platform != platform {
			continue
		}
		if cred.Status != StatusActive {
			continue
		}
		o := Outcome{Platform: cred.Platform, AccountID: cred.AccountID}
		if cred.ExpiresAt == nil {
			o.Skipped = true
			out = append(out, o)
			continue
		}
		fresh, err := c.refresh(ctx, cred, true)
		if err != nil {
			o.Error = err.Error()
		} else {
			o.Refreshed = true
			o.ExpiresAt = fresh.ExpiresAt
		}
		out = append(out, o)
	}
	return out, nil
}

// TokenStatus summarizes one credential's expiry.
type TokenStatus struct {
	Platform        string     `json:"platform"`
	AccountID       string     `json:"account_id"`
	Status          Status     `json:"status"`
	ExpiresAt       *time.Time `json:"token_expires_at,omitempty"`
	ExpiresIn       int64      `json:"expires_in_seconds,omitempty"`
	Expiring        bool       `json:"expiring"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
}

// TokenStatus lists the owner's credentials with their expiry state.
func (c *Coordinator) TokenStatus(ctx context.Context, ownerID string) ([]TokenStatus, error) {
	creds, err := c.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("credential: list owner %s: %w", ownerID, err)
	}

	now := c.clock.Now()
	out := make([]TokenStatus, 0, len(creds))
	for _, cred := range creds {
		ts := TokenStatus{
			Platform:        cred.Platform,
			AccountID:       cred.AccountID,
			Status:          cred.Status,
			ExpiresAt:       cred.ExpiresAt,
			LastRefreshedAt: cred.LastRefreshedAt,
		}
		if cred.ExpiresAt != nil {
			ts.ExpiresIn = max(int64(cred.ExpiresAt.Sub(now)/time.Second), 0)
			ts.Expiring = cred.Status == StatusActive && c.expiring(cred)
		}
		out = append(out, ts)
	}
	return out, nil
}
