// Package analytics triggers per-owner analytics aggregation in the
// surrounding application.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/cron"
	"golang.org/x/time/rate"
)

// Account identifies one connected account in a trigger.
type Account struct {
	Platform  string `json:"platform"`
	AccountID string `json:"account_id"`
}

// Trigger is the body posted for each owner.
type Trigger struct {
	OwnerID  string    `json:"owner_id"`
	Accounts []Account `json:"accounts"`
	At       time.Time `json:"triggered_at"`
}

// Webhook posts a Trigger per owner to URL.
type Webhook struct {
	url     string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Compile-time interface check.
var _ cron.Aggregator = (*Webhook)(nil)

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	URL string

	// Secret, when set, is sent as a bearer token.
	Secret string

	// RequestsPerSecond bounds the trigger rate. Zero means 5.
	RequestsPerSecond float64
	Timeout           time.Duration
	Client            *http.Client
	Logger            *slog.Logger
}

// NewWebhook creates a Webhook.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("analytics: webhook url is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		url:     cfg.URL,
		secret:  cfg.Secret,
		client:  cfg.Client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  cfg.Logger,
	}, nil
}

// Aggregate implements cron.Aggregator.
func (w *Webhook) Aggregate(ctx context.Context, ownerID string, accounts []credential.Credential) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("analytics: rate limit: %w", err)
	}

	trig := Trigger{OwnerID: ownerID, At: time.Now().UTC()}
	for _, c := range accounts {
		trig.Accounts = append(trig.Accounts, Account{Platform: c.Platform, AccountID: c.AccountID})
	}
	body, err := json.Marshal(trig)
	if err != nil {
		return fmt.Errorf("analytics: encode trigger: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("analytics: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("Authorization", "Bearer "+w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("analytics: trigger %s: %w", ownerID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("analytics: trigger %s: status %d: %s", ownerID, resp.StatusCode, bytes.TrimSpace(msg))
	}
	w.logger.Debug("analytics: aggregation triggered", "owner_id", ownerID, "accounts", len(accounts))
	return nil
}

// Log is an Aggregator that only logs. It is used when no webhook is
// configured.
type Log struct {
	Logger *slog.Logger
}

// Compile-time interface check.
var _ cron.Aggregator = Log{}

// Aggregate implements cron.Aggregator.
func (l Log) Aggregate(_ context.Context, ownerID string, accounts []credential.Credential) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("analytics: no aggregator configured, skipping owner", "owner_id", ownerID, "accounts", len(accounts))
	return nil
}
