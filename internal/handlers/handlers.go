// Package handlers implements the job handlers for one-shot posts and
// emails. Both resolve a valid token through the credential coordinator
// and publish through the platform's connector.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/cadence/internal/connector"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/job"
)

// Tokens hands out valid access tokens.
type Tokens interface {
	GetValidToken(ctx context.Context, platform, accountID string) (string, error)
}

// Connectors resolves a platform's connector.
type Connectors interface {
	Get(platform string) (connector.Connector, error)
}

// Compile-time interface checks.
var (
	_ Tokens     = (*credential.Coordinator)(nil)
	_ Connectors = (*connector.Registry)(nil)
)

// PostPayload is the payload of a one-shot-post job.
type PostPayload struct {
	Platform  string          `json:"platform"`
	AccountID string          `json:"account_id"`
	Content   json.RawMessage `json:"content"`
}

// EmailPayload is the payload of a one-shot-email job.
type EmailPayload struct {
	Platform  string   `json:"platform"`
	AccountID string   `json:"account_id"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
}

// Post publishes scheduled content.
type Post struct {
	Tokens     Tokens
	Connectors Connectors
	Logger     *slog.Logger
}

// Compile-time interface check.
var _ job.Handler = (*Post)(nil)

// Execute implements job.Handler.
func (h *Post) Execute(ctx context.Context, j job.Job) (json.RawMessage, error) {
	var p PostPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, job.Permanent(fmt.Errorf("handlers: decode post payload: %w", err))
	}
	if p.Platform == "" || p.AccountID == "" {
		return nil, job.Permanent(errors.New("handlers: post payload needs platform and account_id"))
	}
	if len(p.Content) == 0 {
		return nil, job.Permanent(errors.New("handlers: post payload has no content"))
	}
	return publish(ctx, h.Tokens, h.Connectors, h.Logger, j, p.Platform, p.AccountID, p.Content)
}

// Email sends a scheduled email through the email platform's connector.
type Email struct {
	Tokens     Tokens
	Connectors Connectors
	Logger     *slog.Logger

	// DefaultPlatform is used when the payload names no platform.
	DefaultPlatform string
}

// Compile-time interface check.
var _ job.Handler = (*Email)(nil)

// Execute implements job.Handler.
func (h *Email) Execute(ctx context.Context, j job.Job) (json.RawMessage, error) {
	var p EmailPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, job.Permanent(fmt.Errorf("handlers: decode email payload: %w", err))
	}
	if p.Platform == "" {
		p.Platform = h.DefaultPlatform
	}
	if p.Platform == "" || p.AccountID == "" {
		return nil, job.Permanent(errors.New("handlers: email payload needs platform and account_id"))
	}
	if len(p.To) == 0 {
		return nil, job.Permanent(errors.New("handlers: email payload has no recipients"))
	}
	content, err := json.Marshal(struct {
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		Body    string   `json:"body"`
	}{p.To, p.Subject, p.Body})
	if err != nil {
		return nil, job.Permanent(fmt.Errorf("handlers: encode email: %w", err))
	}
	return publish(ctx, h.Tokens, h.Connectors, h.Logger, j, p.Platform, p.AccountID, content)
}

func publish(ctx context.Context, tokens Tokens, conns Connectors, logger *slog.Logger, j job.Job, platform, accountID string, content json.RawMessage) (json.RawMessage, error) {
	conn, err := conns.Get(platform)
	if err != nil {
		return nil, job.Permanent(err)
	}

	access, err := tokens.GetValidToken(ctx, platform, accountID)
	if err != nil {
		return nil, classify(fmt.Errorf("handlers: token for %s/%s: %w", platform, accountID, err))
	}

	res, err := conn.Post(ctx, connector.Token{AccountID: accountID, AccessToken: access}, content)
	if err != nil {
		return nil, classify(fmt.Errorf("handlers: post to %s: %w", platform, err))
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("handlers: content published",
		"job_id", j.ID,
		"platform", platform,
		"account_id", accountID,
		"platform_post_id", res.PlatformPostID,
	)
	return json.Marshal(res)
}

// classify marks errors that no retry can fix as permanent.
func classify(err error) error {
	switch {
	case errors.Is(err, credential.ErrDisconnected), errors.Is(err, credential.ErrNotFound):
		return job.Permanent(err)
	case !connector.IsRetryable(err):
		return job.Permanent(err)
	}
	return err
}
