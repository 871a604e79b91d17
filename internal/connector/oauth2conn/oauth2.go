// Package oauth2conn is a generic connector for platforms that speak
// standard OAuth 2.0 (authorization code + refresh token grants) and accept
// content as a JSON POST authenticated with a bearer token.
package oauth2conn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/flemzord/cadence/internal/connector"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 5.0
	defaultBurst             = 10
	defaultRetryAfter        = 60 * time.Second
	maxErrorBody             = 512
)

// Config describes one platform.
type Config struct {
	Platform     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// PostURL receives published content. Empty disables Post.
	PostURL string

	// RequestsPerSecond and Burst bound outbound calls. Zero selects defaults.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
}

// Connector implements connector.Connector with golang.org/x/oauth2.
type Connector struct {
	platform string
	oauth    oauth2.Config
	postURL  string
	client   *http.Client

	limiter *rate.Limiter
	mu      sync.Mutex
	retryAt time.Time
}

// Compile-time interface check.
var _ connector.Connector = (*Connector)(nil)

// New validates cfg and builds a Connector.
func New(cfg Config) (*Connector, error) {
	var errs []error
	if cfg.Platform == "" {
		errs = append(errs, errors.New("oauth2conn: platform is required"))
	}
	if cfg.ClientID == "" {
		errs = append(errs, fmt.Errorf("oauth2conn: %s: client_id is required", cfg.Platform))
	}
	if cfg.TokenURL == "" {
		errs = append(errs, fmt.Errorf("oauth2conn: %s: token_url is required", cfg.Platform))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Connector{
		platform: cfg.Platform,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		postURL: cfg.PostURL,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// Platform implements connector.Connector.
func (c *Connector) Platform() string { return c.platform }

// AuthCodeURL implements connector.Connector. Offline access is requested
// so the platform issues a refresh token.
func (c *Connector) AuthCodeURL(state, redirectURI string) string {
	cfg := c.oauth
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode implements connector.Connector.
func (c *Connector) ExchangeCode(ctx context.Context, code, redirectURI string) (connector.TokenResult, error) {
	if err := c.wait(ctx); err != nil {
		return connector.TokenResult{}, err
	}

	cfg := c.oauth
	cfg.RedirectURL = redirectURI
	tok, err := cfg.Exchange(c.httpContext(ctx), code)
	if err != nil {
		return connector.TokenResult{}, c.wrapOAuthError("exchange", err)
	}
	return toResult(tok), nil
}

// Refresh implements connector.Connector.
func (c *Connector) Refresh(ctx context.Context, tok connector.Token) (connector.TokenResult, error) {
	if tok.RefreshToken == "" {
		return connector.TokenResult{}, connector.ErrNoRefreshToken
	}
	if err := c.wait(ctx); err != nil {
		return connector.TokenResult{}, err
	}

	// An empty access token is never valid, so the source always refreshes.
	src := c.oauth.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return connector.TokenResult{}, c.wrapOAuthError("refresh", err)
	}

	res := toResult(fresh)
	// x/oauth2 copies the old refresh token forward when the platform
	// does not rotate it; report that as "none returned".
	if res.RefreshToken == tok.RefreshToken {
		res.RefreshToken = ""
	}
	res.AccountID = tok.AccountID
	return res, nil
}

// Post implements connector.Connector. content is sent verbatim; the
// platform is expected to answer with {"id": "..."}.
func (c *Connector) Post(ctx context.Context, tok connector.Token, content json.RawMessage) (connector.PostResult, error) {
	if c.postURL == "" {
		return connector.PostResult{}, fmt.Errorf("oauth2conn: %s: posting is not configured", c.platform)
	}
	if err := c.wait(ctx); err != nil {
		return connector.PostResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.postURL, bytes.NewReader(content))
	if err != nil {
		return connector.PostResult{}, fmt.Errorf("oauth2conn: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if tok.AccountID != "" {
		req.Header.Set("X-Account-ID", tok.AccountID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return connector.PostResult{}, fmt.Errorf("oauth2conn: %s: post: %w", c.platform, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			c.backoff(resp.Header.Get("Retry-After"))
		}
		return connector.PostResult{}, &connector.StatusError{
			Platform: c.platform,
			Code:     resp.StatusCode,
			Body:     string(body),
		}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return connector.PostResult{}, fmt.Errorf("oauth2conn: %s: decode post response: %w", c.platform, err)
	}
	return connector.PostResult{PlatformPostID: out.ID}, nil
}

func (c *Connector) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

// wait blocks for the token bucket and any Retry-After backoff.
func (c *Connector) wait(ctx context.Context) error {
	c.mu.Lock()
	retryAt := c.retryAt
	c.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return c.limiter.Wait(ctx)
}

func (c *Connector) backoff(retryAfter string) {
	d := defaultRetryAfter
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		d = time.Duration(secs) * time.Second
	}
	c.mu.Lock()
	c.retryAt = time.Now().Add(d)
	c.mu.Unlock()
}

func (c *Connector) wrapOAuthError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return fmt.Errorf("oauth2conn: %s: %w", op, &connector.StatusError{
			Platform: c.platform,
			Code:     re.Response.StatusCode,
			Body:     string(re.Body),
		})
	}
	return fmt.Errorf("oauth2conn: %s: %s: %w", c.platform, op, err)
}

func toResult(tok *oauth2.Token) connector.TokenResult {
	res := connector.TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	switch {
	case tok.ExpiresIn > 0:
		res.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		res.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	return res
}
