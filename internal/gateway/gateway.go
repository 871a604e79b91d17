// Package gateway exposes the scheduler and credential control operations
// over HTTP, plus health, metrics, the OAuth callback endpoints and a
// websocket job event stream. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/security"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Jobs is the scheduler surface the gateway drives.
type Jobs interface {
	Schedule(ctx context.Context, req job.Request) (job.Job, error)
	Cancel(ctx context.Context, id string) (job.Job, error)
	Status(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context, f job.Filter) ([]job.Job, error)
	Subscribe(buffer int) (<-chan job.Event, func())
	Armed() int
}

// Credentials is the credential surface the gateway drives.
type Credentials interface {
	Authorize(ctx context.Context, platform, ownerID, redirectURI string, metadata map[string]string) (string, error)
	Connect(ctx context.Context, platform, code, state string) (credential.Credential, error)
	Disconnect(ctx context.Context, platform, accountID string) error
	TokenStatus(ctx context.Context, ownerID string) ([]credential.TokenStatus, error)
	RefreshOwner(ctx context.Context, ownerID, platform string) ([]credential.Outcome, error)
}

// HealthFunc reports the health of each checked dependency; nil means up.
type HealthFunc func(ctx context.Context) map[string]error

// Deps are the collaborators a Gateway serves.
type Deps struct {
	Jobs        Jobs
	Credentials Credentials
	Health      HealthFunc
	Metrics     http.Handler
	Payload     security.PayloadLimits
	Redirects   *security.RedirectFilter
	Audit       *security.AuditLogger
	Tracer      trace.TracerProvider
	Logger      *slog.Logger
	Now         func() time.Time
}

// Compile-time interface checks.
var (
	_ Jobs        = (*job.Scheduler)(nil)
	_ Credentials = (*credential.Coordinator)(nil)
)

// Gateway is the HTTP server component.
type Gateway struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	handler   http.Handler
	server    *http.Server
	startedAt time.Time
	addr      net.Addr
}

// New builds a Gateway. The router is ready to serve once New returns.
func New(cfg Config, deps Deps) *Gateway {
	cfg.Defaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider()
	}
	if deps.Redirects == nil {
		deps.Redirects = security.NewRedirectFilter(security.RedirectPolicy{})
	}
	g := &Gateway{
		config:    cfg,
		deps:      deps,
		logger:    deps.Logger,
		startedAt: deps.Now(),
	}
	g.handler = g.buildRouter()
	return g
}

// Handler returns the gateway's router.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Addr returns the listening address once started.
func (g *Gateway) Addr() net.Addr { return g.addr }

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	return g.config.Validate()
}

// Start implements core.Starter.
func (g *Gateway) Start() error {
	g.startedAt = g.deps.Now()
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.handler,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	g.addr = ln.Addr()

	go func() {
		g.logger.Info("gateway: listening", "addr", g.addr.String(), "auth", g.config.Auth.IsConfigured())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway: shutting down")
	return g.server.Shutdown(shutdownCtx)
}
