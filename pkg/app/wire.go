// Package app assembles cadence from its configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/flemzord/cadence/internal/analytics"
	"github.com/flemzord/cadence/internal/config"
	"github.com/flemzord/cadence/internal/connector"
	"github.com/flemzord/cadence/internal/connector/oauth2conn"
	"github.com/flemzord/cadence/internal/core"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/cron"
	"github.com/flemzord/cadence/internal/gateway"
	"github.com/flemzord/cadence/internal/handlers"
	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/metrics"
	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/flemzord/cadence/internal/oauthstate/redisstore"
	"github.com/flemzord/cadence/internal/security"
	"github.com/flemzord/cadence/internal/telemetry"
	"github.com/flemzord/cadence/modules/store/postgres"
	"github.com/flemzord/cadence/modules/store/sqlite"
	"github.com/flemzord/cadence/modules/store/sqlstore"
	"github.com/redis/go-redis/v9"
)

// Options tunes Build beyond what the config file holds.
type Options struct {
	Version string

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer

	// WithoutGateway skips the HTTP server, e.g. for the MCP command.
	WithoutGateway bool
}

// App is a fully wired cadence instance. Components are registered with
// Core in dependency order; Core.Run starts them and stops them in reverse.
type App struct {
	Core        *core.App
	Logger      *slog.Logger
	Redactor    *security.Redactor
	Metrics     *metrics.Metrics
	Audit       *security.AuditLogger
	Connectors  *connector.Registry
	States      *oauthstate.Registry
	Coordinator *credential.Coordinator
	Scheduler   *job.Scheduler
	Cron        *cron.Scheduler
	Gateway     *gateway.Gateway
}

// storage is the persistence backend chosen by the config.
type storage struct {
	states      oauthstate.Store
	credentials credential.Store
	jobs        job.Store
	db          *sqlstore.DB
}

// Build wires every component from cfg. cfg must already be validated.
// On error, anything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	redactor := security.NewRedactor()
	learnConfigSecrets(redactor, cfg)

	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := NewLogger(out, level, redactor)

	a := &App{
		Core:     core.NewApp(logger),
		Logger:   logger,
		Redactor: redactor,
		Metrics:  metrics.New(),
	}

	// Components registered so far are stopped if a later step fails.
	var opened []core.Stopper
	defer func() {
		if err == nil {
			return
		}
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Stop(context.Background())
		}
	}()
	register := func(id string, c any) error {
		if err := a.Core.Register(id, c); err != nil {
			return err
		}
		if s, ok := c.(core.Stopper); ok {
			opened = append(opened, s)
		}
		return nil
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Headers:        cfg.Telemetry.Headers,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: opts.Version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := register("telemetry", tel); err != nil {
		return nil, err
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if store.db != nil {
		if err := register("store", store.db); err != nil {
			_ = store.db.Stop(ctx)
			return nil, err
		}
	}

	stateStore := store.states
	if cfg.OAuth.StateStore == config.StateStoreRedis {
		rs := redisstore.New(redis.NewClient(&redis.Options{
			Addr:     cfg.OAuth.Redis.Addr,
			Password: cfg.OAuth.Redis.Password,
			DB:       cfg.OAuth.Redis.DB,
		}), cfg.OAuth.Redis.Prefix)
		if err := register("oauth.redis", rs); err != nil {
			return nil, err
		}
		stateStore = rs
	}

	audit, err := openAudit(cfg, redactor)
	if err != nil {
		return nil, err
	}
	a.Audit = audit.logger
	if err := register("audit", audit); err != nil {
		return nil, err
	}

	a.Connectors, err = buildConnectors(cfg.Platforms)
	if err != nil {
		return nil, err
	}

	a.States = oauthstate.NewRegistry(stateStore, oauthstate.Options{
		TTL:     cfg.OAuth.StateTTL,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	a.Coordinator = credential.NewCoordinator(store.credentials, a.Connectors, credential.Options{
		Logger:           logger,
		Metrics:          a.Metrics,
		Tracer:           tel.Tracer("github.com/flemzord/cadence/internal/credential"),
		States:           a.States,
		Secrets:          redactor,
		SerializeRefresh: cfg.OAuth.SerializeRefresh,
	})

	aggregator, err := buildAggregator(cfg.Analytics, logger)
	if err != nil {
		return nil, err
	}
	rec := cron.Recurring{
		TokenRefresh: &cron.TokenRefreshJob{
			Refresher:    a.Coordinator,
			Horizon:      cfg.Recurring.TokenRefreshHorizon,
			Logger:       logger,
			ScheduleExpr: cfg.Recurring.TokenRefreshSchedule,
		},
		AnalyticsSync: &cron.AnalyticsSyncJob{
			Accounts:   store.credentials,
			Aggregator: aggregator,
			Hour:       analyticsHour(cfg.Recurring),
			Logger:     logger,
		},
		Cleanup: &cron.CleanupJob{
			States:       a.States,
			Jobs:         store.jobs,
			Retention:    cfg.Recurring.CleanupRetention,
			Logger:       logger,
			ScheduleExpr: cfg.Recurring.CleanupSchedule,
		},
	}

	jobHandlers := rec.Handlers(job.Handlers{
		Post: &handlers.Post{Tokens: a.Coordinator, Connectors: a.Connectors, Logger: logger},
		Email: &handlers.Email{
			Tokens:          a.Coordinator,
			Connectors:      a.Connectors,
			Logger:          logger,
			DefaultPlatform: cfg.Scheduler.EmailPlatform,
		},
	})
	if err := jobHandlers.Validate(); err != nil {
		return nil, err
	}
	a.Scheduler = job.NewScheduler(store.jobs, jobHandlers, job.Options{
		Logger:      logger,
		Metrics:     a.Metrics,
		Tracer:      tel.Tracer("github.com/flemzord/cadence/internal/job"),
		BaseDelay:   cfg.Scheduler.BaseDelay,
		MaxAttempts: cfg.Scheduler.DefaultMaxAttempts,
	})
	if err := register("scheduler", a.Scheduler); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Recurring.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: timezone: %w", err)
	}
	a.Cron = cron.NewScheduler(cron.Options{Logger: logger, Metrics: a.Metrics, Location: loc})
	if err := rec.Install(a.Cron); err != nil {
		return nil, err
	}
	if err := register("cron", a.Cron); err != nil {
		return nil, err
	}

	if opts.WithoutGateway || !cfg.Gateway.IsEnabled() {
		return a, nil
	}
	deps := gateway.Deps{
		Jobs:        a.Scheduler,
		Credentials: a.Coordinator,
		Health:      a.Core.Health,
		Payload:     cfg.Scheduler.Payload,
		Redirects:   security.NewRedirectFilter(cfg.OAuth.Redirect),
		Audit:       a.Audit,
		Tracer:      tel.TracerProvider(),
		Logger:      logger,
	}
	if cfg.Telemetry.MetricsEnabled() {
		deps.Metrics = a.Metrics.Handler()
	}
	a.Gateway = gateway.New(cfg.Gateway, deps)
	if err := register("gateway", a.Gateway); err != nil {
		return nil, err
	}
	return a, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage, error) {
	var (
		db  *sqlstore.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		return storage{
			states:      oauthstate.NewMemoryStore(),
			credentials: credential.NewMemoryStore(),
			jobs:        job.NewMemoryStore(),
		}, nil
	case config.DriverPostgres:
		db, err = postgres.Open(ctx, cfg.Postgres)
	case config.DriverSQLite, "":
		db, err = sqlite.Open(ctx, cfg.SQLite)
	default:
		return storage{}, fmt.Errorf("app: unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return storage{}, err
	}
	return storage{
		states:      db.States(),
		credentials: db.Credentials(),
		jobs:        db.Jobs(),
		db:          db,
	}, nil
}

func buildConnectors(platforms map[string]config.PlatformConfig) (*connector.Registry, error) {
	reg := connector.NewRegistry()
	for _, name := range slices.Sorted(maps.Keys(platforms)) {
		pc := platforms[name]
		conn, err := oauth2conn.New(oauth2conn.Config{
			Platform:          name,
			ClientID:          pc.ClientID,
			ClientSecret:      pc.ClientSecret,
			AuthURL:           pc.AuthURL,
			TokenURL:          pc.TokenURL,
			Scopes:            pc.Scopes,
			PostURL:           pc.PostURL,
			RequestsPerSecond: pc.RequestsPerSecond,
			Burst:             pc.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("app: platform %s: %w", name, err)
		}
		if err := reg.Register(conn, pc.RefreshThreshold); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildAggregator(cfg config.AnalyticsConfig, logger *slog.Logger) (cron.Aggregator, error) {
	if cfg.WebhookURL == "" {
		return analytics.Log{Logger: logger}, nil
	}
	return analytics.NewWebhook(analytics.WebhookConfig{
		URL:               cfg.WebhookURL,
		Secret:            cfg.Secret,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.Timeout,
		Logger:            logger,
	})
}

func analyticsHour(cfg config.RecurringConfig) int {
	if cfg.AnalyticsHour == nil {
		return cron.DefaultAnalyticsHour
	}
	return *cfg.AnalyticsHour
}

// learnConfigSecrets teaches the redactor every secret in the config so
// they never reach the logs, even inside error messages.
func learnConfigSecrets(r *security.Redactor, cfg *config.Config) {
	for _, pc := range cfg.Platforms {
		r.AddLiteral(pc.ClientSecret)
	}
	r.AddLiteral(cfg.OAuth.Redis.Password)
	r.AddLiteral(cfg.Gateway.Auth.BearerToken)
	r.AddLiteral(cfg.Gateway.Auth.BasicPass)
	r.AddLiteral(cfg.Analytics.Secret)
	r.AddLiteral(cfg.Storage.Postgres.DSN)
}

// auditSink owns the audit log file.
type auditSink struct {
	logger *security.AuditLogger
	file   *os.File
}

// Stop closes the audit file. It implements core.Stopper.
func (s *auditSink) Stop(context.Context) error {
	if s.file == nil {
		return nil
	}
	if n := s.logger.WriteErrors(); n > 0 {
		return errors.Join(fmt.Errorf("app: %d audit events could not be written", n), s.file.Close())
	}
	return s.file.Close()
}

func openAudit(cfg *config.Config, redactor *security.Redactor) (*auditSink, error) {
	path := cfg.Gateway.AuditLog
	if path == "" {
		path = filepath.Join(cfg.DataDir, "audit.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("app: audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("app: open audit log: %w", err)
	}
	return &auditSink{
		logger: security.NewAuditLogger(security.AuditLoggerConfig{Writer: f, Redactor: redactor}),
		file:   f,
	}, nil
}
