package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cadence/internal/clock"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/job"
)

const (
	// DefaultRefreshHorizon is how far ahead the token sweep looks.
	DefaultRefreshHorizon = 24 * time.Hour

	// DefaultRetention is how long terminal jobs are kept.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultAnalyticsHour is the hour of the daily analytics sync.
	DefaultAnalyticsHour = 2
)

// TokenRefresher is the subset of credential.Coordinator the sweep needs.
type TokenRefresher interface {
	RefreshExpiringBatch(ctx context.Context, horizon time.Duration) (credential.BatchResult, error)
}

// TokenRefreshJob refreshes every credential expiring within Horizon.
type TokenRefreshJob struct {
	Refresher    TokenRefresher
	Horizon      time.Duration // zero = 24h
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 */6 * * *"
}

// Compile-time interface checks.
var (
	_ Job         = (*TokenRefreshJob)(nil)
	_ job.Handler = (*TokenRefreshJob)(nil)
)

// Name implements Job.
func (j *TokenRefreshJob) Name() string { return "token_refresh" }

// Schedule implements Job.
func (j *TokenRefreshJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 */6 * * *"
}

// Run implements Job.
func (j *TokenRefreshJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Execute implements job.Handler for one-off sweeps.
func (j *TokenRefreshJob) Execute(ctx context.Context, _ job.Job) (json.RawMessage, error) {
	res, err := j.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// Sweep refreshes expiring credentials and reports the counts. Individual
// refresh failures are counted, not returned.
func (j *TokenRefreshJob) Sweep(ctx context.Context) (credential.BatchResult, error) {
	horizon := j.Horizon
	if horizon <= 0 {
		horizon = DefaultRefreshHorizon
	}
	res, err := j.Refresher.RefreshExpiringBatch(ctx, horizon)
	if err != nil {
		return credential.BatchResult{}, fmt.Errorf("cron: token sweep: %w", err)
	}
	if res.Refreshed+res.Failed > 0 {
		logger(j.Logger).Info("cron: token sweep done",
			"refreshed", res.Refreshed,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// AccountLister lists active credentials ordered by owner.
type AccountLister interface {
	ListActive(ctx context.Context) ([]credential.Credential, error)
}

// Aggregator computes analytics for one owner's connected accounts.
type Aggregator interface {
	Aggregate(ctx context.Context, ownerID string, accounts []credential.Credential) error
}

// SyncResult counts the owners an analytics sync visited.
type SyncResult struct {
	Owners int `json:"owners"`
	Failed int `json:"failed"`
}

// AnalyticsSyncJob triggers aggregation for every owner with at least one
// active account, once a day at Hour.
type AnalyticsSyncJob struct {
	Accounts     AccountLister
	Aggregator   Aggregator
	Hour         int // 0-23, local to the scheduler's location
	Logger       *slog.Logger
	ScheduleExpr string // empty = "0 <Hour> * * *"
}

// Compile-time interface checks.
var (
	_ Job         = (*AnalyticsSyncJob)(nil)
	_ job.Handler = (*AnalyticsSyncJob)(nil)
)

// Name implements Job.
func (j *AnalyticsSyncJob) Name() string { return "analytics_sync" }

// Schedule implements Job.
func (j *AnalyticsSyncJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return fmt.Sprintf("0 %d * * *", j.Hour)
}

// Run implements Job.
func (j *AnalyticsSyncJob) Run(ctx context.Context) error {
	_, err := j.Sync(ctx)
	return err
}

// Execute implements job.Handler for one-off syncs.
func (j *AnalyticsSyncJob) Execute(ctx context.Context, _ job.Job) (json.RawMessage, error) {
	res, err := j.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// Sync aggregates each owner independently. A failing owner does not stop
// the others; the run reports an error if any owner failed.
func (j *AnalyticsSyncJob) Sync(ctx context.Context) (SyncResult, error) {
	creds, err := j.Accounts.ListActive(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("cron: list accounts: %w", err)
	}

	var (
		res  SyncResult
		errs []error
	)
	for _, g := range groupByOwner(creds) {
		if ctx.Err() != nil {
			return res, fmt.Errorf("cron: analytics sync cancelled: %w", ctx.Err())
		}
		res.Owners++
		if err := j.Aggregator.Aggregate(ctx, g.owner, g.accounts); err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("owner %s: %w", g.owner, err))
			logger(j.Logger).Warn("cron: analytics aggregation failed", "owner_id", g.owner, "error", err)
		}
	}
	logger(j.Logger).Info("cron: analytics sync done", "owners", res.Owners, "failed", res.Failed)

	if len(errs) > 0 {
		return res, fmt.Errorf("cron: analytics sync: %w", errors.Join(errs...))
	}
	return res, nil
}

type ownerAccounts struct {
	owner    string
	accounts []credential.Credential
}

// groupByOwner splits creds, which must be ordered by owner, into one
// group per owner.
func groupByOwner(creds []credential.Credential) []ownerAccounts {
	var groups []ownerAccounts
	for _, c := range creds {
		if n := len(groups); n > 0 && groups[n-1].owner == c.OwnerID {
			groups[n-1].accounts = append(groups[n-1].accounts, c)
			continue
		}
		groups = append(groups, ownerAccounts{owner: c.OwnerID, accounts: []credential.Credential{c}})
	}
	return groups
}

// StateCleaner removes expired OAuth states.
type StateCleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// JobPruner removes old terminal jobs.
type JobPruner interface {
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int, error)
}

// CleanupResult counts what a cleanup run removed.
type CleanupResult struct {
	States int `json:"states_removed"`
	Jobs   int `json:"jobs_removed"`
}

// CleanupJob removes expired OAuth states and terminal jobs older than
// Retention, once a week.
type CleanupJob struct {
	States       StateCleaner
	Jobs         JobPruner
	Retention    time.Duration // zero = 30 days
	Clock        clock.Clock
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * 0"
}

// Compile-time interface checks.
var (
	_ Job         = (*CleanupJob)(nil)
	_ job.Handler = (*CleanupJob)(nil)
)

// Name implements Job.
func (j *CleanupJob) Name() string { return "cleanup" }

// Schedule implements Job.
func (j *CleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * 0"
}

// Run implements Job.
func (j *CleanupJob) Run(ctx context.Context) error {
	_, err := j.Clean(ctx)
	return err
}

// Execute implements job.Handler for one-off cleanups.
func (j *CleanupJob) Execute(ctx context.Context, _ job.Job) (json.RawMessage, error) {
	res, err := j.Clean(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// Clean runs both deletions. A failure in one does not skip the other.
func (j *CleanupJob) Clean(ctx context.Context) (CleanupResult, error) {
	retention := j.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	var (
		res  CleanupResult
		errs []error
		err  error
	)
	if res.States, err = j.States.Cleanup(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cron: clean oauth states: %w", err))
	}
	cutoff := clock.OrReal(j.Clock).Now().Add(-retention)
	if res.Jobs, err = j.Jobs.DeleteTerminalBefore(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("cron: prune jobs: %w", err))
	}

	logger(j.Logger).Info("cron: cleanup done",
		"states_removed", res.States,
		"jobs_removed", res.Jobs,
	)
	return res, errors.Join(errs...)
}

// Recurring is the fixed set of maintenance jobs. Nil fields are skipped.
type Recurring struct {
	TokenRefresh  *TokenRefreshJob
	AnalyticsSync *AnalyticsSyncJob
	Cleanup       *CleanupJob
}

// Install registers every configured job with s.
func (r Recurring) Install(s *Scheduler) error {
	var jobs []Job
	if r.TokenRefresh != nil {
		jobs = append(jobs, r.TokenRefresh)
	}
	if r.AnalyticsSync != nil {
		jobs = append(jobs, r.AnalyticsSync)
	}
	if r.Cleanup != nil {
		jobs = append(jobs, r.Cleanup)
	}
	for _, j := range jobs {
		if err := s.RegisterJob(j); err != nil {
			return err
		}
	}
	return nil
}

// Handlers fills the recurring fields of h so the same jobs can be
// scheduled one-off.
func (r Recurring) Handlers(h job.Handlers) job.Handlers {
	if r.TokenRefresh != nil {
		h.TokenRefresh = r.TokenRefresh
	}
	if r.AnalyticsSync != nil {
		h.AnalyticsSync = r.AnalyticsSync
	}
	if r.Cleanup != nil {
		h.Cleanup = r.Cleanup
	}
	return h
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
