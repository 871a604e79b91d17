package cron_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/clock/clocktest"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/cron"
	"github.com/flemzord/cadence/internal/cron/crontest"
	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/oauthstate"
)

type refresherFunc func(ctx context.Context, horizon time.Duration) (credential.BatchResult, error)

func (f refresherFunc) RefreshExpiringBatch(ctx context.Context, horizon time.Duration) (credential.BatchResult, error) {
	return f(ctx, horizon)
}

func TestTokenRefreshJob_Defaults(t *testing.T) {
	t.Parallel()
	j := &cron.TokenRefreshJob{}
	if j.Name() != "token_refresh" {
		t.Errorf("name = %q, want %q", j.Name(), "token_refresh")
	}
	if j.Schedule() != "0 */6 * * *" {
		t.Errorf("schedule = %q, want %q", j.Schedule(), "0 */6 * * *")
	}
}

func TestTokenRefreshJob_Sweep(t *testing.T) {
	t.Parallel()

	var gotHorizon time.Duration
	j := &cron.TokenRefreshJob{Refresher: refresherFunc(func(_ context.Context, h time.Duration) (credential.BatchResult, error) {
		gotHorizon = h
		return credential.BatchResult{Refreshed: 3, Failed: 1}, nil
	})}

	out, err := j.Execute(context.Background(), job.Job{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotHorizon != 24*time.Hour {
		t.Errorf("horizon = %v, want 24h", gotHorizon)
	}
	var res credential.BatchResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Refreshed != 3 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestTokenRefreshJob_ListFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	j := &cron.TokenRefreshJob{Refresher: refresherFunc(func(context.Context, time.Duration) (credential.BatchResult, error) {
		return credential.BatchResult{}, boom
	})}
	if err := j.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func seedAccounts(t *testing.T) *credential.MemoryStore {
	t.Helper()
	store := credential.NewMemoryStore()
	add := func(owner, account string, status credential.Status) {
		err := store.Upsert(context.Background(), credential.Credential{
			Platform: "linkedin", AccountID: account, OwnerID: owner, Status: status,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	add("u1", "a1", credential.StatusActive)
	add("u1", "a2", credential.StatusActive)
	add("u2", "b1", credential.StatusActive)
	add("u3", "c1", credential.StatusDisconnected)
	add("u4", "d1", credential.StatusActive)
	return store
}

func TestAnalyticsSyncJob_Schedule(t *testing.T) {
	t.Parallel()
	j := &cron.AnalyticsSyncJob{Hour: 4}
	if j.Schedule() != "0 4 * * *" {
		t.Errorf("schedule = %q, want %q", j.Schedule(), "0 4 * * *")
	}
	if j.Name() != "analytics_sync" {
		t.Errorf("name = %q", j.Name())
	}
}

func TestAnalyticsSyncJob_Sync(t *testing.T) {
	t.Parallel()

	agg := &crontest.MockAggregator{}
	j := &cron.AnalyticsSyncJob{Accounts: seedAccounts(t), Aggregator: agg}

	res, err := j.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Owners != 3 || res.Failed != 0 {
		t.Errorf("result = %+v, want 3 owners", res)
	}
	if got := agg.Owners(); !slices.Equal(got, []string{"u1", "u2", "u4"}) {
		t.Errorf("owners = %v", got)
	}
	if agg.Accounts("u1") != 2 {
		t.Errorf("u1 accounts = %d, want 2", agg.Accounts("u1"))
	}
}

func TestAnalyticsSyncJob_OwnerFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	agg := &crontest.MockAggregator{FailFor: map[string]error{"u1": errors.New("quota")}}
	j := &cron.AnalyticsSyncJob{Accounts: seedAccounts(t), Aggregator: agg}

	res, err := j.Sync(context.Background())
	if err == nil {
		t.Fatal("expected error reporting the failed owner")
	}
	if res.Owners != 3 || res.Failed != 1 {
		t.Errorf("result = %+v, want 3 owners and 1 failure", res)
	}
	if len(agg.Owners()) != 3 {
		t.Errorf("owners = %v, want all three visited", agg.Owners())
	}
}

func TestAnalyticsSyncJob_CancelledContext(t *testing.T) {
	t.Parallel()
	j := &cron.AnalyticsSyncJob{Accounts: seedAccounts(t), Aggregator: &crontest.MockAggregator{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

type stateCleanerFunc func(ctx context.Context) (int, error)

func (f stateCleanerFunc) Cleanup(ctx context.Context) (int, error) { return f(ctx) }

func TestCleanupJob_Defaults(t *testing.T) {
	t.Parallel()
	j := &cron.CleanupJob{}
	if j.Name() != "cleanup" {
		t.Errorf("name = %q", j.Name())
	}
	if j.Schedule() != "0 3 * * 0" {
		t.Errorf("schedule = %q, want weekly", j.Schedule())
	}
}

func TestCleanupJob_Clean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 7, 3, 0, 0, 0, time.UTC)
	fake := clocktest.NewFake(now.Add(-time.Hour))

	states := oauthstate.NewRegistry(oauthstate.NewMemoryStore(), oauthstate.Options{Clock: fake})
	for range 2 {
		if _, err := states.GenerateState(ctx, "u1", "linkedin", "https://app/cb", nil); err != nil {
			t.Fatal(err)
		}
	}
	fake.Set(now)
	if _, err := states.GenerateState(ctx, "u1", "linkedin", "https://app/cb", nil); err != nil {
		t.Fatal(err)
	}

	jobs := job.NewMemoryStore()
	finish := func(id string, at time.Time) {
		t.Helper()
		if err := jobs.Create(ctx, job.Job{ID: id, Type: job.TypePost, OwnerID: "u1", Status: job.StatusPending, MaxAttempts: 1}); err != nil {
			t.Fatal(err)
		}
		if _, err := jobs.Cancel(ctx, id, at); err != nil {
			t.Fatal(err)
		}
	}
	finish("ancient", now.Add(-31*24*time.Hour))
	finish("recent", now.Add(-29*24*time.Hour))

	j := &cron.CleanupJob{States: states, Jobs: jobs, Clock: fake}
	out, err := j.Execute(ctx, job.Job{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res cron.CleanupResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if res.States != 2 || res.Jobs != 1 {
		t.Errorf("result = %+v, want 2 states and 1 job", res)
	}
	if _, err := jobs.Get(ctx, "recent"); err != nil {
		t.Errorf("recent job should be retained: %v", err)
	}
}

func TestCleanupJob_StateFailureStillPrunesJobs(t *testing.T) {
	t.Parallel()

	boom := errors.New("redis down")
	jobs := job.NewMemoryStore()
	j := &cron.CleanupJob{
		States: stateCleanerFunc(func(context.Context) (int, error) { return 0, boom }),
		Jobs:   jobs,
	}
	res, err := j.Clean(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if res.Jobs != 0 {
		t.Errorf("jobs = %d", res.Jobs)
	}
}

func TestRecurring_InstallAndHandlers(t *testing.T) {
	t.Parallel()

	r := cron.Recurring{
		TokenRefresh:  &cron.TokenRefreshJob{},
		AnalyticsSync: &cron.AnalyticsSyncJob{Hour: 2},
		Cleanup:       &cron.CleanupJob{},
	}
	s := cron.NewScheduler(cron.Options{})
	if err := r.Install(s); err != nil {
		t.Fatalf("install: %v", err)
	}
	want := []string{"analytics_sync", "cleanup", "token_refresh"}
	if got := s.Jobs(); !slices.Equal(got, want) {
		t.Errorf("jobs = %v, want %v", got, want)
	}
	if err := r.Install(s); err == nil {
		t.Error("installing twice should fail on duplicate names")
	}

	h := r.Handlers(job.Handlers{})
	for _, typ := range []job.Type{job.TypeTokenRefresh, job.TypeAnalyticsSync, job.TypeCleanup} {
		if _, err := h.For(typ); err != nil {
			t.Errorf("handler for %s: %v", typ, err)
		}
	}
	if _, err := h.For(job.TypePost); err == nil {
		t.Error("post handler should stay unset")
	}
}
