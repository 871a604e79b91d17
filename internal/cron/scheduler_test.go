package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// simpleJob is a minimal Job for scheduler tests.
type simpleJob struct {
	name     string
	schedule string
	runFunc  func(ctx context.Context) error
	mu       sync.Mutex
	calls    int
}

func (j *simpleJob) Name() string     { return j.name }
func (j *simpleJob) Schedule() string { return j.schedule }
func (j *simpleJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.runFunc != nil {
		return j.runFunc(ctx)
	}
	return nil
}

func (j *simpleJob) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func TestScheduler_RegisterJob_DuplicateName(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{Logger: slog.Default()})

	err := s.RegisterJob(&simpleJob{name: "test", schedule: "* * * * *"})
	if err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}

	err = s.RegisterJob(&simpleJob{name: "test", schedule: "* * * * *"})
	if err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestScheduler_Start_InvalidSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{})
	_ = s.RegisterJob(&simpleJob{name: "bad", schedule: "invalid"})

	err := s.Start()
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{})
	_ = s.RegisterJob(&simpleJob{name: "noop", schedule: "* * * * *"})

	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_Defaults(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{}) // should not panic
	if s.logger == nil {
		t.Fatal("logger should default to slog.Default()")
	}
	if s.location != time.UTC {
		t.Fatalf("location = %v, want UTC", s.location)
	}
}

func TestScheduler_NoParallelExecution(t *testing.T) {
	t.Parallel()

	var concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})
	job := &simpleJob{
		name:     "slow",
		schedule: "* * * * *",
		runFunc: func(_ context.Context) error {
			c := concurrent.Add(1)
			for {
				old := maxConcurrent.Load()
				if c <= old || maxConcurrent.CompareAndSwap(old, c) {
					break
				}
			}
			<-release
			concurrent.Add(-1)
			return nil
		},
	}

	m := metrics.New()
	s := NewScheduler(Options{Metrics: m})
	_ = s.RegisterJob(job)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.RunNow(context.Background(), "slow")
	}()
	for concurrent.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A tick arriving while the first run holds the lock is skipped.
	for range 5 {
		if err := s.RunNow(context.Background(), "slow"); err != nil {
			t.Fatalf("run now: %v", err)
		}
	}
	close(release)
	wg.Wait()

	if maxConcurrent.Load() > 1 {
		t.Errorf("max concurrent = %d, want <= 1", maxConcurrent.Load())
	}
	if job.callCount() != 1 {
		t.Errorf("calls = %d, want 1", job.callCount())
	}
	// One success series and one skipped series.
	n, err := testutil.GatherAndCount(m.Registry(), "cadence_cron_runs_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Errorf("series = %d, want 2", n)
	}
}

func TestScheduler_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	failing := &simpleJob{
		name:     "failing",
		schedule: "* * * * *",
		runFunc: func(_ context.Context) error {
			return errors.New("job failed")
		},
	}
	panicking := &simpleJob{
		name:     "panicking",
		schedule: "* * * * *",
		runFunc: func(_ context.Context) error {
			panic("boom")
		},
	}

	m := metrics.New()
	s := NewScheduler(Options{Metrics: m})
	_ = s.RegisterJob(failing)
	_ = s.RegisterJob(panicking)

	for range 3 {
		if err := s.RunNow(context.Background(), "failing"); err != nil {
			t.Fatalf("run now: %v", err)
		}
		if err := s.RunNow(context.Background(), "panicking"); err != nil {
			t.Fatalf("run now: %v", err)
		}
	}

	// Every tick still runs after a failure.
	if failing.callCount() != 3 || panicking.callCount() != 3 {
		t.Fatalf("calls = %d/%d, want 3/3", failing.callCount(), panicking.callCount())
	}

	n, err := testutil.GatherAndCount(m.Registry(), "cadence_cron_runs_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Errorf("series = %d, want 2 (one failed series per job)", n)
	}
}

func TestScheduler_RunNowUnknown(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{})
	if err := s.RunNow(context.Background(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{})
	// Stop without Start should not panic.
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
