package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/cadence/internal/metrics"
	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by RunNow for a name that was never registered.
var ErrUnknownJob = errors.New("cron: unknown job")

// Options configures a Scheduler.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Location interprets schedule expressions. Defaults to UTC.
	Location *time.Location
}

// Scheduler manages periodic job execution using cron expressions.
// Each job is protected by a per-job mutex to prevent parallel execution
// of the same job (TryLock, so check and acquire are one step).
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	jobs     []Job
	names    map[string]struct{}
	locks    map[string]*sync.Mutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
	location *time.Location
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		names:    make(map[string]struct{}),
		locks:    make(map[string]*sync.Mutex),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		location: opts.Location,
	}
}

// RegisterJob adds a job to the scheduler. Must be called before Start().
// Returns an error if a job with the same name is already registered.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	s.names[name] = struct{}{}
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Start initializes the cron scheduler and begins executing registered jobs.
// Returns an error if any job has an invalid schedule expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser), cron.WithLocation(s.location))

	for _, j := range s.jobs {
		job := j
		lock := s.locks[job.Name()]

		_, err := s.cron.AddFunc(job.Schedule(), func() { s.tick(ctx, job, lock) })
		if err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", job.Name(), err)
		}
	}

	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.jobs))
	return nil
}

// RunNow runs the named job immediately, outside its schedule. It respects
// the per-job lock: a run already in progress makes this a skipped tick.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	lock, ok := s.locks[name]
	var job Job
	for _, j := range s.jobs {
		if j.Name() == name {
			job = j
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	s.tick(ctx, job, lock)
	return nil
}

// tick runs one invocation. Errors and panics are logged and swallowed so
// the next tick still happens.
func (s *Scheduler) tick(ctx context.Context, job Job, lock *sync.Mutex) {
	// If the previous tick is still running, skip this one.
	if !lock.TryLock() {
		s.logger.Warn("cron: job still running, skipping tick",
			"job", job.Name(),
		)
		s.metrics.RecurringRun(job.Name(), metrics.OutcomeSkipped)
		return
	}
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cron: job panicked", "job", job.Name(), "panic", r)
			s.metrics.RecurringRun(job.Name(), metrics.OutcomeFailed)
		}
	}()

	s.logger.Debug("cron: job started", "job", job.Name())
	if err := job.Run(ctx); err != nil {
		s.logger.Error("cron: job failed",
			"job", job.Name(),
			"error", err,
		)
		s.metrics.RecurringRun(job.Name(), metrics.OutcomeFailed)
		return
	}
	s.logger.Debug("cron: job completed", "job", job.Name())
	s.metrics.RecurringRun(job.Name(), metrics.OutcomeSuccess)
}

// Stop gracefully shuts down the scheduler, waiting for in-flight jobs.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		// Wait for running jobs to complete.
		<-s.cron.Stop().Done()
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
