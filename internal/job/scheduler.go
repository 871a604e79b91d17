package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/cadence/internal/clock"
	"github.com/flemzord/cadence/internal/keylock"
	"github.com/flemzord/cadence/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxAttempts applies when a request leaves MaxAttempts unset.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the first retry delay; each later retry doubles it.
	DefaultBaseDelay = 5 * time.Second

	maxBackoff = time.Hour

	tracerName = "github.com/flemzord/cadence/internal/job"
)

// Options configures a Scheduler.
type Options struct {
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	BaseDelay time.Duration

	// MaxAttempts applies to requests that leave MaxAttempts unset.
	// Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// NewID generates job IDs. Defaults to random UUIDs.
	NewID func() string
}

// Request describes a job to schedule.
type Request struct {
	Type        Type            `json:"job_type"`
	OwnerID     string          `json:"owner_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	FireTime    time.Time       `json:"fire_time"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// Scheduler persists one-shot jobs and fires each at its fire time. It
// keeps one in-process timer per pending job; the Store stays the source
// of truth and Start rebuilds the timers from it.
//
// Scheduling decisions for one job ID are serialized. Handlers for
// different jobs run concurrently, each in its own goroutine.
type Scheduler struct {
	store     Store
	handlers  Handlers
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	baseDelay time.Duration
	attempts  int
	newID     func() string
	locks     *keylock.Map[string]
	events    broker

	mu       sync.Mutex
	timers   map[string]*armed
	stopped  bool
	inflight sync.WaitGroup
}

type armed struct {
	timer clock.Timer
}

// NewScheduler creates a Scheduler. Call Start to recover persisted jobs.
func NewScheduler(store Store, handlers Handlers, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Scheduler{
		store:     store,
		handlers:  handlers,
		clock:     clock.OrReal(opts.Clock),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		baseDelay: opts.BaseDelay,
		attempts:  opts.MaxAttempts,
		newID:     opts.NewID,
		locks:     keylock.New[string](),
		timers:    make(map[string]*armed),
	}
}

// Start fails jobs left processing by a previous process, since their
// handler may already have run, then recovers pending jobs. It implements
// core.Starter.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.failInterrupted(ctx); err != nil {
		return err
	}
	return s.Recover(ctx)
}

// Stop disarms every timer, closes subscriber channels and waits for
// running handlers to return or ctx to expire. Pending jobs stay pending in the Store. It implements
// core.Stopper.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
	s.metrics.SetArmedTimers(0)
	s.mu.Unlock()
	s.events.closeAll()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job: waiting for running handlers: %w", ctx.Err())
	}
}

// Schedule persists a pending job and arms its timer.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (Job, error) {
	if _, err := s.handlers.For(req.Type); err != nil {
		return Job{}, err
	}
	if req.OwnerID == "" {
		return Job{}, fmt.Errorf("%w: owner_id is required", ErrInvalid)
	}
	if req.MaxAttempts < 0 {
		return Job{}, fmt.Errorf("%w: max_attempts must be positive", ErrInvalid)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return Job{}, fmt.Errorf("%w: payload is not valid JSON", ErrInvalid)
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = s.attempts
	}

	now := s.clock.Now()
	if !req.FireTime.After(now) {
		return Job{}, ErrPastFireTime
	}

	j := Job{
		ID:          s.newID(),
		Type:        req.Type,
		OwnerID:     req.OwnerID,
		Payload:     req.Payload,
		FireTime:    req.FireTime,
		Status:      StatusPending,
		MaxAttempts: req.MaxAttempts,
		CreatedAt:   now,
	}
	unlock := s.locks.Lock(j.ID)
	if err := s.store.Create(ctx, j); err != nil {
		unlock()
		return Job{}, fmt.Errorf("job: persist %s: %w", j.ID, err)
	}
	s.arm(j)
	unlock()

	s.metrics.JobScheduled(string(j.Type))
	s.publish(j)
	s.logger.Info("scheduler: job scheduled",
		"job_id", j.ID,
		"job_type", j.Type,
		"owner_id", j.OwnerID,
		"fire_time", j.FireTime,
	)
	return j, nil
}

// Cancel moves a pending job to cancelled and disarms its timer. A job
// that is processing, terminal or unknown yields ErrNotFoundOrTerminal.
func (s *Scheduler) Cancel(ctx context.Context, id string) (Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	j, err := s.store.Cancel(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrNotFoundOrTerminal) {
			return Job{}, err
		}
		return Job{}, fmt.Errorf("job: cancel %s: %w", id, err)
	}
	s.disarm(id)

	s.metrics.JobCancelled()
	s.publish(j)
	s.logger.Info("scheduler: job cancelled", "job_id", id)
	return j, nil
}

// Status returns the job's current record.
func (s *Scheduler) Status(ctx context.Context, id string) (Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return Job{}, fmt.Errorf("job: status %s: %w", id, err)
	}
	return j, nil
}

// List returns the owner's jobs, optionally filtered by status and type.
func (s *Scheduler) List(ctx context.Context, f Filter) ([]Job, error) {
	if f.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalid)
	}
	jobs, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("job: list for %s: %w", f.OwnerID, err)
	}
	return jobs, nil
}

// Subscribe returns a channel receiving an Event after every job state
// change, and a func that unsubscribes and closes it. Stop also closes
// it. Events are dropped for a subscriber whose buffer is full.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// Recover rebuilds the timer set from the Store. Pending jobs due in the
// future are armed; overdue ones are claimed at once, oldest first, and
// their handlers run concurrently.
// Calling it again is harmless: timers are replaced and a job already
// claimed is not run twice.
func (s *Scheduler) Recover(ctx context.Context) error {
	now := s.clock.Now()
	pending, err := s.store.List(ctx, Filter{Status: StatusPending})
	if err != nil {
		return fmt.Errorf("job: list pending jobs: %w", err)
	}
	overdue := 0
	for _, j := range pending {
		if j.FireTime.After(now) {
			s.arm(j)
			continue
		}
		overdue++
		// Claims happen here in fire-time order; only handlers run
		// concurrently.
		if !s.reserve() {
			continue
		}
		claimed, ok := s.claim(ctx, j.ID)
		if !ok {
			s.inflight.Done()
			continue
		}
		go func() {
			defer s.inflight.Done()
			s.run(context.Background(), claimed)
		}()
	}

	s.logger.Info("scheduler: recovered jobs",
		"armed", len(pending)-overdue,
		"overdue", overdue,
	)
	return nil
}

func (s *Scheduler) failInterrupted(ctx context.Context) error {
	stale, err := s.store.List(ctx, Filter{Status: StatusProcessing})
	if err != nil {
		return fmt.Errorf("job: list interrupted jobs: %w", err)
	}
	now := s.clock.Now()
	for _, j := range stale {
		failed, err := s.store.Fail(ctx, j.ID, "interrupted by process restart", now)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("job: fail interrupted job %s: %w", j.ID, err)
		}
		s.metrics.JobExecuted(string(j.Type), metrics.OutcomeFailed, 0)
		s.publish(failed)
		s.logger.Warn("scheduler: interrupted job failed", "job_id", j.ID, "job_type", j.Type)
	}
	return nil
}

// Armed returns the number of armed timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// arm sets (or replaces) the timer for j. It is a no-op once stopped.
func (s *Scheduler) arm(j Job) {
	delay := max(j.FireTime.Sub(s.clock.Now()), 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[j.ID]; ok {
		old.timer.Stop()
	}
	a := &armed{}
	id := j.ID
	a.timer = s.clock.AfterFunc(delay, func() { s.fire(id, a) })
	s.timers[id] = a
	s.metrics.SetArmedTimers(len(s.timers))
}

func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[id]; ok {
		a.timer.Stop()
		delete(s.timers, id)
		s.metrics.SetArmedTimers(len(s.timers))
	}
}

// fire runs on timer expiry. A timer replaced or disarmed after it started
// firing is ignored.
func (s *Scheduler) fire(id string, a *armed) {
	s.mu.Lock()
	if cur, ok := s.timers[id]; !ok || cur != a {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.metrics.SetArmedTimers(len(s.timers))
	s.mu.Unlock()

	s.dispatch(id)
}

// reserve counts a handler about to run so Stop waits for it. It reports
// false once stopped.
func (s *Scheduler) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

// dispatch executes the job in its own goroutine.
func (s *Scheduler) dispatch(id string) {
	if !s.reserve() {
		return
	}
	go func() {
		defer s.inflight.Done()
		s.execute(context.Background(), id)
	}()
}

func (s *Scheduler) publish(j Job) {
	s.events.publish(Event{Job: j, At: s.clock.Now()})
}

// Backoff returns the delay before retry number attempt (1-based):
// base·2^(attempt-1), capped at one hour.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for range attempt - 1 {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
