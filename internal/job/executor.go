package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/cadence/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// execute claims the job and runs its handler.
func (s *Scheduler) execute(ctx context.Context, id string) {
	if j, ok := s.claim(ctx, id); ok {
		s.run(ctx, j)
	}
}

// claim moves the job to processing. The claim is the race guard against
// Cancel: only a job still pending is run.
func (s *Scheduler) claim(ctx context.Context, id string) (Job, bool) {
	unlock := s.locks.Lock(id)
	j, err := s.store.Claim(ctx, id)
	unlock()
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			s.metrics.JobExecuted("unknown", metrics.OutcomeSkipped, 0)
			s.logger.Debug("scheduler: fire skipped", "job_id", id, "error", err)
			return Job{}, false
		}
		// Storage is unavailable: try again later rather than dropping
		// the job.
		s.logger.Error("scheduler: claim failed", "job_id", id, "error", err)
		s.arm(Job{ID: id, FireTime: s.clock.Now().Add(s.baseDelay)})
		return Job{}, false
	}
	s.publish(j)
	return j, true
}

// run invokes the handler for a claimed job and records the outcome.
func (s *Scheduler) run(ctx context.Context, j Job) {
	ctx, span := s.tracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.String("job_id", j.ID),
		attribute.String("job_type", string(j.Type)),
		attribute.Int("attempt", j.Attempts),
	))
	defer span.End()

	start := time.Now()
	result, runErr := s.invoke(ctx, j)
	elapsed := time.Since(start)

	if runErr == nil {
		s.complete(ctx, j, result, elapsed)
		return
	}
	span.RecordError(runErr)
	span.SetStatus(codes.Error, "handler failed")
	s.handleFailure(ctx, j, runErr, elapsed)
}

// invoke runs the handler, turning a panic into an ordinary failure.
func (s *Scheduler) invoke(ctx context.Context, j Job) (result json.RawMessage, err error) {
	h, err := s.handlers.For(j.Type)
	if err != nil {
		return nil, Permanent(err)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: handler panicked", "job_id", j.ID, "job_type", j.Type, "panic", r)
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, j)
}

func (s *Scheduler) complete(ctx context.Context, j Job, result json.RawMessage, elapsed time.Duration) {
	if len(result) > 0 && !json.Valid(result) {
		s.logger.Warn("scheduler: discarding invalid handler result", "job_id", j.ID)
		result = nil
	}
	done, err := s.store.Complete(ctx, j.ID, result, s.clock.Now())
	if err != nil {
		s.logger.Error("scheduler: persist completion failed", "job_id", j.ID, "error", err)
		return
	}
	s.metrics.JobExecuted(string(j.Type), metrics.OutcomeSuccess, elapsed)
	s.publish(done)
	s.logger.Info("scheduler: job completed",
		"job_id", j.ID,
		"job_type", j.Type,
		"attempts", j.Attempts,
	)
}

// handleFailure retries the job after a backoff delay, or fails it when
// the error is permanent or no attempts remain.
func (s *Scheduler) handleFailure(ctx context.Context, j Job, runErr error, elapsed time.Duration) {
	msg := runErr.Error()
	if msg == "" {
		msg = "handler failed"
	}
	now := s.clock.Now()
	permanent := IsPermanent(runErr)

	if permanent || j.Attempts >= j.MaxAttempts {
		failed, err := s.store.Fail(ctx, j.ID, msg, now)
		if err != nil {
			s.logger.Error("scheduler: persist failure failed", "job_id", j.ID, "error", err)
			return
		}
		s.metrics.JobExecuted(string(j.Type), metrics.OutcomeFailed, elapsed)
		s.publish(failed)
		s.logger.Warn("scheduler: job failed",
			"job_id", j.ID,
			"job_type", j.Type,
			"attempts", j.Attempts,
			"permanent", permanent,
			"error", runErr,
		)
		return
	}

	delay := Backoff(s.baseDelay, j.Attempts)
	unlock := s.locks.Lock(j.ID)
	retried, err := s.store.Retry(ctx, j.ID, now.Add(delay), msg)
	if err == nil {
		s.arm(retried)
	}
	unlock()
	if err != nil {
		s.logger.Error("scheduler: persist retry failed", "job_id", j.ID, "error", err)
		return
	}

	s.metrics.JobExecuted(string(j.Type), metrics.OutcomeRetry, elapsed)
	s.publish(retried)
	s.logger.Info("scheduler: job retry scheduled",
		"job_id", j.ID,
		"job_type", j.Type,
		"attempt", j.Attempts,
		"delay", delay,
		"error", runErr,
	)
}
