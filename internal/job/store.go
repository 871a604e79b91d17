package job

import (
	"context"
	"encoding/json"
	"time"
)

// Store persists jobs. It is the source of truth for job state: the
// scheduler's timers are rebuilt from it on start.
//
// Every transition is a single compare-and-swap on the job's status so
// that concurrent fire, cancel and settle calls for one job cannot both
// succeed.
type Store interface {
	// Create inserts a new job.
	Create(ctx context.Context, j Job) error

	// Get returns the job with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (Job, error)

	// List returns jobs matching f, ordered by fire time then creation.
	List(ctx context.Context, f Filter) ([]Job, error)

	// Claim moves a pending job to processing and increments its attempt
	// count. It returns ErrConflict if the job is not pending and
	// ErrNotFound if it does not exist.
	Claim(ctx context.Context, id string) (Job, error)

	// Cancel moves a pending job to cancelled. It returns
	// ErrNotFoundOrTerminal if the job is missing or not pending.
	Cancel(ctx context.Context, id string, now time.Time) (Job, error)

	// Complete moves a processing job to completed with the handler
	// result.
	Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) (Job, error)

	// Retry moves a processing job back to pending at fireTime.
	Retry(ctx context.Context, id string, fireTime time.Time, lastErr string) (Job, error)

	// Fail moves a processing job to failed.
	Fail(ctx context.Context, id string, lastErr string, now time.Time) (Job, error)

	// DeleteTerminalBefore removes terminal jobs completed before the
	// cutoff and returns how many were removed.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int, error)
}
