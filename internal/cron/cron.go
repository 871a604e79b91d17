// Package cron runs the recurring maintenance jobs: the token refresh
// sweep, the daily analytics sync and the weekly cleanup. A failed run is
// logged and counted; the job keeps its schedule.
package cron

import "context"

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "0 */6 * * *").
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}
