// Package jobtest provides handler doubles and the conformance suite for
// job.Store implementations.
package jobtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/cadence/internal/job"
)

// Recorder is a job.Handler that records every call. With Func unset it
// succeeds with a nil result.
type Recorder struct {
	Func func(ctx context.Context, j job.Job) (json.RawMessage, error)

	mu    sync.Mutex
	calls []job.Job
}

// Compile-time interface check.
var _ job.Handler = (*Recorder)(nil)

// Execute implements job.Handler.
func (r *Recorder) Execute(ctx context.Context, j job.Job) (json.RawMessage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, j)
	r.mu.Unlock()
	if r.Func != nil {
		return r.Func(ctx, j)
	}
	return nil, nil
}

// Count returns the number of calls.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Calls returns the jobs Execute was called with.
func (r *Recorder) Calls() []job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]job.Job, len(r.calls))
	copy(out, r.calls)
	return out
}

// Failing returns a Recorder that always fails with err.
func Failing(err error) *Recorder {
	return &Recorder{Func: func(context.Context, job.Job) (json.RawMessage, error) {
		return nil, err
	}}
}

// Succeeding returns a Recorder that always succeeds with result.
func Succeeding(result string) *Recorder {
	return &Recorder{Func: func(context.Context, job.Job) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	}}
}

// AllTypes registers h for every job type.
func AllTypes(h job.Handler) job.Handlers {
	return job.Handlers{Post: h, Email: h, TokenRefresh: h, AnalyticsSync: h, Cleanup: h}
}
