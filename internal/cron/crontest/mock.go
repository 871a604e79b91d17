// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockAggregator records Aggregate calls. FailFor makes the listed owners
// fail.
type MockAggregator struct {
	FailFor map[string]error

	mu     sync.Mutex
	owners []string
	counts map[string]int
}

// Compile-time interface check.
var _ cron.Aggregator = (*MockAggregator)(nil)

// Aggregate implements cron.Aggregator.
func (m *MockAggregator) Aggregate(_ context.Context, ownerID string, accounts []credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.owners = append(m.owners, ownerID)
	m.counts[ownerID] = len(accounts)
	return m.FailFor[ownerID]
}

// Owners returns the owners aggregated, in call order.
func (m *MockAggregator) Owners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.owners...)
}

// Accounts returns how many accounts were passed for ownerID.
func (m *MockAggregator) Accounts(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[ownerID]
}
