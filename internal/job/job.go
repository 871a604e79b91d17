// Package job implements the persisted one-shot job scheduler: a durable
// job record per scheduled unit of work, an in-process timer per pending
// job, and an executor that moves each job through its state machine with
// geometric retry backoff.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of work a job performs. The set is closed;
// every Type has a field in Handlers.
type Type string

const (
	TypePost          Type = "one-shot-post"
	TypeEmail         Type = "one-shot-email"
	TypeTokenRefresh  Type = "recurring-token-refresh"
	TypeAnalyticsSync Type = "recurring-analytics-sync"
	TypeCleanup       Type = "recurring-cleanup"
)

// Types lists every job type in declaration order.
var Types = []Type{TypePost, TypeEmail, TypeTokenRefresh, TypeAnalyticsSync, TypeCleanup}

// ParseType returns the Type named s.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Status is a job's position in its state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus returns the Status named s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, s)
}

var (
	// ErrPastFireTime rejects a schedule request whose fire time is not in
	// the future.
	ErrPastFireTime = errors.New("job: fire time is not in the future")

	// ErrNotFoundOrTerminal rejects a cancellation of a job that does not
	// exist or is no longer pending.
	ErrNotFoundOrTerminal = errors.New("job: not found or not pending")

	// ErrNotFound is returned when no job has the requested ID.
	ErrNotFound = errors.New("job: not found")

	// ErrUnknownType is returned for a job type outside the closed set, or
	// one with no registered handler.
	ErrUnknownType = errors.New("job: unknown type")

	// ErrInvalid rejects a malformed schedule request.
	ErrInvalid = errors.New("job: invalid request")

	// ErrConflict is returned by Store transitions when the job is not in
	// the status the transition starts from.
	ErrConflict = errors.New("job: status conflict")
)

// Job is one scheduled unit of work.
type Job struct {
	ID          string          `json:"job_id"`
	Type        Type            `json:"job_type"`
	OwnerID     string          `json:"owner_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	FireTime    time.Time       `json:"fire_time"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Filter selects jobs in Store.List. Zero fields match everything.
type Filter struct {
	OwnerID string
	Status  Status
	Type    Type
}

// Match reports whether j satisfies f.
func (f Filter) Match(j Job) bool {
	if f.OwnerID != "" && j.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Type != "" && j.Type != f.Type {
		return false
	}
	return true
}
