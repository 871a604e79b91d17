package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/cadence/internal/job"
)

const jobColumns = "job_id, job_type, owner_id, payload, fire_time, status, attempts, " +
	"max_attempts, last_error, result, created_at, completed_at"

// JobStore implements job.Store. Transitions are conditional UPDATEs on
// the current status, so the database arbitrates racing callers.
type JobStore struct {
	db *DB
}

// Compile-time interface check.
var _ job.Store = (*JobStore)(nil)

// Create implements job.Store.
func (s *JobStore) Create(ctx context.Context, j job.Job) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO scheduled_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Type), j.OwnerID, nullJSON(j.Payload), millis(j.FireTime),
		string(j.Status), j.Attempts, j.MaxAttempts, j.LastError, nullJSON(j.Result),
		millis(j.CreatedAt), nullMillis(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create job %s: %w", j.ID, err)
	}
	return nil
}

// Get implements job.Store.
func (s *JobStore) Get(ctx context.Context, id string) (job.Job, error) {
	j, err := scanJob(s.db.queryRow(ctx, "SELECT "+jobColumns+" FROM scheduled_jobs WHERE job_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, job.ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("sqlstore: get job: %w", err)
	}
	return j, nil
}

// List implements job.Store.
func (s *JobStore) List(ctx context.Context, f job.Filter) ([]job.Job, error) {
	var (
		conds []string
		args  []any
	)
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, string(f.Type))
	}

	q := "SELECT " + jobColumns + " FROM scheduled_jobs"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY fire_time, created_at, job_id"

	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Claim implements job.Store.
func (s *JobStore) Claim(ctx context.Context, id string) (job.Job, error) {
	return s.transition(ctx, id, job.StatusPending, job.ErrConflict,
		"status = ?, attempts = attempts + 1", string(job.StatusProcessing))
}

// Cancel implements job.Store.
func (s *JobStore) Cancel(ctx context.Context, id string, now time.Time) (job.Job, error) {
	return s.transition(ctx, id, job.StatusPending, job.ErrNotFoundOrTerminal,
		"status = ?, completed_at = ?", string(job.StatusCancelled), millis(now))
}

// Complete implements job.Store.
func (s *JobStore) Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) (job.Job, error) {
	return s.transition(ctx, id, job.StatusProcessing, job.ErrConflict,
		"status = ?, result = ?, completed_at = ?", string(job.StatusCompleted), nullJSON(result), millis(now))
}

// Retry implements job.Store.
func (s *JobStore) Retry(ctx context.Context, id string, fireTime time.Time, lastErr string) (job.Job, error) {
	return s.transition(ctx, id, job.StatusProcessing, job.ErrConflict,
		"status = ?, fire_time = ?, last_error = ?", string(job.StatusPending), millis(fireTime), lastErr)
}

// Fail implements job.Store.
func (s *JobStore) Fail(ctx context.Context, id string, lastErr string, now time.Time) (job.Job, error) {
	return s.transition(ctx, id, job.StatusProcessing, job.ErrConflict,
		"status = ?, last_error = ?, completed_at = ?", string(job.StatusFailed), lastErr, millis(now))
}

// DeleteTerminalBefore implements job.Store.
func (s *JobStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.exec(ctx, `
		DELETE FROM scheduled_jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(job.StatusCompleted), string(job.StatusFailed), string(job.StatusCancelled), millis(before),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete terminal jobs: %w", err)
	}
	return int(n), nil
}

// transition runs UPDATE ... SET <set> WHERE job_id = ? AND status = from.
// When no row changes it distinguishes a missing job from a status
// mismatch; Cancel reports both as ErrNotFoundOrTerminal.
func (s *JobStore) transition(ctx context.Context, id string, from job.Status, mismatch error, set string, args ...any) (job.Job, error) {
	q := "UPDATE scheduled_jobs SET " + set + " WHERE job_id = ? AND status = ? RETURNING " + jobColumns
	args = append(args, id, string(from))

	j, err := scanJob(s.db.queryRow(ctx, q, args...))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, fmt.Errorf("sqlstore: transition job %s: %w", id, err)
	}
	if errors.Is(mismatch, job.ErrNotFoundOrTerminal) {
		return job.Job{}, mismatch
	}

	var one int
	err = s.db.queryRow(ctx, "SELECT 1 FROM scheduled_jobs WHERE job_id = ?", id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return job.Job{}, job.ErrNotFound
	case err != nil:
		return job.Job{}, fmt.Errorf("sqlstore: transition job %s: %w", id, err)
	}
	return job.Job{}, mismatch
}

func scanJob(row scanner) (job.Job, error) {
	var (
		j               job.Job
		typ, status     string
		payload, result []byte
		fire, created   int64
		completed       sql.NullInt64
	)
	if err := row.Scan(&j.ID, &typ, &j.OwnerID, &payload, &fire, &status, &j.Attempts,
		&j.MaxAttempts, &j.LastError, &result, &created, &completed); err != nil {
		return job.Job{}, err
	}
	j.Type = job.Type(typ)
	j.Status = job.Status(status)
	if len(payload) > 0 {
		j.Payload = json.RawMessage(payload)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	j.FireTime = fromMillis(fire)
	j.CreatedAt = fromMillis(created)
	j.CompletedAt = timePtr(completed)
	return j, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
