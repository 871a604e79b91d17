package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/flemzord/cadence/modules/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{
	"job_id", "job_type", "owner_id", "payload", "fire_time", "status", "attempts",
	"max_attempts", "last_error", "result", "created_at", "completed_at",
}

// newMigrated returns a store whose schema is already at the current version.
func newMigrated(t *testing.T) (*sqlstore.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_version")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(schemaVersion))

	store, err := FromDB(context.Background(), db)
	require.NoError(t, err)
	return store, mock
}

func TestFromDB_Migrates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_version")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	for range schemaStatements {
		mock.ExpectExec("CREATE (TABLE|INDEX) IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT DO NOTHING")).
		WithArgs(schemaVersion).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store, err := FromDB(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, sqlstore.Postgres, store.Dialect())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFromDB_AlreadyCurrent(t *testing.T) {
	_, mock := newMigrated(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobClaim(t *testing.T) {
	store, mock := newMigrated(t)
	fire := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE scheduled_jobs SET status = $1, attempts = attempts + 1 WHERE job_id = $2 AND status = $3 RETURNING job_id")).
		WithArgs("processing", "j1", "pending").
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			"j1", "one-shot-post", "u1", []byte(`{"msg":"hi"}`), fire.UnixMilli(), "processing",
			int64(1), int64(3), "", nil, fire.Add(-time.Hour).UnixMilli(), nil))

	j, err := store.Jobs().Claim(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, j.Status)
	assert.Equal(t, job.TypePost, j.Type)
	assert.Equal(t, 1, j.Attempts)
	assert.True(t, j.FireTime.Equal(fire))
	assert.JSONEq(t, `{"msg":"hi"}`, string(j.Payload))
	assert.Nil(t, j.Result)
	assert.Nil(t, j.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobClaim_Conflict(t *testing.T) {
	store, mock := newMigrated(t)

	mock.ExpectQuery("UPDATE scheduled_jobs SET").
		WithArgs("processing", "j1", "pending").
		WillReturnRows(sqlmock.NewRows(jobCols))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM scheduled_jobs WHERE job_id = $1")).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

	_, err := store.Jobs().Claim(context.Background(), "j1")
	require.ErrorIs(t, err, job.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobClaim_NotFound(t *testing.T) {
	store, mock := newMigrated(t)

	mock.ExpectQuery("UPDATE scheduled_jobs SET").WillReturnRows(sqlmock.NewRows(jobCols))
	mock.ExpectQuery("SELECT 1 FROM scheduled_jobs").WillReturnRows(sqlmock.NewRows([]string{"one"}))

	_, err := store.Jobs().Claim(context.Background(), "missing")
	require.ErrorIs(t, err, job.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobCancel_NotPending(t *testing.T) {
	store, mock := newMigrated(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE scheduled_jobs SET status = $1, completed_at = $2 WHERE job_id = $3 AND status = $4")).
		WithArgs("cancelled", now.UnixMilli(), "j1", "pending").
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err := store.Jobs().Cancel(context.Background(), "j1", now)
	require.ErrorIs(t, err, job.ErrNotFoundOrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobList_Filter(t *testing.T) {
	store, mock := newMigrated(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE owner_id = $1 AND status = $2 ORDER BY fire_time, created_at, job_id")).
		WithArgs("u1", "failed").
		WillReturnRows(sqlmock.NewRows(jobCols))

	jobs, err := store.Jobs().List(context.Background(), job.Filter{OwnerID: "u1", Status: job.StatusFailed})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateConsume(t *testing.T) {
	store, mock := newMigrated(t)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE oauth_states SET used = $1")).
		WithArgs(true, "tok", "linkedin", now.UnixMilli(), false, "u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"state_token", "user_id", "platform", "redirect_uri", "metadata", "created_at", "expires_at", "used",
		}).AddRow("tok", "u1", "linkedin", "https://app/cb", `{"tenant":"t1"}`,
			now.Add(-time.Minute).UnixMilli(), now.Add(9*time.Minute).UnixMilli(), true))

	rec, err := store.States().Consume(context.Background(), oauthstate.Claim{
		Token: "tok", Platform: "linkedin", UserID: "u1", Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://app/cb", rec.RedirectURI)
	assert.Equal(t, "t1", rec.Metadata["tenant"])
	assert.True(t, rec.Used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialUpdateToken_NotFound(t *testing.T) {
	store, mock := newMigrated(t)

	mock.ExpectExec("UPDATE credentials").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Credentials().UpdateToken(context.Background(), "linkedin", "missing", credential.TokenUpdate{
		AccessToken: "at", RefreshedAt: time.Now(),
	})
	require.ErrorIs(t, err, credential.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig(t *testing.T) {
	var cfg Config
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")

	cfg.DSN = "postgres://localhost/cadence?sslmode=disable"
	cfg.Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultMaxOpenConns, cfg.MaxOpenConns)
	assert.Equal(t, defaultConnMaxLifetime, cfg.ConnMaxLifetime)

	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}
