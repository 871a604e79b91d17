package postgres

const schemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS oauth_states (
		state_token  TEXT    PRIMARY KEY,
		user_id      TEXT    NOT NULL,
		platform     TEXT    NOT NULL,
		redirect_uri TEXT    NOT NULL DEFAULT '',
		metadata     TEXT    NOT NULL DEFAULT '{}',
		created_at   BIGINT  NOT NULL,
		expires_at   BIGINT  NOT NULL,
		used         BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE INDEX IF NOT EXISTS idx_oauth_states_expires ON oauth_states(expires_at)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		platform          TEXT   NOT NULL,
		account_id        TEXT   NOT NULL,
		owner_id          TEXT   NOT NULL,
		access_token      TEXT   NOT NULL DEFAULT '',
		refresh_token     TEXT   NOT NULL DEFAULT '',
		expires_at        BIGINT,
		last_refreshed_at BIGINT,
		status            TEXT   NOT NULL DEFAULT 'active',
		created_at        BIGINT NOT NULL,
		updated_at        BIGINT NOT NULL,
		PRIMARY KEY (platform, account_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_expires ON credentials(status, expires_at)`,

	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		job_id       TEXT    PRIMARY KEY,
		job_type     TEXT    NOT NULL,
		owner_id     TEXT    NOT NULL,
		payload      TEXT,
		fire_time    BIGINT  NOT NULL,
		status       TEXT    NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error   TEXT    NOT NULL DEFAULT '',
		result       TEXT,
		created_at   BIGINT  NOT NULL,
		completed_at BIGINT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_owner_status ON scheduled_jobs(owner_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_fire_time ON scheduled_jobs(fire_time)`,
}
