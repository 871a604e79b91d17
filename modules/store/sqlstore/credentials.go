package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/cadence/internal/credential"
)

const credentialColumns = "platform, account_id, owner_id, access_token, refresh_token, " +
	"expires_at, last_refreshed_at, status, created_at, updated_at"

// CredentialStore implements credential.Store.
type CredentialStore struct {
	db *DB
}

// Compile-time interface check.
var _ credential.Store = (*CredentialStore)(nil)

// Get implements credential.Store.
func (s *CredentialStore) Get(ctx context.Context, platform, accountID string) (credential.Credential, error) {
	c, err := scanCredential(s.db.queryRow(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE platform = ? AND account_id = ?",
		platform, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Credential{}, fmt.Errorf("sqlstore: get credential: %w", err)
	}
	return c, nil
}

// Upsert implements credential.Store. created_at is kept from the first
// insert.
func (s *CredentialStore) Upsert(ctx context.Context, c credential.Credential) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform, account_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			last_refreshed_at = excluded.last_refreshed_at,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.Platform, c.AccountID, c.OwnerID, c.AccessToken, c.RefreshToken,
		nullMillis(c.ExpiresAt), nullMillis(c.LastRefreshedAt), string(c.Status),
		millis(c.CreatedAt), millis(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert credential: %w", err)
	}
	return nil
}

// UpdateToken implements credential.Store.
func (s *CredentialStore) UpdateToken(ctx context.Context, platform, accountID string, u credential.TokenUpdate) error {
	res, err := s.db.exec(ctx, `
		UPDATE credentials
		SET access_token = ?, refresh_token = ?, expires_at = ?, last_refreshed_at = ?, updated_at = ?
		WHERE platform = ? AND account_id = ?`,
		u.AccessToken, u.RefreshToken, nullMillis(u.ExpiresAt),
		millis(u.RefreshedAt), millis(u.RefreshedAt), platform, accountID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update token: %w", err)
	}
	return affectedOne(res, "update token")
}

// SetStatus implements credential.Store.
func (s *CredentialStore) SetStatus(ctx context.Context, platform, accountID string, status credential.Status, now time.Time) error {
	res, err := s.db.exec(ctx,
		"UPDATE credentials SET status = ?, updated_at = ? WHERE platform = ? AND account_id = ?",
		string(status), millis(now), platform, accountID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: set credential status: %w", err)
	}
	return affectedOne(res, "set credential status")
}

// ListByOwner implements credential.Store.
func (s *CredentialStore) ListByOwner(ctx context.Context, ownerID string) ([]credential.Credential, error) {
	return s.list(ctx, "WHERE owner_id = ? ORDER BY platform, account_id", ownerID)
}

// ListExpiring implements credential.Store.
func (s *CredentialStore) ListExpiring(ctx context.Context, from, to time.Time) ([]credential.Credential, error) {
	return s.list(ctx,
		"WHERE status = ? AND expires_at IS NOT NULL AND expires_at >= ? AND expires_at <= ? ORDER BY expires_at",
		string(credential.StatusActive), millis(from), millis(to))
}

// ListActive implements credential.Store.
func (s *CredentialStore) ListActive(ctx context.Context) ([]credential.Credential, error) {
	return s.list(ctx, "WHERE status = ? ORDER BY owner_id, platform, account_id", string(credential.StatusActive))
}

func (s *CredentialStore) list(ctx context.Context, where string, args ...any) ([]credential.Credential, error) {
	rows, err := s.db.query(ctx, "SELECT "+credentialColumns+" FROM credentials "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCredential(row scanner) (credential.Credential, error) {
	var (
		c                  credential.Credential
		status             string
		expires, refreshed sql.NullInt64
		created, updated   int64
	)
	if err := row.Scan(&c.Platform, &c.AccountID, &c.OwnerID, &c.AccessToken, &c.RefreshToken,
		&expires, &refreshed, &status, &created, &updated); err != nil {
		return credential.Credential{}, err
	}
	c.ExpiresAt = timePtr(expires)
	c.LastRefreshedAt = timePtr(refreshed)
	c.Status = credential.Status(status)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func affectedOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: %s: %w", op, err)
	}
	if n == 0 {
		return credential.ErrNotFound
	}
	return nil
}
