package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/cadence/internal/oauthstate"
)

const stateColumns = "state_token, user_id, platform, redirect_uri, metadata, created_at, expires_at, used"

// StateStore implements oauthstate.Store.
type StateStore struct {
	db *DB
}

// Compile-time interface check.
var _ oauthstate.Store = (*StateStore)(nil)

// Put implements oauthstate.Store.
func (s *StateStore) Put(ctx context.Context, rec oauthstate.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal state metadata: %w", err)
	}
	_, err = s.db.exec(ctx, `
		INSERT INTO oauth_states (`+stateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (state_token) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			redirect_uri = excluded.redirect_uri,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			used = excluded.used`,
		rec.Token, rec.UserID, rec.Platform, rec.RedirectURI, string(meta),
		millis(rec.CreatedAt), millis(rec.ExpiresAt), rec.Used,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: put state: %w", err)
	}
	return nil
}

// Consume implements oauthstate.Store. The claim is checked and the record
// marked used by a single conditional UPDATE.
func (s *StateStore) Consume(ctx context.Context, c oauthstate.Claim) (oauthstate.Record, error) {
	q := `UPDATE oauth_states SET used = ?
		WHERE state_token = ? AND platform = ? AND expires_at > ? AND used = ?`
	args := []any{true, c.Token, c.Platform, millis(c.Now), false}
	if c.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, c.UserID)
	}
	q += " RETURNING " + stateColumns

	rec, err := scanState(s.db.queryRow(ctx, q, args...))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return oauthstate.Record{}, fmt.Errorf("sqlstore: consume state: %w", err)
	}

	// Nothing updated: tell a replay apart from a mismatch.
	existing, err := scanState(s.db.queryRow(ctx,
		"SELECT "+stateColumns+" FROM oauth_states WHERE state_token = ?", c.Token))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return oauthstate.Record{}, oauthstate.ErrNoMatch
	case err != nil:
		return oauthstate.Record{}, fmt.Errorf("sqlstore: consume state: %w", err)
	case existing.Used && c.Matches(existing):
		return oauthstate.Record{}, oauthstate.ErrConsumed
	default:
		return oauthstate.Record{}, oauthstate.ErrNoMatch
	}
}

// DeleteExpired implements oauthstate.Store.
func (s *StateStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.exec(ctx, "DELETE FROM oauth_states WHERE expires_at < ?", millis(before))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete expired states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete expired states: %w", err)
	}
	return int(n), nil
}

func scanState(row scanner) (oauthstate.Record, error) {
	var (
		rec                oauthstate.Record
		meta               string
		created, expiresAt int64
	)
	if err := row.Scan(&rec.Token, &rec.UserID, &rec.Platform, &rec.RedirectURI,
		&meta, &created, &expiresAt, &rec.Used); err != nil {
		return oauthstate.Record{}, err
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return oauthstate.Record{}, fmt.Errorf("sqlstore: decode state metadata: %w", err)
		}
	}
	rec.CreatedAt = fromMillis(created)
	rec.ExpiresAt = fromMillis(expiresAt)
	return rec, nil
}
