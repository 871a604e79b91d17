// Package credentialtest holds the conformance suite for credential.Store
// implementations.
package credentialtest

import (
	"context"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreSuite exercises store semantics. newStore must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) credential.Store) {
	t.Helper()

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := base.Add(d)
		return &v
	}
	cred := func(platform, account, owner string, exp *time.Time) credential.Credential {
		return credential.Credential{
			Platform:     platform,
			AccountID:    account,
			OwnerID:      owner,
			AccessToken:  "at-" + account,
			RefreshToken: "rt-" + account,
			ExpiresAt:    exp,
			Status:       credential.StatusActive,
			CreatedAt:    base,
			UpdatedAt:    base,
		}
	}

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "linkedin", "nope")
		require.ErrorIs(t, err, credential.ErrNotFound)
	})

	t.Run("upsert and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, cred("linkedin", "a1", "u1", at(time.Hour))))

		got, err := s.Get(ctx, "linkedin", "a1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.OwnerID)
		assert.Equal(t, "at-a1", got.AccessToken)
		assert.Equal(t, "rt-a1", got.RefreshToken)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, got.ExpiresAt.Equal(base.Add(time.Hour)))
		assert.Equal(t, credential.StatusActive, got.Status)

		replaced := cred("linkedin", "a1", "u1", nil)
		replaced.AccessToken = "at-new"
		replaced.CreatedAt = base.Add(time.Hour)
		require.NoError(t, s.Upsert(ctx, replaced))

		got, err = s.Get(ctx, "linkedin", "a1")
		require.NoError(t, err)
		assert.Equal(t, "at-new", got.AccessToken)
		assert.Nil(t, got.ExpiresAt)
		assert.True(t, got.CreatedAt.Equal(base), "created_at must survive upsert")
	})

	t.Run("update token", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, cred("x", "a1", "u1", at(time.Minute))))

		err := s.UpdateToken(ctx, "x", "a1", credential.TokenUpdate{
			AccessToken:  "at-2",
			RefreshToken: "rt-2",
			ExpiresAt:    at(2 * time.Hour),
			RefreshedAt:  base.Add(time.Minute),
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, "x", "a1")
		require.NoError(t, err)
		assert.Equal(t, "at-2", got.AccessToken)
		assert.Equal(t, "rt-2", got.RefreshToken)
		assert.True(t, got.ExpiresAt.Equal(base.Add(2*time.Hour)))
		require.NotNil(t, got.LastRefreshedAt)
		assert.True(t, got.LastRefreshedAt.Equal(base.Add(time.Minute)))

		err = s.UpdateToken(ctx, "x", "missing", credential.TokenUpdate{RefreshedAt: base})
		require.ErrorIs(t, err, credential.ErrNotFound)
	})

	t.Run("set status", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, cred("x", "a1", "u1", nil)))
		require.NoError(t, s.SetStatus(ctx, "x", "a1", credential.StatusDisconnected, base))

		got, err := s.Get(ctx, "x", "a1")
		require.NoError(t, err)
		assert.Equal(t, credential.StatusDisconnected, got.Status)

		err = s.SetStatus(ctx, "x", "missing", credential.StatusDisconnected, base)
		require.ErrorIs(t, err, credential.ErrNotFound)
	})

	t.Run("listings", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, cred("x", "soon", "u1", at(2*time.Hour))))
		require.NoError(t, s.Upsert(ctx, cred("x", "sooner", "u1", at(time.Hour))))
		require.NoError(t, s.Upsert(ctx, cred("y", "later", "u2", at(48*time.Hour))))
		require.NoError(t, s.Upsert(ctx, cred("y", "forever", "u2", nil)))
		require.NoError(t, s.Upsert(ctx, cred("y", "past", "u3", at(-time.Hour))))
		gone := cred("x", "gone", "u1", at(time.Hour))
		gone.Status = credential.StatusDisconnected
		require.NoError(t, s.Upsert(ctx, gone))

		expiring, err := s.ListExpiring(ctx, base, base.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, expiring, 2)
		assert.Equal(t, "sooner", expiring[0].AccountID)
		assert.Equal(t, "soon", expiring[1].AccountID)

		owned, err := s.ListByOwner(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, owned, 3)

		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 5)
		assert.Equal(t, "u1", active[0].OwnerID)
	})
}
