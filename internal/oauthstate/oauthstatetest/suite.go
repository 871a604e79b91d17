// Package oauthstatetest holds a conformance suite that every
// oauthstate.Store implementation runs against itself.
package oauthstatetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreSuite exercises store semantics. newStore must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) oauthstate.Store) {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := func(token string) oauthstate.Record {
		return oauthstate.Record{
			Token:       token,
			UserID:      "u1",
			Platform:    "linkedin",
			RedirectURI: "https://app.example/cb",
			Metadata:    map[string]string{"tenant": "t1"},
			CreatedAt:   base,
			ExpiresAt:   base.Add(10 * time.Minute),
		}
	}

	t.Run("consume once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, record("tok-1")))

		claim := oauthstate.Claim{Token: "tok-1", Platform: "linkedin", Now: base.Add(time.Minute)}
		got, err := s.Consume(ctx, claim)
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "https://app.example/cb", got.RedirectURI)
		assert.Equal(t, "t1", got.Metadata["tenant"])

		_, err = s.Consume(ctx, claim)
		require.ErrorIs(t, err, oauthstate.ErrConsumed)
	})

	t.Run("unknown token", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Consume(context.Background(), oauthstate.Claim{Token: "nope", Platform: "linkedin", Now: base})
		require.ErrorIs(t, err, oauthstate.ErrNoMatch)
	})

	t.Run("mismatch does not consume", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, record("tok-2")))

		_, err := s.Consume(ctx, oauthstate.Claim{Token: "tok-2", Platform: "twitter", Now: base})
		require.ErrorIs(t, err, oauthstate.ErrNoMatch)

		_, err = s.Consume(ctx, oauthstate.Claim{Token: "tok-2", Platform: "linkedin", UserID: "u2", Now: base})
		require.ErrorIs(t, err, oauthstate.ErrNoMatch)

		_, err = s.Consume(ctx, oauthstate.Claim{Token: "tok-2", Platform: "linkedin", UserID: "u1", Now: base})
		require.NoError(t, err)
	})

	t.Run("expiry boundary", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := record("tok-3")
		require.NoError(t, s.Put(ctx, rec))
		require.NoError(t, s.Put(ctx, record("tok-4")))

		_, err := s.Consume(ctx, oauthstate.Claim{Token: "tok-3", Platform: "linkedin", Now: rec.ExpiresAt.Add(time.Millisecond)})
		require.ErrorIs(t, err, oauthstate.ErrNoMatch)

		_, err = s.Consume(ctx, oauthstate.Claim{Token: "tok-4", Platform: "linkedin", Now: rec.ExpiresAt.Add(-time.Millisecond)})
		require.NoError(t, err)
	})

	t.Run("concurrent consume", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, record("tok-5")))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Consume(ctx, oauthstate.Claim{Token: "tok-5", Platform: "linkedin", Now: base}); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := record("old-unused")
		old.ExpiresAt = base.Add(-time.Hour)
		usedOld := record("old-used")
		usedOld.ExpiresAt = base.Add(-time.Minute)
		require.NoError(t, s.Put(ctx, old))
		require.NoError(t, s.Put(ctx, usedOld))
		require.NoError(t, s.Put(ctx, record("fresh")))

		_, err := s.Consume(ctx, oauthstate.Claim{Token: "old-used", Platform: "linkedin", Now: base.Add(-2 * time.Minute)})
		require.NoError(t, err)

		n, err := s.DeleteExpired(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.Consume(ctx, oauthstate.Claim{Token: "fresh", Platform: "linkedin", Now: base})
		require.NoError(t, err)
	})
}
