package jobtest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreSuite exercises store semantics. newStore must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) job.Store) {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id, owner string, typ job.Type, fire time.Duration) job.Job {
		return job.Job{
			ID:          id,
			Type:        typ,
			OwnerID:     owner,
			Payload:     json.RawMessage(`{"msg":"hi"}`),
			FireTime:    base.Add(fire),
			Status:      job.StatusPending,
			MaxAttempts: 3,
			CreatedAt:   base,
		}
	}
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)))

		got, err := s.Get(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, job.TypePost, got.Type)
		assert.Equal(t, "u1", got.OwnerID)
		assert.JSONEq(t, `{"msg":"hi"}`, string(got.Payload))
		assert.True(t, got.FireTime.Equal(base.Add(time.Minute)))
		assert.Equal(t, job.StatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
		assert.Equal(t, 3, got.MaxAttempts)
		assert.Empty(t, got.LastError)
		assert.Nil(t, got.CompletedAt)

		require.Error(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)), "duplicate id")
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("list filters and order", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("late", "u1", job.TypePost, 3*time.Minute)))
		require.NoError(t, s.Create(ctx, mk("early", "u1", job.TypeEmail, time.Minute)))
		require.NoError(t, s.Create(ctx, mk("other", "u2", job.TypePost, 2*time.Minute)))
		_, err := s.Cancel(ctx, "late", base)
		require.NoError(t, err)

		all, err := s.List(ctx, job.Filter{OwnerID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "late"}, ids(all))

		pending, err := s.List(ctx, job.Filter{Status: job.StatusPending})
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "other"}, ids(pending))

		posts, err := s.List(ctx, job.Filter{OwnerID: "u1", Type: job.TypePost})
		require.NoError(t, err)
		assert.Equal(t, []string{"late"}, ids(posts))

		none, err := s.List(ctx, job.Filter{OwnerID: "u3"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("claim", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)))

		got, err := s.Claim(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, got.Status)
		assert.Equal(t, 1, got.Attempts)

		_, err = s.Claim(ctx, "j1")
		require.ErrorIs(t, err, job.ErrConflict)

		_, err = s.Claim(ctx, "nope")
		require.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("concurrent claim has one winner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Claim(ctx, "j1"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("cancel", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)))

		got, err := s.Cancel(ctx, "j1", base.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, job.StatusCancelled, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(base.Add(time.Second)))

		_, err = s.Cancel(ctx, "j1", base)
		require.ErrorIs(t, err, job.ErrNotFoundOrTerminal)
		_, err = s.Cancel(ctx, "nope", base)
		require.ErrorIs(t, err, job.ErrNotFoundOrTerminal)
	})

	t.Run("cancel processing is rejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)))
		_, err := s.Claim(ctx, "j1")
		require.NoError(t, err)

		_, err = s.Cancel(ctx, "j1", base)
		require.ErrorIs(t, err, job.ErrNotFoundOrTerminal)

		got, err := s.Get(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, got.Status)
	})

	t.Run("complete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)))

		_, err := s.Complete(ctx, "j1", nil, base)
		require.ErrorIs(t, err, job.ErrConflict, "pending jobs cannot complete")

		_, err = s.Claim(ctx, "j1")
		require.NoError(t, err)
		got, err := s.Complete(ctx, "j1", json.RawMessage(`{"platform_post_id":"p1"}`), base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)

		stored, err := s.Get(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, stored.Status)
		assert.JSONEq(t, `{"platform_post_id":"p1"}`, string(stored.Result))
		require.NotNil(t, stored.CompletedAt)
		assert.True(t, stored.CompletedAt.Equal(base.Add(time.Minute)))
	})

	t.Run("retry and fail", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, mk("j1", "u1", job.TypePost, time.Minute)))
		_, err := s.Claim(ctx, "j1")
		require.NoError(t, err)

		got, err := s.Retry(ctx, "j1", base.Add(2*time.Minute), "timeout")
		require.NoError(t, err)
		assert.Equal(t, job.StatusPending, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, "timeout", got.LastError)
		assert.True(t, got.FireTime.Equal(base.Add(2*time.Minute)))

		_, err = s.Fail(ctx, "j1", "x", base)
		require.ErrorIs(t, err, job.ErrConflict, "pending jobs cannot fail")

		_, err = s.Claim(ctx, "j1")
		require.NoError(t, err)
		got, err = s.Fail(ctx, "j1", "gave up", base.Add(3*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, got.Status)
		assert.Equal(t, 2, got.Attempts)

		stored, err := s.Get(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, "gave up", stored.LastError)
		require.NotNil(t, stored.CompletedAt)
	})

	t.Run("delete terminal before", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"old-done", "old-cancelled", "new-done", "still-pending"} {
			require.NoError(t, s.Create(ctx, mk(id, "u1", job.TypePost, time.Minute)))
		}
		_, err := s.Claim(ctx, "old-done")
		require.NoError(t, err)
		_, err = s.Complete(ctx, "old-done", nil, base.Add(-40*24*time.Hour))
		require.NoError(t, err)
		_, err = s.Cancel(ctx, "old-cancelled", base.Add(-31*24*time.Hour))
		require.NoError(t, err)
		_, err = s.Claim(ctx, "new-done")
		require.NoError(t, err)
		_, err = s.Complete(ctx, "new-done", nil, base.Add(-time.Hour))
		require.NoError(t, err)

		n, err := s.DeleteTerminalBefore(ctx, base.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := s.List(ctx, job.Filter{OwnerID: "u1"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"new-done", "still-pending"}, ids(left))
	})
}

func ids(jobs []job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
