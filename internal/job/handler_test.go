package job_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/job/jobtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersFor(t *testing.T) {
	t.Parallel()

	rec := &jobtest.Recorder{}
	full := jobtest.AllTypes(rec)
	require.NoError(t, full.Validate())
	for _, typ := range job.Types {
		h, err := full.For(typ)
		require.NoError(t, err, typ)
		assert.Same(t, rec, h)
	}

	_, err := full.For("one-shot-fax")
	require.ErrorIs(t, err, job.ErrUnknownType)

	partial := job.Handlers{Post: rec}
	err = partial.Validate()
	require.ErrorIs(t, err, job.ErrUnknownType)
	assert.Contains(t, err.Error(), string(job.TypeCleanup))
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	base := errors.New("account disconnected")
	wrapped := fmt.Errorf("post: %w", job.Permanent(base))

	assert.True(t, job.IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, job.IsPermanent(base))
	assert.NoError(t, job.Permanent(nil))
}

func TestParse(t *testing.T) {
	t.Parallel()

	typ, err := job.ParseType("recurring-cleanup")
	require.NoError(t, err)
	assert.Equal(t, job.TypeCleanup, typ)
	_, err = job.ParseType("nope")
	require.ErrorIs(t, err, job.ErrUnknownType)

	st, err := job.ParseStatus("processing")
	require.NoError(t, err)
	assert.False(t, st.Terminal())
	_, err = job.ParseStatus("done")
	require.Error(t, err)

	for _, s := range []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCancelled} {
		assert.True(t, s.Terminal(), s)
	}
}
