package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.JobScheduled("one-shot-post")
	m.JobCancelled()
	m.JobExecuted("one-shot-post", OutcomeSuccess, time.Second)
	m.SetArmedTimers(3)
	m.TokenRefreshed("x", OutcomeFailed)
	m.StateValidated(OutcomeInvalid)
	m.RecurringRun("cleanup", OutcomeSuccess)
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.JobScheduled("one-shot-post")
	m.JobScheduled("one-shot-post")
	m.JobExecuted("one-shot-post", OutcomeRetry, 10*time.Millisecond)
	m.TokenRefreshed("linkedin", OutcomeSuccess)

	assert.InDelta(t, 2, testutil.ToFloat64(m.jobsScheduled.WithLabelValues("one-shot-post")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobExecutions.WithLabelValues("one-shot-post", OutcomeRetry)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("linkedin", OutcomeSuccess)), 0)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.StateValidated(OutcomeSuccess)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "cadence_oauth_state_validations_total"))
}
