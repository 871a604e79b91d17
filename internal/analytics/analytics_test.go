package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/cadence/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_Aggregate(t *testing.T) {
	t.Parallel()

	var got Trigger
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	w, err := NewWebhook(WebhookConfig{URL: srv.URL, Secret: "s3cret", RequestsPerSecond: 100})
	require.NoError(t, err)

	err = w.Aggregate(context.Background(), "u1", []credential.Credential{
		{Platform: "linkedin", AccountID: "a1"},
		{Platform: "x", AccountID: "b1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, []Account{{"linkedin", "a1"}, {"x", "b1"}}, got.Accounts)
	assert.False(t, got.At.IsZero())
}

func TestWebhook_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	w, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	err = w.Aggregate(context.Background(), "u1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNewWebhook_RequiresURL(t *testing.T) {
	t.Parallel()
	_, err := NewWebhook(WebhookConfig{})
	require.Error(t, err)
}

func TestLog_Aggregate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Log{}.Aggregate(context.Background(), "u1", nil))
}
