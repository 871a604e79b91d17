package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/config"
	"github.com/flemzord/cadence/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, raw string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(raw), func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	cfg.DataDir = t.TempDir()
	cfg.Storage.SQLite.Path = filepath.Join(cfg.DataDir, "cadence.db")
	require.NoError(t, config.Validate(cfg))
	return cfg
}

const baseYAML = `
version: "1"
storage:
  driver: %s
platforms:
  linkedin:
    client_id: li-client
    client_secret: li-super-secret-value
    auth_url: https://www.linkedin.com/oauth/v2/authorization
    token_url: https://www.linkedin.com/oauth/v2/accessToken
gateway:
  bind: 127.0.0.1:0
`

func TestBuild_WiresComponents(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, strings.Replace(baseYAML, "%s", driver, 1))

			var logs bytes.Buffer
			a, err := Build(context.Background(), cfg, Options{Version: "test", LogOutput: &logs})
			require.NoError(t, err)

			want := []string{"telemetry", "audit", "scheduler", "cron", "gateway"}
			if driver == "sqlite" {
				want = []string{"telemetry", "store", "audit", "scheduler", "cron", "gateway"}
			}
			assert.Equal(t, want, a.Core.Components())
			assert.Equal(t, []string{"analytics_sync", "cleanup", "token_refresh"}, a.Cron.Jobs())
			assert.Equal(t, []string{"linkedin"}, a.Connectors.Platforms())

			require.NoError(t, a.Core.Start())
			t.Cleanup(func() { _ = a.Core.Stop() })

			// Scheduling through the gateway reaches the store.
			body, _ := json.Marshal(map[string]any{
				"job_type":  "one-shot-post",
				"owner_id":  "u1",
				"payload":   map[string]string{"platform": "linkedin", "account_id": "a1"},
				"fire_time": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
			rr := httptest.NewRecorder()
			a.Gateway.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body)))
			require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

			jobs, err := a.Scheduler.List(context.Background(), job.Filter{OwnerID: "u1"})
			require.NoError(t, err)
			assert.Len(t, jobs, 1)
			assert.Equal(t, 1, a.Scheduler.Armed())

			rr = httptest.NewRecorder()
			a.Gateway.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			assert.Contains(t, rr.Body.String(), "cadence_jobs_scheduled_total")

			a.Logger.Info("probe", "detail", "li-super-secret-value")
			assert.NotContains(t, logs.String(), "li-super-secret-value")

			_, err = os.Stat(filepath.Join(cfg.DataDir, "audit.jsonl"))
			assert.NoError(t, err)
		})
	}
}

func TestBuild_WithoutGateway(t *testing.T) {
	cfg := testConfig(t, strings.Replace(baseYAML, "%s", "memory", 1))

	a, err := Build(context.Background(), cfg, Options{WithoutGateway: true, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Nil(t, a.Gateway)
	assert.NotContains(t, a.Core.Components(), "gateway")
}

func TestBuild_RejectsBadPlatform(t *testing.T) {
	cfg := testConfig(t, strings.Replace(baseYAML, "%s", "memory", 1))
	cfg.Platforms["broken"] = config.PlatformConfig{ClientID: "x"}

	_, err := Build(context.Background(), cfg, Options{LogOutput: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": "INFO", "debug": "DEBUG", "warn": "WARN", "ERROR": "ERROR"} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, lvl.String())
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
