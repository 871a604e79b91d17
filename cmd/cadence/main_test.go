package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flemzord/cadence/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cadence dev")
}

func TestInitThenCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadence.yaml")

	out, err := run(t, "init", "--yes", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "LINKEDIN_CLIENT_SECRET")
	assert.Contains(t, out, "CADENCE_API_TOKEN")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = run(t, "init", "--yes", "--output", path)
	require.Error(t, err, "existing file must not be overwritten")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"LINKEDIN_CLIENT_ID=id\nLINKEDIN_CLIENT_SECRET=secret-value\nCADENCE_API_TOKEN=token-value\n"), 0o600))

	out, err = run(t, "config", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration OK")
	assert.Contains(t, out, "linkedin")
	assert.Contains(t, out, "127.0.0.1:8080")
}

func TestRenderConfig_Validates(t *testing.T) {
	t.Parallel()

	cases := map[string]initAnswers{
		"defaults": defaultAnswers(),
		"postgres all platforms": {
			Driver:      config.DriverPostgres,
			PostgresDSN: "postgres://cadence@localhost/cadence?sslmode=disable",
			Platforms:   []string{"linkedin", "twitter", "facebook"},
			Bind:        "0.0.0.0:9000",
		},
		"memory no platforms": {
			Driver: config.DriverMemory,
			Bind:   "127.0.0.1:8080",
		},
	}
	for name, answers := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			raw, err := renderConfig(answers)
			require.NoError(t, err)

			cfg, err := config.Parse(raw, func(string) (string, bool) { return "value", true })
			require.NoError(t, err, string(raw))
			require.NoError(t, config.Validate(cfg), string(raw))

			assert.Equal(t, answers.Driver, cfg.Storage.Driver)
			assert.Len(t, cfg.Platforms, len(answers.Platforms))
			assert.Equal(t, answers.Bind, cfg.Gateway.Bind)
			assert.Equal(t, answers.ProtectAPI, cfg.Gateway.Auth.IsConfigured())
		})
	}
}

func TestConfigCheck_Missing(t *testing.T) {
	t.Parallel()

	_, err := run(t, "config", "check", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
