package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/cadence/internal/config"
	"github.com/flemzord/cadence/internal/mcpserver"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.Resolve searches the standard locations.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// LogLevel, when set, overrides the config's log_level.
	LogLevel string
}

// LoadConfig resolves, loads and validates the configuration.
func LoadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.Resolve(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, path, nil
}

// Run loads configuration, starts every component, and blocks until ctx
// is cancelled or a shutdown signal is received.
func Run(ctx context.Context, params RunParams) error {
	cfg, path, err := LoadConfig(params.ConfigPath)
	if err != nil {
		return err
	}
	if params.LogLevel != "" {
		cfg.LogLevel = params.LogLevel
	}

	a, err := Build(ctx, cfg, Options{Version: params.Version})
	if err != nil {
		return err
	}
	a.Logger.Info("cadence starting",
		"version", params.Version,
		"commit", params.Commit,
		"config", path,
		"storage", cfg.Storage.Driver,
		"platforms", a.Connectors.Platforms(),
		"components", a.Core.Components(),
	)
	return a.Core.Run(ctx)
}

// ServeMCP starts the storage and the job scheduler, then serves the MCP
// tools on stdio until the client disconnects. The HTTP gateway is not
// started. Logs go to stderr so stdout stays a clean protocol stream.
func ServeMCP(ctx context.Context, params RunParams) error {
	cfg, _, err := LoadConfig(params.ConfigPath)
	if err != nil {
		return err
	}
	if params.LogLevel != "" {
		cfg.LogLevel = params.LogLevel
	}

	a, err := Build(ctx, cfg, Options{Version: params.Version, WithoutGateway: true})
	if err != nil {
		return err
	}
	if err := a.Core.Start(); err != nil {
		return err
	}
	defer func() {
		if err := a.Core.Stop(); err != nil {
			a.Logger.Error("mcp: shutdown", "error", err)
		}
	}()

	srv := mcpserver.New(a.Scheduler, a.Coordinator, mcpserver.Options{
		Version: params.Version,
		Payload: cfg.Scheduler.Payload,
		Logger:  a.Logger.With(slog.String("component", "mcp")),
	})
	a.Logger.Info("mcp: serving on stdio")
	return srv.ServeStdio()
}
