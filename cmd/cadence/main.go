// Package main is the entry point for the cadence CLI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/flemzord/cadence/pkg/app"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := rootCmd()
	root.SetOut(os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cadence",
		Short:         "OAuth credential lifecycle and persisted job scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("log-level", "", "Override the configured log level")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), initCmd(), mcpCmd(), serviceCmd())
	return root
}

func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	return app.RunParams{
		ConfigPath: cfgPath,
		Version:    version,
		Commit:     commit,
		Date:       date,
		LogLevel:   level,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("cadence %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler, the recurring jobs and the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), runParams(cmd))
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the job and token tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.ServeMCP(ctx, runParams(cmd))
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				explicit = args[0]
			}
			cfg, path, err := app.LoadConfig(explicit)
			if err != nil {
				return err
			}

			cmd.Printf("Configuration OK: %s\n", path)
			cmd.Printf("  storage:     %s\n", cfg.Storage.Driver)
			cmd.Printf("  state store: %s\n", cfg.OAuth.StateStore)
			if cfg.Gateway.IsEnabled() {
				cmd.Printf("  gateway:     %s\n", cfg.Gateway.Bind)
			} else {
				cmd.Println("  gateway:     disabled")
			}
			names := make([]string, 0, len(cfg.Platforms))
			for name := range cfg.Platforms {
				names = append(names, name)
			}
			slices.Sort(names)
			cmd.Printf("  platforms:   %d\n", len(names))
			for _, name := range names {
				cmd.Printf("    %s\n", name)
			}
			return nil
		},
	})
	return cmd
}
