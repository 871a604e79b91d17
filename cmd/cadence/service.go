package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flemzord/cadence/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceName = "cadence"

// program adapts app.Run to the service manager's Start/Stop callbacks.
type program struct {
	params app.RunParams

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan error, 1)
	done := p.done
	p.mu.Unlock()

	go func() { done <- app.Run(ctx, p.params) }()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newService(params app.RunParams) (service.Service, error) {
	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	return service.New(&program{params: params}, &service.Config{
		Name:        serviceName,
		DisplayName: "Cadence",
		Description: "OAuth credential lifecycle manager and persisted job scheduler.",
		Arguments:   args,
	})
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage cadence as a system service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(runParams(cmd))
			if err != nil {
				return err
			}
			return svc.Run()
		},
	})

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: strings.ToUpper(action[:1]) + action[1:] + " the system service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				params := runParams(cmd)
				if action == "install" {
					// The installed unit must find the config without a
					// working directory.
					_, path, err := app.LoadConfig(params.ConfigPath)
					if err != nil {
						return err
					}
					params.ConfigPath = path
				}
				svc, err := newService(params)
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				cmd.Printf("service %s: ok\n", action)
				return nil
			},
		})
	}
	return cmd
}
