// Package core manages the lifecycle of cadence's long-lived components.
// Each App owns its own component list, so tests can run several side by
// side.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

// ErrDuplicateComponent is returned when an ID is registered twice.
var ErrDuplicateComponent = errors.New("core: duplicate component")

// App starts components in registration order and stops them in reverse.
type App struct {
	logger *slog.Logger

	mu         sync.Mutex
	components []component
}

type component struct {
	id      string
	value   any
	started bool
}

// NewApp creates an empty App.
func NewApp(logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{logger: logger.With("component", "core")}
}

// Register adds a component. If it implements Validator, it is validated
// first and rejected on error.
func (a *App) Register(id string, c any) error {
	if v, ok := c.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validating component %s: %w", id, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.components {
		if existing.id == id {
			return fmt.Errorf("%w: %s", ErrDuplicateComponent, id)
		}
	}
	a.components = append(a.components, component{id: id, value: c})
	a.logger.Debug("core: component registered", "id", id)
	return nil
}

// Components returns registered IDs in start order.
func (a *App) Components() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, len(a.components))
	for i, c := range a.components {
		ids[i] = c.id
	}
	return ids
}

// Start starts every component that implements Starter, in order.
// If one fails, those already started are stopped in reverse order.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.components {
		c := &a.components[i]
		s, ok := c.value.(Starter)
		if !ok {
			c.started = true
			continue
		}
		a.logger.Info("core: starting component", "id", c.id)
		if err := s.Start(); err != nil {
			a.logger.Error("core: component start failed", "id", c.id, "error", err)
			a.stopFrom(i - 1)
			return fmt.Errorf("starting component %s: %w", c.id, err)
		}
		c.started = true
	}
	a.logger.Info("core: all components started", "count", len(a.components))
	return nil
}

// Stop stops all started components in reverse order, bounded by a
// shutdown timeout. Errors are logged and joined.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopFrom(len(a.components) - 1)
}

func (a *App) stopFrom(index int) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := index; i >= 0; i-- {
		c := &a.components[i]
		if !c.started {
			continue
		}
		if s, ok := c.value.(Stopper); ok {
			a.logger.Info("core: stopping component", "id", c.id)
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("core: component stop error", "id", c.id, "error", err)
				errs = append(errs, fmt.Errorf("stopping component %s: %w", c.id, err))
			}
		}
		c.started = false
	}
	return errors.Join(errs...)
}

// Health pings every component that implements Pinger. The map holds nil
// for healthy components.
func (a *App) Health(ctx context.Context) map[string]error {
	a.mu.Lock()
	var pingers []component
	for _, c := range a.components {
		if _, ok := c.value.(Pinger); ok {
			pingers = append(pingers, c)
		}
	}
	a.mu.Unlock()

	out := make(map[string]error, len(pingers))
	for _, c := range pingers {
		out[c.id] = c.value.(Pinger).Ping(ctx)
	}
	return out
}

// Run starts all components and blocks until ctx is done or a shutdown
// signal is received, then stops them.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	<-ctx.Done()
	a.logger.Info("core: shutdown requested", "cause", context.Cause(ctx))

	err := a.Stop()
	a.logger.Info("core: shutdown complete")
	return err
}
