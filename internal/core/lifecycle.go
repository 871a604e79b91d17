package core

import "context"

// Validator is implemented by components that can verify their own
// configuration. Called by Register. Validate should be read-only.
type Validator interface {
	Validate() error
}

// Starter is implemented by components that start background work
// (goroutines, listeners, timers). Called in registration order.
type Starter interface {
	Start() error
}

// Stopper is implemented by components that release resources. Called
// during shutdown in reverse order of Start.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Pinger is implemented by components backed by an external dependency,
// such as a database or Redis. App.Health reports their status.
type Pinger interface {
	Ping(ctx context.Context) error
}
