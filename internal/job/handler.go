package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Handler executes one job. A returned error is retried up to the job's
// max attempts unless it is wrapped with Permanent.
type Handler interface {
	Execute(ctx context.Context, j Job) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j Job) (json.RawMessage, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, j Job) (json.RawMessage, error) {
	return f(ctx, j)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails on this attempt
// regardless of how many attempts remain.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Handlers is the static handler table, one field per Type.
type Handlers struct {
	Post          Handler
	Email         Handler
	TokenRefresh  Handler
	AnalyticsSync Handler
	Cleanup       Handler
}

// For returns the handler registered for t.
func (h Handlers) For(t Type) (Handler, error) {
	var hd Handler
	switch t {
	case TypePost:
		hd = h.Post
	case TypeEmail:
		hd = h.Email
	case TypeTokenRefresh:
		hd = h.TokenRefresh
	case TypeAnalyticsSync:
		hd = h.AnalyticsSync
	case TypeCleanup:
		hd = h.Cleanup
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if hd == nil {
		return nil, fmt.Errorf("%w: no handler for %q", ErrUnknownType, t)
	}
	return hd, nil
}

// Validate reports every type without a handler.
func (h Handlers) Validate() error {
	var errs []error
	for _, t := range Types {
		if _, err := h.For(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
