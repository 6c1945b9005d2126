// Package kernel holds the error taxonomy shared across the orchestration
// kernel's sub-packages (worker, pool, router, bus, ratelimit, breaker,
// aggregator). Concrete components return these sentinel/typed errors so
// callers can branch with errors.Is/errors.As instead of string matching.
package kernel

import (
	"errors"
	"fmt"
	"time"
)

// SpawnErrorKind distinguishes recoverable spawn failures from permanent ones.
type SpawnErrorKind string

const (
	SpawnTransient SpawnErrorKind = "transient"
	SpawnPermanent SpawnErrorKind = "permanent"
)

// SpawnError is returned by worker.Manager.Spawn when the underlying
// launcher refuses to start a worker.
type SpawnError struct {
	Kind SpawnErrorKind
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn error (%s): %v", e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

var (
	// ErrBusy is returned by worker.Manager.Execute when the worker already
	// holds a task.
	ErrBusy = errors.New("worker busy")

	// ErrNoPoolAvailable is returned by router.Route when no healthy pool
	// satisfies the request.
	ErrNoPoolAvailable = errors.New("no pool available")

	// ErrUnknownWorker is returned when a worker_id does not name a
	// worker directly tracked by the caller (e.g. the Server's standalone
	// worker registry).
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrCircuitOpen is the sentinel wrapped by CircuitOpen; match against
	// it with errors.Is regardless of the attached retry hint.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrUnauthenticated is returned by bus operations when signature
	// verification fails.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidTransition is returned by bus.Bus.Acknowledge for a status
	// transition not permitted by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownRepo is returned by bus operations referencing an
	// unregistered repository endpoint.
	ErrUnknownRepo = errors.New("unknown repo")

	// ErrStreamParse names a worker output stream that failed to parse. No
	// kernel code path returns it: the subprocess-ai worker reports a parse
	// failure as a synthetic completion(failed) frame and a failed Result.
	ErrStreamParse = errors.New("stream parse error")
)

// Overloaded is returned when a bounded queue (pool intra-pool queue,
// rate limiter) is at capacity. RetryAfter is a hint, not a guarantee.
type Overloaded struct {
	RetryAfter time.Duration
}

func (e *Overloaded) Error() string { return fmt.Sprintf("overloaded, retry after %s", e.RetryAfter) }

// RateLimited is returned by ratelimit.Limiter.Allow when a request is
// denied by either the sliding window or the token bucket.
type RateLimited struct {
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// CircuitOpen is returned by breaker.Breaker.Do while the breaker is open.
// RetryAfter is cooldown - elapsed. It unwraps to ErrCircuitOpen so callers
// can match with errors.Is(err, kernel.ErrCircuitOpen).
type CircuitOpen struct {
	RetryAfter time.Duration
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter)
}

func (e *CircuitOpen) Unwrap() error { return ErrCircuitOpen }

// StoreUnavailable wraps a backing-store failure (message bus, per-pool
// memory) after local retries have been exhausted.
type StoreUnavailable struct {
	Err error
}

func (e *StoreUnavailable) Error() string { return fmt.Sprintf("store unavailable: %v", e.Err) }

func (e *StoreUnavailable) Unwrap() error { return e.Err }
