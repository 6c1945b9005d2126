// Package engine defines a pluggable durable/async execution substrate for
// supervised, multi-step operations. Implementations translate these
// generic types into backend-specific primitives: kernel/engine/inmem for
// a single-process, non-durable substrate; kernel/engine/temporal for a
// durable, replay-safe one. The Pool Manager and Worker Manager do not use
// it; no package outside kernel/engine imports it.
package engine

import (
	"context"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/telemetry"
)

// Engine abstracts workflow registration and execution so adapters
// (Temporal, in-memory) can be swapped without touching callers.
type Engine interface {
	// RegisterWorkflow registers a workflow definition. Must be called
	// before StartWorkflow references it. Errors if the name is already
	// registered.
	RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

	// RegisterActivity registers an activity definition. Errors if the
	// name is already registered.
	RegisterActivity(ctx context.Context, def ActivityDefinition) error

	// StartWorkflow initiates a new workflow execution. req.ID must be
	// unique for the engine instance.
	StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
}

// WorkflowDefinition binds a workflow handler to a logical name.
type WorkflowDefinition struct {
	Name    string
	Handler WorkflowFunc
}

// WorkflowFunc is a workflow entry point. It must be deterministic under
// replay: no direct I/O, randomness, or wall-clock reads outside
// WorkflowContext.Now.
type WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

// WorkflowContext exposes engine operations to a running workflow.
// Bound to a single execution; must not be shared across goroutines.
type WorkflowContext interface {
	Context() context.Context
	WorkflowID() string
	RunID() string

	// ExecuteActivity schedules an activity and blocks for its result.
	ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

	// ExecuteActivityAsync schedules an activity without blocking.
	ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

	// SignalChannel returns the channel for the given signal name.
	SignalChannel(name string) SignalChannel

	Logger() telemetry.Logger
	Metrics() telemetry.Metrics
	Tracer() telemetry.Tracer

	// Now returns the current time in a replay-safe manner.
	Now() time.Time
}

// Future represents a pending activity result.
type Future interface {
	// Get blocks until the activity completes. Safe to call more than
	// once; returns the same result/error each time.
	Get(ctx context.Context, result any) error

	// IsReady reports whether Get will return without blocking.
	IsReady() bool
}

// ActivityDefinition registers an activity handler.
type ActivityDefinition struct {
	Name    string
	Handler ActivityFunc
	Options ActivityOptions
}

// ActivityFunc handles an activity invocation. Unlike workflows,
// activities may perform side effects.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// ActivityOptions configures retry/timeout behavior for an activity.
type ActivityOptions struct {
	RetryPolicy RetryPolicy
	Timeout     time.Duration
}

// WorkflowStartRequest describes how to launch a workflow execution.
type WorkflowStartRequest struct {
	ID          string
	Workflow    string
	TaskQueue   string
	Input       any
	RetryPolicy RetryPolicy
}

// ActivityRequest contains the info needed to schedule an activity.
type ActivityRequest struct {
	Name        string
	Input       any
	RetryPolicy RetryPolicy
	Timeout     time.Duration
}

// WorkflowHandle allows callers to interact with a running workflow.
type WorkflowHandle interface {
	// Wait blocks until the workflow completes, populating result.
	Wait(ctx context.Context, result any) error

	// Signal sends an asynchronous message to the workflow.
	Signal(ctx context.Context, name string, payload any) error

	// Cancel requests cancellation of the workflow.
	Cancel(ctx context.Context) error
}

// RetryPolicy defines retry semantics shared by workflows and activities.
// Zero-valued fields mean the engine uses its defaults.
type RetryPolicy struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
}

// SignalChannel exposes workflow signal delivery in an engine-agnostic
// way.
type SignalChannel interface {
	// Receive blocks until a signal arrives and decodes it into dest.
	Receive(ctx context.Context, dest any) error

	// ReceiveAsync attempts a non-blocking receive.
	ReceiveAsync(dest any) bool
}
