// Package toolsurface registers the named, strongly-typed RPC endpoints
// through which external callers reach the orchestration kernel: pool
// and worker lifecycle operations, message bus operations, and the
// aggregator's memory_search. Every endpoint is validated against its
// declared JSON Schema before the handler runs, rate-limited, and wrapped
// in a uniform result envelope.
package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/ratelimit"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
)

// Handler executes one endpoint's validated payload and returns the raw
// result to be wrapped in an Envelope.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Endpoint is one registrable RPC surface: a name, its payload schema, and
// the handler that implements it.
type Endpoint struct {
	Name          string
	PayloadSchema []byte // JSON Schema document; nil skips validation
	Handler       Handler
}

// Registrar maps endpoint names to compiled validators and handlers, and
// dispatches Invoke calls through the rate limiter before the handler.
type Registrar struct {
	limiter   *ratelimit.Limiter
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	endpoints map[string]registered
}

type registered struct {
	schema  *jsonschema.Schema
	handler Handler
}

// New constructs a Registrar. limiter may be nil, in which case every
// call is admitted unconditionally.
func New(limiter *ratelimit.Limiter, logger telemetry.Logger, metrics telemetry.Metrics) *Registrar {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Registrar{limiter: limiter, logger: logger, metrics: metrics, endpoints: make(map[string]registered)}
}

// Register compiles e's payload schema (if any) and adds it to the
// surface. Registering the same name twice replaces the prior endpoint.
func (r *Registrar) Register(e Endpoint) error {
	reg := registered{handler: e.Handler}
	if len(e.PayloadSchema) > 0 {
		var doc any
		if err := json.Unmarshal(e.PayloadSchema, &doc); err != nil {
			return fmt.Errorf("toolsurface: unmarshal schema for %q: %w", e.Name, err)
		}
		c := jsonschema.NewCompiler()
		resourceID := e.Name + ".schema.json"
		if err := c.AddResource(resourceID, doc); err != nil {
			return fmt.Errorf("toolsurface: add schema resource for %q: %w", e.Name, err)
		}
		schema, err := c.Compile(resourceID)
		if err != nil {
			return fmt.Errorf("toolsurface: compile schema for %q: %w", e.Name, err)
		}
		reg.schema = schema
	}
	r.endpoints[e.Name] = reg
	return nil
}

// Envelope is the uniform result shape returned by Invoke.
type Envelope struct {
	OK    bool        `json:"ok"`
	Data  any         `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries enough structure for a caller to branch without
// string-matching the message.
type ErrorInfo struct {
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"` // seconds
}

// Invoke validates payload against the endpoint's declared schema (if
// any), applies the rate limiter keyed by (subject, name), and runs the
// handler, translating any error into the envelope's error shape.
func (r *Registrar) Invoke(ctx context.Context, name, subject string, payload json.RawMessage) Envelope {
	ep, ok := r.endpoints[name]
	if !ok {
		return errorEnvelope("not_found", fmt.Sprintf("unknown endpoint %q", name), 0)
	}

	if ep.schema != nil {
		var doc any
		if err := json.Unmarshal(payload, &doc); err != nil {
			return errorEnvelope("invalid_payload", err.Error(), 0)
		}
		if err := ep.schema.Validate(doc); err != nil {
			return errorEnvelope("invalid_payload", err.Error(), 0)
		}
	}

	if r.limiter != nil {
		if err := r.limiter.Allow(ratelimit.Key{Subject: subject, ToolName: name}, time.Now()); err != nil {
			return translateError(err)
		}
	}

	data, err := ep.handler(ctx, payload)
	if err != nil {
		return translateError(err)
	}
	return Envelope{OK: true, Data: data}
}

func translateError(err error) Envelope {
	switch e := err.(type) {
	case *kernel.RateLimited:
		return errorEnvelope("rate_limited", err.Error(), e.RetryAfter.Seconds())
	case *kernel.CircuitOpen:
		return errorEnvelope("circuit_open", err.Error(), e.RetryAfter.Seconds())
	case *kernel.Overloaded:
		return errorEnvelope("overloaded", err.Error(), e.RetryAfter.Seconds())
	case *kernel.StoreUnavailable:
		return errorEnvelope("store_unavailable", err.Error(), 0)
	case *kernel.SpawnError:
		return errorEnvelope("spawn_error", err.Error(), 0)
	}
	switch {
	case err == kernel.ErrUnauthenticated:
		return errorEnvelope("unauthenticated", err.Error(), 0)
	case err == kernel.ErrInvalidTransition:
		return errorEnvelope("invalid_transition", err.Error(), 0)
	case err == kernel.ErrUnknownRepo:
		return errorEnvelope("unknown_repo", err.Error(), 0)
	case err == kernel.ErrNoPoolAvailable:
		return errorEnvelope("no_pool_available", err.Error(), 0)
	case err == kernel.ErrBusy:
		return errorEnvelope("busy", err.Error(), 0)
	default:
		return errorEnvelope("internal", err.Error(), 0)
	}
}

func errorEnvelope(kind, message string, retryAfter float64) Envelope {
	return Envelope{OK: false, Error: &ErrorInfo{Kind: kind, Message: message, RetryAfter: retryAfter}}
}
