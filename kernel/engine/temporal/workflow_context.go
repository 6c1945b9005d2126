package temporal

import (
	"context"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/lesleslie/mahavishnu/kernel/engine"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
)

// workflowContext bridges Temporal's workflow.Context into engine.WorkflowContext.
type workflowContext struct {
	e          *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
	baseCtx    context.Context
}

var _ engine.WorkflowContext = (*workflowContext)(nil)

// defaultActivityTimeout applies when an activity request does not specify
// one; Temporal requires a non-zero StartToCloseTimeout.
const defaultActivityTimeout = 30 * time.Second

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{
		e:          e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		// Workflow execution is replayed; a process-local base context
		// cannot be reused across replays, so build a fresh one here.
		baseCtx: context.Background(),
	}
}

func (w *workflowContext) Context() context.Context { return w.baseCtx }
func (w *workflowContext) WorkflowID() string        { return w.workflowID }
func (w *workflowContext) RunID() string             { return w.runID }
func (w *workflowContext) Logger() telemetry.Logger   { return w.e.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.e.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.e.tracer }
func (w *workflowContext) Now() time.Time             { return workflow.Now(w.ctx) }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(nil, req)
	if err != nil {
		return err
	}
	return fut.Get(nil, result)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultActivityTimeout
	}
	actx := workflow.WithActivityOptions(w.ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         convertRetryPolicy(req.RetryPolicy),
	})
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &temporalFuture{ctx: actx, fut: fut}, nil
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &temporalSignalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

type temporalFuture struct {
	ctx workflow.Context
	fut workflow.Future
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	return normalizeTemporalError(f.fut.Get(f.ctx, result))
}

func (f *temporalFuture) IsReady() bool { return f.fut.IsReady() }

type temporalSignalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *temporalSignalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

// normalizeTemporalError translates Temporal cancellation errors to
// context.Canceled so callers can classify cancellation without depending
// on Temporal SDK error types.
func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}
