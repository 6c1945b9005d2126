package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel/engine"
)

func TestStartWorkflowRunsActivityAndCompletes(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "double",
		Handler: func(ctx context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "double-workflow",
		Handler: func(wctx engine.WorkflowContext, input any) (any, error) {
			var out int
			if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{Name: "double", Input: input}, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-1", Workflow: "double-workflow", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, h.Wait(ctx, &result))
	require.Equal(t, 42, result)
}

func TestSignalDeliveredToWorkflow(t *testing.T) {
	e := New()
	ctx := context.Background()

	received := make(chan string, 1)
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "signal-workflow",
		Handler: func(wctx engine.WorkflowContext, input any) (any, error) {
			var sig string
			if err := wctx.SignalChannel("go").Receive(wctx.Context(), &sig); err != nil {
				return nil, err
			}
			received <- sig
			return nil, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-2", Workflow: "signal-workflow"})
	require.NoError(t, err)
	require.NoError(t, h.Signal(ctx, "go", "proceed"))

	require.Equal(t, "proceed", <-received)
	require.NoError(t, h.Wait(ctx, nil))
}
