package toolsurface

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel"
)

const echoSchema = `{
  "type": "object",
  "properties": {"message": {"type": "string"}},
  "required": ["message"]
}`

func TestInvokeRejectsPayloadFailingSchema(t *testing.T) {
	r := New(nil, nil, nil)
	require.NoError(t, r.Register(Endpoint{
		Name:          "echo",
		PayloadSchema: []byte(echoSchema),
		Handler: func(ctx context.Context, payload json.RawMessage) (any, error) {
			return "ok", nil
		},
	}))

	env := r.Invoke(context.Background(), "echo", "alice", json.RawMessage(`{}`))
	require.False(t, env.OK)
	require.Equal(t, "invalid_payload", env.Error.Kind)
}

func TestInvokeRunsHandlerOnValidPayload(t *testing.T) {
	r := New(nil, nil, nil)
	require.NoError(t, r.Register(Endpoint{
		Name:          "echo",
		PayloadSchema: []byte(echoSchema),
		Handler: func(ctx context.Context, payload json.RawMessage) (any, error) {
			return "ok", nil
		},
	}))

	env := r.Invoke(context.Background(), "echo", "alice", json.RawMessage(`{"message":"hi"}`))
	require.True(t, env.OK)
	require.Equal(t, "ok", env.Data)
}

func TestInvokeUnknownEndpoint(t *testing.T) {
	r := New(nil, nil, nil)
	env := r.Invoke(context.Background(), "missing", "alice", json.RawMessage(`{}`))
	require.False(t, env.OK)
	require.Equal(t, "not_found", env.Error.Kind)
}

func TestTranslateErrorMapsSentinelsToKinds(t *testing.T) {
	r := New(nil, nil, nil)
	require.NoError(t, r.Register(Endpoint{
		Name: "fails",
		Handler: func(ctx context.Context, payload json.RawMessage) (any, error) {
			return nil, kernel.ErrNoPoolAvailable
		},
	}))

	env := r.Invoke(context.Background(), "fails", "alice", json.RawMessage(`{}`))
	require.False(t, env.OK)
	require.Equal(t, "no_pool_available", env.Error.Kind)
}
