package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/lesleslie/mahavishnu/kernel/engine"
)

func TestConvertRetryPolicyZeroValueIsNil(t *testing.T) {
	require.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
}

func TestConvertRetryPolicyAppliesFields(t *testing.T) {
	got := convertRetryPolicy(engine.RetryPolicy{
		MaxAttempts:        5,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
	})
	require.NotNil(t, got)
	require.Equal(t, int32(5), got.MaximumAttempts)
	require.Equal(t, time.Second, got.InitialInterval)
	require.Equal(t, 2.0, got.BackoffCoefficient)
}

func TestNormalizeTemporalErrorPassesThroughUnknown(t *testing.T) {
	want := errors.New("transport unavailable")
	require.ErrorIs(t, normalizeTemporalError(want), want)
}

func TestNormalizeTemporalErrorNil(t *testing.T) {
	require.NoError(t, normalizeTemporalError(nil))
}

func TestNormalizeTemporalErrorCanceled(t *testing.T) {
	err := sdktemporal.NewCanceledError()
	require.ErrorIs(t, normalizeTemporalError(err), context.Canceled)
}
