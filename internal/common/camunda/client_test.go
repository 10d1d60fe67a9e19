package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heart-risk-service/internal/common/errors"
)

var fastRetry = &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestWithRetry_RecoversFromTransientError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry, "complete-job", func(context.Context) error {
		calls++
		if calls == 1 {
			return stderrors.New("rpc error: code = Unavailable desc = connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry, "complete-job", func(context.Context) error {
		calls++
		return stderrors.New("rpc error: code = NotFound desc = job not found")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.HasCode(err, errors.ErrCodeWorkflowEngine))
	assert.False(t, errors.AsStandardError(err).Retryable)
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry, "complete-job", func(context.Context) error {
		calls++
		return stderrors.New("context deadline exceeded")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	stdErr := errors.AsStandardError(err)
	assert.Equal(t, errors.ErrCodeWorkflowEngine, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.Contains(t, stdErr.Details, "after 2 retries")
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := &RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Second}

	err := WithRetry(ctx, slow, "complete-job", func(context.Context) error {
		cancel()
		return stderrors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
