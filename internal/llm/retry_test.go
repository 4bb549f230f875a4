package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
)

// flakyGateway fails the first failures calls with err, then succeeds.
type flakyGateway struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyGateway) Complete(ctx context.Context, req Request) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

func recordSleeps(waits *[]time.Duration) RetryOption {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	})
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(10))
}

func TestRetryPolicy_ApplyDefaults(t *testing.T) {
	var p RetryPolicy
	p.ApplyDefaults()
	assert.Equal(t, DefaultRetryPolicy(), p)
}

func TestRetryingGateway_Complete(t *testing.T) {
	transient := &TransientError{Provider: "fake", StatusCode: 503, Err: errors.New("unavailable")}

	tests := []struct {
		name        string
		failures    int32
		err         error
		maxAttempts int
		wantText    string
		wantCalls   int32
		wantWaits   int
		wantErrIs   error
		wantErr     bool
	}{
		{
			name:        "succeeds first try",
			maxAttempts: 3,
			wantText:    "ok",
			wantCalls:   1,
		},
		{
			name:        "fails twice then succeeds",
			failures:    2,
			err:         transient,
			maxAttempts: 3,
			wantText:    "ok",
			wantCalls:   3,
			wantWaits:   2,
		},
		{
			name:        "exhausts attempts",
			failures:    10,
			err:         transient,
			maxAttempts: 3,
			wantCalls:   3,
			wantWaits:   2,
			wantErrIs:   ErrRetriesExhausted,
			wantErr:     true,
		},
		{
			name:        "non transient error is not retried",
			failures:    10,
			err:         errors.New("invalid request: model not found"),
			maxAttempts: 3,
			wantCalls:   1,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &flakyGateway{failures: tt.failures, err: tt.err}
			var waits []time.Duration
			gw := WithRetry(fake, "fake", RetryPolicy{
				MaxAttempts:    tt.maxAttempts,
				InitialBackoff: 10 * time.Millisecond,
				MaxBackoff:     50 * time.Millisecond,
				Multiplier:     2,
			}, recordSleeps(&waits))

			text, err := gw.Complete(context.Background(), Request{Tag: "test"})

			assert.Equal(t, tt.wantCalls, fake.calls.Load())
			assert.Len(t, waits, tt.wantWaits)
			if tt.wantErr {
				require.Error(t, err)
				if tt.wantErrIs != nil {
					assert.ErrorIs(t, err, tt.wantErrIs)
					assert.True(t, IsTransient(err))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestRetryingGateway_BackoffSchedule(t *testing.T) {
	fake := &flakyGateway{failures: 3, err: &TransientError{Provider: "fake", Err: errors.New("reset")}}
	var waits []time.Duration
	gw := WithRetry(fake, "fake", RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     25 * time.Millisecond,
		Multiplier:     2,
	}, recordSleeps(&waits))

	_, err := gw.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, waits)
}

func TestRetryingGateway_ContextCancelledDuringWait(t *testing.T) {
	fake := &flakyGateway{failures: 5, err: &TransientError{Provider: "fake", Err: errors.New("timeout")}}
	ctx, cancel := context.WithCancel(context.Background())

	gw := WithRetry(fake, "fake", RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 1},
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepCtx(ctx, d)
		}))

	_, err := gw.Complete(ctx, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestRetryingGateway_LogsRetries(t *testing.T) {
	logger := logging.NewTestLogger()
	fake := &flakyGateway{failures: 1, err: &TransientError{Provider: "fake", Err: errors.New("busy")}}
	gw := WithRetry(fake, "fake", RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
		WithRetryLogger(logger.Logger), WithSleep(func(context.Context, time.Duration) error { return nil }))

	_, err := gw.Complete(context.Background(), Request{Tag: "architect"})
	require.NoError(t, err)
	logger.AssertLogged(t, zapcore.WarnLevel, "retrying")
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	assert.True(t, IsTransient(classify(ctx, "p", context.DeadlineExceeded)))
	assert.False(t, IsTransient(classify(ctx, "p", errors.New("bad request"))))
	assert.True(t, IsTransient(classify(ctx, "p", errors.New("API returned unexpected status code: 503"))))
	assert.Nil(t, classify(ctx, "p", nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, IsTransient(classify(cancelled, "p", context.Canceled)))
}
