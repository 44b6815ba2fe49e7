package retry_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *retry.Executor {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return retry.NewExecutor(nil, logger, nil)
}

func fastPolicy(maxRetries int) retry.Policy {
	return retry.Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Jitter:       true,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := retry.Do(context.Background(), newTestExecutor(), fastPolicy(3), "test",
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &retry.StatusError{Provider: "voice", StatusCode: 503}
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableInvokesOnce(t *testing.T) {
	calls := 0
	authErr := &retry.StatusError{Provider: "sms", StatusCode: 401}
	_, err := retry.Do(context.Background(), newTestExecutor(), fastPolicy(3), "test",
		func(context.Context) (int, error) {
			calls++
			return 0, authErr
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, authErr)
}

func TestDo_TerminalWrapperInvokesOnce(t *testing.T) {
	calls := 0
	err := retry.Run(context.Background(), newTestExecutor(), fastPolicy(5), "test",
		func(context.Context) error {
			calls++
			return retry.Terminal(errors.New("card declined"))
		})

	assert.ErrorIs(t, err, retry.ErrTerminal)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	cause := &retry.StatusError{Provider: "voice", StatusCode: 500}
	err := retry.Run(context.Background(), newTestExecutor(), fastPolicy(2), "call",
		func(context.Context) error {
			calls++
			return cause
		})

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)

	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.StatusCode)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxRetries: 5, InitialDelay: time.Hour, Multiplier: 1}

	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- retry.Run(ctx, newTestExecutor(), p, "slow", func(context.Context) error {
			calls++
			return io.ErrUnexpectedEOF
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop on cancellation")
	}
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	p := fastPolicy(1)
	p.AttemptTimeout = 5 * time.Millisecond

	calls := 0
	err := retry.Run(context.Background(), newTestExecutor(), p, "hang", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPolicy_Backoff(t *testing.T) {
	p := retry.Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(0, nil))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1, nil))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3, nil))
	assert.Equal(t, time.Second, p.Backoff(10, nil))

	p.Jitter = true
	assert.Equal(t, 50*time.Millisecond, p.Backoff(0, func() float64 { return 0 }))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0, func() float64 { return 0.5 }))
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"5xx", &retry.StatusError{StatusCode: 502}, true},
		{"429", &retry.StatusError{StatusCode: 429}, true},
		{"408", &retry.StatusError{StatusCode: 408}, true},
		{"400", &retry.StatusError{StatusCode: 400}, false},
		{"401", &retry.StatusError{StatusCode: 401}, false},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("no route")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"terminal", retry.Terminal(&retry.StatusError{StatusCode: 503}), false},
		{"plain", errors.New("validation failed"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retry.DefaultRetryable(tt.err))
		})
	}
}

func TestPresets_ProviderCodes(t *testing.T) {
	voice := retry.VoicePolicy()
	assert.True(t, voice.Retryable(&retry.StatusError{StatusCode: 400, ProviderCode: "carrier_unavailable"}))
	assert.False(t, voice.Retryable(&retry.StatusError{StatusCode: 503, ProviderCode: "invalid_number"}))

	push := retry.PushPolicy()
	assert.False(t, push.Retryable(&retry.StatusError{StatusCode: 400, ProviderCode: "invalid_token"}))
	assert.True(t, push.Retryable(&retry.StatusError{StatusCode: 500}))
}

func TestIdempotencyKey(t *testing.T) {
	now := time.UnixMilli(1720000000000)
	k1 := retry.IdempotencyKey("call", now)
	k2 := retry.IdempotencyKey("call", now)

	assert.True(t, strings.HasPrefix(k1, "call_1720000000000_"))
	assert.NotEqual(t, k1, k2)
	assert.Len(t, strings.Split(k1, "_"), 3)
}
