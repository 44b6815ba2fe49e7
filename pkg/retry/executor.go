package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/metrics"
)

// Policy configures exponential backoff for one kind of external call.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter randomises each delay by ±50%.
	Jitter bool
	// AttemptTimeout bounds a single attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
	// Retryable decides eligibility. Nil means DefaultRetryable.
	Retryable func(error) bool
}

// Backoff returns the delay before retry number n (0-based).
// r supplies randomness in [0,1) when Jitter is set.
func (p Policy) Backoff(n int, r func() float64) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter && r != nil {
		d *= 0.5 + r()
	}
	return time.Duration(d)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}

// Executor runs operations under a Policy.
type Executor struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	rand    func() float64
}

// NewExecutor creates an executor. A nil clock uses the real clock.
func NewExecutor(clock clockwork.Clock, logger *slog.Logger, m *metrics.Metrics) *Executor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{clock: clock, logger: logger, metrics: m, rand: rand.Float64}
}

// Do calls fn until it succeeds, returns a non-retryable error, the retry budget is spent,
// or ctx is done. fn runs at most p.MaxRetries+1 times. A non-retryable error is returned
// as is; exhaustion returns an *ExhaustedError wrapping the last error.
func Do[T any](ctx context.Context, e *Executor, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		result, err := fn(attemptCtx)
		cancel()

		if err == nil {
			if attempt > 1 {
				e.logger.Info("retry succeeded", "op", op, "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !p.retryable(err) {
			e.logger.Warn("non-retryable failure", "op", op, "attempt", attempt, "error", err)
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt-1, e.rand)
		e.logger.Warn("retrying after failure", "op", op, "attempt", attempt, "delay", delay, "error", err)
		e.metrics.Retry(op)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-e.clock.After(delay):
		}
	}

	e.logger.Error("retries exhausted", "op", op, "attempts", attempts, "error", lastErr)
	return zero, &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, p Policy, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, e, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
