package explain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Resilient rate-limits calls to an explainer, retries failed calls a
// bounded number of times and stops calling it while it keeps failing.
type Resilient struct {
	next     Explainer
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	attempts int
	interval time.Duration
	logger   *zap.Logger
}

// NewResilient wraps next with a limiter of rps requests per second (0 for
// unlimited) and a circuit breaker that opens after three consecutive
// failures.
func NewResilient(next Explainer, rps float64, burst int) *Resilient {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	r := &Resilient{
		next:     next,
		limiter:  rate.NewLimiter(limit, burst),
		attempts: 1,
		logger:   zap.NewNop(),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "explain",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return r
}

// SetRetry allows up to attempts calls per explanation, sleeping wait
// after the first failure and doubling it after each further one.
func (r *Resilient) SetRetry(attempts int, wait time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	r.attempts = attempts
	r.interval = wait
}

// SetLogger sets the logger for retries and breaker state changes.
func (r *Resilient) SetLogger(logger *zap.Logger) {
	r.logger = logger
}

// State returns the circuit breaker state.
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}

// Explain implements Explainer. An open breaker yields ErrUnavailable and
// is not retried.
func (r *Resilient) Explain(ctx context.Context, req Request) (*Explanation, error) {
	op := func() (*Explanation, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("explanation rate limit: %w", err))
		}
		exp, err := r.call(ctx, req)
		if err != nil && !retryable(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return exp, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug("explanation attempt failed, retrying",
			zap.String("drug", req.Verdict.Drug),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	return backoff.RetryNotifyWithData(op, r.policy(ctx), notify)
}

// policy allows attempts-1 retries with the backoff doubling each time.
func (r *Resilient) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.interval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.attempts-1)), ctx)
}

func (r *Resilient) call(ctx context.Context, req Request) (*Explanation, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.next.Explain(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result.(*Explanation), nil
}

// retryable reports whether a failed call may succeed when repeated.
// Client errors other than rate limiting are permanent.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrUnavailable) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
