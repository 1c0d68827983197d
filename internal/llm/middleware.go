package llm

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/wsaxqd/home-work2-sub001/internal/logger"
	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
)

type loggingProvider struct {
	inner   Provider
	log     *logger.Logger
	metrics *metrics.Metrics
}

// WithLogging logs and counts every request sent to p.
func WithLogging(p Provider, log *logger.Logger, m *metrics.Metrics) Provider {
	return &loggingProvider{
		inner:   p,
		log:     logger.OrNop(log).With("component", "llm"),
		metrics: metrics.OrNop(m),
	}
}

func (l *loggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	model := l.inner.ModelID()

	fields := []any{
		"model", model,
		"purpose", PurposeFrom(ctx),
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		l.metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		l.log.Warn("llm request failed", append(fields, "error", err)...)
		return nil, err
	}

	l.metrics.LLMRequests.WithLabelValues(model, "ok").Inc()
	l.metrics.LLMTokens.WithLabelValues(model, "input").Add(float64(resp.Usage.InputTokens))
	l.metrics.LLMTokens.WithLabelValues(model, "output").Add(float64(resp.Usage.OutputTokens))
	fields = append(fields, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	if c := LookupCost(resp.Model); c != nil {
		fields = append(fields, "cost_usd", c.Cost(resp.Usage.InputTokens, resp.Usage.OutputTokens))
	}
	l.log.Debug("llm request", fields...)
	return resp, nil
}

func (l *loggingProvider) ModelID() string { return l.inner.ModelID() }

// breakerTrip is the number of consecutive failed calls, each already
// retried, that opens the circuit.
const breakerTrip = 5

// permanent stops the retrier without hiding the cause.
type permanent struct{ error }

func (p permanent) Unwrap() error { return p.error }

type resilientProvider struct {
	inner   Provider
	retrier retry.Retry[*Response]
	breaker circuitbreaker.CircuitBreaker[*Response]
}

// WithResilience retries transient failures with exponential backoff and
// opens a circuit after repeated failed calls. An invalid response is
// retried once; a truncated one never.
func WithResilience(p Provider, cfg RetryConfig, log *logger.Logger) Provider {
	log = logger.OrNop(log).With("component", "llm")
	attempts := max(cfg.MaxAttempts, 1)
	return &resilientProvider{
		inner: p,
		retrier: retry.New[*Response](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  cfg.InitialWait,
			MaxDelay:      cfg.MaxWait,
			Multiplier:    cfg.Multiplier,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				var stop permanent
				return !errors.As(err, &stop) && retryable(err)
			},
		}),
		breaker: circuitbreaker.New[*Response](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c circuitbreaker.Counts) bool {
				return c.ConsecutiveFailures >= breakerTrip
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				log.Warn("llm circuit breaker state change", "model", p.ModelID(), "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (r *resilientProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	var last error
	invalidSeen := false
	resp, err := r.breaker.Execute(ctx, func(ctx context.Context) (*Response, error) {
		return r.retrier.Do(ctx, func(ctx context.Context) (*Response, error) {
			resp, err := r.inner.Generate(ctx, req)
			var invalid *ErrInvalidResponse
			if errors.As(err, &invalid) {
				if invalidSeen {
					err = permanent{err}
				}
				invalidSeen = true
			}
			last = err
			return resp, err
		})
	})
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var stop permanent
	switch {
	case errors.As(last, &stop):
		return nil, stop.error
	case last != nil:
		return nil, last
	default:
		// The breaker rejected the call without reaching the provider.
		return nil, &ErrProviderUnavailable{Err: err}
	}
}

func (r *resilientProvider) ModelID() string { return r.inner.ModelID() }
