package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/telemetry"
)

var (
	ErrEmptyText   = errors.New("empty text")
	ErrEmptyVector = errors.New("provider returned an empty vector")
)

// RetryingEmbedder wraps a provider with a rate limiter, a circuit breaker and
// a single retry after a fixed backoff. The policy is the same for every
// document regardless of its size.
type RetryingEmbedder struct {
	provider core.EmbeddingProvider
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	backoff  time.Duration
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

type EmbedderOption func(*RetryingEmbedder)

// WithRequestsPerMinute caps provider calls. Zero leaves calls unlimited.
func WithRequestsPerMinute(rpm int) EmbedderOption {
	return func(e *RetryingEmbedder) {
		if rpm <= 0 {
			e.limiter = nil
			return
		}
		burst := rpm / 10
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}
}

// WithCircuitBreaker stops calling a provider that keeps failing.
func WithCircuitBreaker(name string) EmbedderOption {
	return func(e *RetryingEmbedder) {
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			// a cancelled job says nothing about the provider
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				e.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("embedding circuit breaker state change")
			},
		})
	}
}

func WithRetryBackoff(d time.Duration) EmbedderOption {
	return func(e *RetryingEmbedder) { e.backoff = d }
}

func WithMetrics(m *telemetry.Metrics) EmbedderOption {
	return func(e *RetryingEmbedder) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) EmbedderOption {
	return func(e *RetryingEmbedder) { e.log = l }
}

func NewRetryingEmbedder(provider core.EmbeddingProvider, opts ...EmbedderOption) *RetryingEmbedder {
	e := &RetryingEmbedder{
		provider: provider,
		backoff:  2 * time.Second,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns the vector for text, retrying exactly once on failure. The
// circuit breaker wraps the attempt and its retry together, so only embeddings
// that still fail after the retry count towards opening it.
func (e *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.EmbeddingError("embed", ErrEmptyText)
	}
	if e.breaker == nil {
		return e.embedWithRetry(ctx, text)
	}

	res, err := e.breaker.Execute(func() (interface{}, error) {
		return e.embedWithRetry(ctx, text)
	})
	if err != nil {
		if core.KindOf(err) == core.KindUnknown {
			err = core.EmbeddingError("embed", err)
		}
		return nil, err
	}
	return res.([]float32), nil
}

func (e *RetryingEmbedder) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.attempt(ctx, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, core.EmbeddingError("embed", ctx.Err())
	}

	e.metrics.RecordEmbeddingRetry(ctx)
	e.log.Warn().Err(err).Dur("backoff", e.backoff).Msg("embedding failed, retrying once")

	timer := time.NewTimer(e.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, core.EmbeddingError("embed", ctx.Err())
	case <-timer.C:
	}

	vec, err = e.attempt(ctx, text)
	if err != nil {
		return nil, core.EmbeddingError("embed", fmt.Errorf("after retry: %w", err))
	}
	return vec, nil
}

// attempt makes one provider call.
func (e *RetryingEmbedder) attempt(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, ErrEmptyVector
	}
	return vec, nil
}

var _ core.Embedder = (*RetryingEmbedder)(nil)
