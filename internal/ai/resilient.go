package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/seanblong/docrag/pkg/models"
)

// Resilient wraps a Client with a rate limiter, a circuit breaker, and
// bounded retries with exponential backoff. Retries happen here, at the
// adapter boundary; the ingestion pipeline never re-attempts a whole
// document on a transient provider failure.
type Resilient struct {
	inner      Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	baseDelay  time.Duration
}

// ResilientConfig tunes the wrapper. Zero values fall back to defaults
// sized for a single low-volume deployment.
type ResilientConfig struct {
	// RequestsPerMinute caps outbound provider calls. Default 60.
	RequestsPerMinute int
	// MaxRetries bounds re-attempts per call on transient failures. Default 3.
	MaxRetries int
	// BaseDelay is the first backoff interval, doubled per attempt. Default 500ms.
	BaseDelay time.Duration
}

// NewResilient wraps inner with rate limiting, circuit breaking and retry.
func NewResilient(inner Client, cfg ResilientConfig) *Resilient {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &Resilient{
		inner:      inner,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(rpm/10, 1)),
		breaker:    breaker,
		maxRetries: retries,
		baseDelay:  delay,
	}
}

// Embed calls the wrapped client's Embed with retry on transient failures.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.do(ctx, "embed", func() error {
		var err error
		vec, err = r.inner.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Complete calls the wrapped client's Complete with retry on transient failures.
func (r *Resilient) Complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := r.do(ctx, "complete", func() error {
		var err error
		out, err = r.inner.Complete(ctx, system, user)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Resilient) Dim() int {
	return r.inner.Dim()
}

// do runs call through the limiter and breaker, retrying transient errors
// with exponential backoff up to maxRetries attempts.
func (r *Resilient) do(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := r.baseDelay << (attempt - 1)
			log.Debug().Str("op", op).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying provider call")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", models.ErrTimeout, ctx.Err())
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", models.ErrTimeout, err)
		}

		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, call()
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open: %v", models.ErrProvider, err)
		}
		if !retryable(err) {
			return err
		}
	}
	return lastErr
}

// retryable reports whether a provider error is worth another attempt.
// Malformed responses are deterministic and never retried; rate limits and
// transport failures are transient.
func retryable(err error) bool {
	if errors.Is(err, ErrBadResponse) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
