// Package resilient guards a generator with a rate limiter, a circuit breaker
// and optional retries.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"ragqa/internal/domain"
	"ragqa/internal/logger"
)

var _ domain.Generator = (*Generator)(nil)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("generation service temporarily unavailable")

type Config struct {
	// RequestsPerMinute of zero disables rate limiting.
	RequestsPerMinute int
	// MaxRetries is the number of extra attempts after a failure.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// FailureThreshold consecutive failures open the breaker. Zero disables it.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

type Generator struct {
	next       domain.Generator
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
}

func Wrap(next domain.Generator, cfg Config) *Generator {
	g := &Generator{next: next, maxRetries: cfg.MaxRetries, backoff: cfg.Backoff}
	if g.backoff <= 0 {
		g.backoff = 500 * time.Millisecond
	}
	if cfg.RequestsPerMinute > 0 {
		burst := max(1, cfg.RequestsPerMinute/10)
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	if cfg.FailureThreshold > 0 {
		openTimeout := cfg.OpenTimeout
		if openTimeout <= 0 {
			openTimeout = 30 * time.Second
		}
		threshold := uint32(cfg.FailureThreshold)
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        next.Name(),
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// A cancelled caller says nothing about the service.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "generator", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return g
}

func (g *Generator) Name() string { return g.next.Name() }

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.backoff << (attempt - 1)
			logger.Debug("retrying generation", "attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return "", lastErr
			}
		}
		out, err := g.once(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return "", lastErr
}

func (g *Generator) once(ctx context.Context, prompt string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}
	if g.breaker == nil {
		return g.next.Generate(ctx, prompt)
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Generate(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// Close closes the wrapped generator if it holds resources.
func (g *Generator) Close() error {
	if c, ok := g.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrUnavailable) && !errors.Is(err, context.Canceled)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
