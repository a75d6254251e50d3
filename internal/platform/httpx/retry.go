package httpx

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// RetryPolicy bounds the retry loop. Attempts = 1 + MaxRetries.
type RetryPolicy struct {
	MaxRetries int           `toml:"max_retries"`
	BaseDelay  time.Duration `toml:"base_delay"`
	MaxJitter  time.Duration `toml:"max_jitter"`
	Timeout    time.Duration `toml:"timeout"` // per attempt
}

// DefaultRetryPolicy matches the venue fetchers: two retries, 300ms base,
// up to 100ms jitter, 10s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  300 * time.Millisecond,
		MaxJitter:  100 * time.Millisecond,
		Timeout:    10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Backoff returns the delay before retry number n (0-based), excluding jitter.
func (p RetryPolicy) Backoff(n int) time.Duration {
	return p.BaseDelay << n
}

// Retryable reports whether err is worth another attempt: timeouts, transport
// failures, 429 and 5xx. Other 4xx and decode failures are final.
func Retryable(err error) bool {
	return domain.Transient(err)
}

// Retry runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx ends. Each attempt gets its own timeout.
func Retry(ctx context.Context, p RetryPolicy, logger *slog.Logger, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, p.Timeout)
		err = fn(actx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) || attempt >= p.MaxRetries {
			return err
		}

		delay := p.Backoff(attempt)
		if p.MaxJitter > 0 {
			delay += rand.N(p.MaxJitter)
		}
		if logger != nil {
			logger.DebugContext(ctx, "retrying request",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}
		if serr := sleepFor(ctx, delay); serr != nil {
			return serr
		}
	}
}
