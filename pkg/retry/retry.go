// Package retry runs an operation with capped exponential backoff.
// Attempts are abandoned as soon as the context is cancelled, so a
// caller's deadline bounds the whole retry loop, not a single attempt.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterFraction  float64
	RetryableErrors []error
	Logger          *zap.Logger
}

func (cfg *Config) fillDefaults() {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// Do invokes operation until it succeeds, a non-retryable error is
// returned, the attempt budget runs out, or ctx is done. The last
// operation error is returned when attempts are exhausted.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	cfg.fillDefaults()

	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				cfg.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !retryable(lastErr, cfg.RetryableErrors) {
			cfg.Logger.Debug("Error not retryable", zap.Error(lastErr))
			return lastErr
		}

		if attempt >= cfg.MaxAttempts {
			return lastErr
		}

		delay := backoff(cfg, attempt)
		cfg.Logger.Warn("Operation failed, retrying",
			zap.Error(lastErr),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff computes the sleep before the next attempt. attempt is
// 1-based, so the first wait equals InitialDelay plus jitter.
func backoff(cfg Config, attempt int) time.Duration {
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}

	if cfg.JitterFraction > 0 {
		spread := float64(delay) * cfg.JitterFraction
		delay += time.Duration(spread * (2*rand.Float64() - 1))
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// An empty RetryableErrors list means every error is worth retrying.
func retryable(err error, allowed []error) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
