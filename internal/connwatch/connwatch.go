// Package connwatch provides the retry policies a node uses while it
// waits for external dependencies (the network link, the MQTT broker).
//
// Two policies are available:
//  1. [Forever]: retry at a fixed interval with no cap and no backoff.
//     This matches a firmware-style bring-up loop.
//  2. [Backoff]: exponential backoff (e.g. 500ms, 1s, 2s, ... capped),
//     giving up with [ErrExhausted] after MaxRetries attempts.
//
// Call sites depend only on [Policy], so swapping one for the other is a
// configuration change. All waiting goes through a [Sleeper] so tests can
// count and measure delays without wall-clock timing.
package connwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrExhausted is wrapped by the error [Backoff.Do] returns when every
// attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Op is one attempt. attempt starts at 1. Return nil on success.
type Op func(ctx context.Context, attempt int) error

// Policy runs op until it succeeds, the policy gives up, or ctx is
// cancelled. name identifies the dependency in log output.
type Policy interface {
	Do(ctx context.Context, name string, op Op) error
}

// Sleeper blocks for d. It returns false if ctx was cancelled first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) bool
}

// SleeperFunc adapts a function to [Sleeper].
type SleeperFunc func(ctx context.Context, d time.Duration) bool

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) bool {
	return f(ctx, d)
}

// RealSleeper sleeps on the wall clock.
var RealSleeper Sleeper = SleeperFunc(sleepCtx)

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 500ms).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 30s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries is the maximum number of attempts (default: 10).
	MaxRetries int
}

// DefaultBackoffConfig returns 500ms, 1s, 2s, 4s, ... capped at 30s,
// with 10 attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
	}
}

// withDefaults replaces zero-value fields with [DefaultBackoffConfig].
func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// Forever retries at a fixed Interval until op succeeds. It never gives
// up; only ctx cancellation ends it early. A zero Interval retries
// immediately.
type Forever struct {
	Interval time.Duration
	Sleeper  Sleeper      // RealSleeper if nil
	Logger   *slog.Logger // slog.Default() if nil
}

// Do implements [Policy].
func (f Forever) Do(ctx context.Context, name string, op Op) error {
	sleeper := f.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			logger.Debug("dependency ready",
				"dependency", name,
				"after_attempts", attempt,
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Debug("dependency not ready, retrying",
			"dependency", name,
			"attempt", attempt,
			"next_delay", f.Interval.String(),
			"error", err,
		)

		if !sleeper.Sleep(ctx, f.Interval) {
			return ctx.Err()
		}
	}
}

// Backoff retries with exponentially growing delays and gives up after
// Config.MaxRetries attempts. Zero-value Config fields take the
// [DefaultBackoffConfig] values.
type Backoff struct {
	Config  BackoffConfig
	Sleeper Sleeper      // RealSleeper if nil
	Logger  *slog.Logger // slog.Default() if nil
}

// Do implements [Policy].
func (b Backoff) Do(ctx context.Context, name string, op Op) error {
	cfg := b.Config.withDefaults()
	sleeper := b.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			logger.Debug("dependency ready",
				"dependency", name,
				"after_attempts", attempt,
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt >= cfg.MaxRetries {
			logger.Warn("dependency unreachable, giving up",
				"dependency", name,
				"attempts", attempt,
				"error", err,
			)
			return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, attempt, err)
		}

		logger.Debug("dependency not ready, backing off",
			"dependency", name,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"next_delay", delay.String(),
			"error", err,
		)

		if !sleeper.Sleep(ctx, delay) {
			return ctx.Err()
		}

		// Grow delay with ceiling.
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
