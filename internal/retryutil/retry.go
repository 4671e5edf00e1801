// Package retryutil provides bounded exponential backoff for Document
// Store writes, per §4.3's "retries on transient failure with bounded
// exponential backoff" requirement — the teacher's own writes never
// retried because it didn't model transient failure.
package retryutil

import (
	"context"
	"math/rand"
	"time"
)

// Config bounds a retry loop's attempt count and backoff curve.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig retries up to 3 additional times, waiting about 50ms,
// 100ms and 200ms before them (each jittered down to as little as half;
// MaxDelay caps any single wait at 800ms), enough to ride out a brief
// connection blip without stalling a caller holding a per-chat lock for
// long.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 800 * time.Millisecond}
}

// Do runs fn, retrying on error up to cfg.MaxAttempts additional times with
// jittered exponential backoff. It stops early if ctx is canceled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var err error
	delay := cfg.BaseDelay
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
