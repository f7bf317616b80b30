package gmail

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const backoffMultiplier = 2.0

// backoffDelay computes the sleep before the next attempt: exponential in the
// number of retries so far, ±20% jitter, capped at ceiling.
func backoffDelay(base, ceiling time.Duration, retry int) time.Duration {
	d := float64(base) * math.Pow(backoffMultiplier, float64(retry))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}
	jitter := d * (rand.Float64()*0.4 - 0.2)
	return time.Duration(d + jitter)
}

// withRetry runs fn until it succeeds, fails permanently, or the attempt cap
// is reached. Transient and rate-limited failures sleep between attempts; a
// rate-limit sleep is stretched to the server's Retry-After hint when that is
// longer than the computed backoff. NotFound and Auth return immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind, hint := classify(err)
		switch kind {
		case ErrNotFound, ErrAuth:
			return fmt.Errorf("%s: %w (%v)", op, kind, err)
		case nil:
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= c.cfg.MaxAttempts {
			return fmt.Errorf("%s: %w after %d attempts (%v)", op, kind, attempt, err)
		}

		delay := backoffDelay(c.cfg.RetryBase, c.cfg.RetryCap, attempt-1)
		if kind == ErrRateLimited && hint > delay {
			delay = hint
		}
		c.log.Debug("retrying remote call",
			"op", op, "attempt", attempt, "delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
