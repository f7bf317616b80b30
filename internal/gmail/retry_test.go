package gmail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

func testClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	return NewClient(nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fastRetries(max int) Config {
	return Config{MaxAttempts: max, RetryBase: time.Millisecond, RetryCap: 5 * time.Millisecond}
}

func TestWithRetryEventualSuccess(t *testing.T) {
	c := testClient(t, fastRetries(5))
	calls := 0
	err := c.withRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: 500}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	c := testClient(t, fastRetries(3))
	calls := 0
	err := c.withRetry(context.Background(), "op", func() error {
		calls++
		return &googleapi.Error{Code: 503}
	})
	if !errors.Is(err, ErrTransient) {
		t.Errorf("err = %v, want ErrTransient", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"not found", 404, ErrNotFound},
		{"unauthorized", 401, ErrAuth},
		{"forbidden", 403, ErrAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, fastRetries(5))
			calls := 0
			err := c.withRetry(context.Background(), "op", func() error {
				calls++
				return &googleapi.Error{Code: tt.code}
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestWithRetryPermanentRequestError(t *testing.T) {
	c := testClient(t, fastRetries(5))
	calls := 0
	err := c.withRetry(context.Background(), "op", func() error {
		calls++
		return &googleapi.Error{Code: 400, Message: "invalid query"}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 400 {
		t.Errorf("err = %v, want to unwrap to the 400 response", err)
	}
	for _, sentinel := range []error{ErrNotFound, ErrRateLimited, ErrTransient, ErrAuth} {
		if errors.Is(err, sentinel) {
			t.Errorf("err = %v unexpectedly matches %v", err, sentinel)
		}
	}
}

func TestWithRetryHonorsRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "1")
	c := testClient(t, fastRetries(2))
	calls := 0
	start := time.Now()
	err := c.withRetry(context.Background(), "op", func() error {
		calls++
		if calls == 1 {
			return &googleapi.Error{Code: 429, Header: h}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("second attempt after %v, want the 1s server hint honored", elapsed)
	}
}

func TestWithRetryCanceledContext(t *testing.T) {
	c := testClient(t, Config{MaxAttempts: 5, RetryBase: 50 * time.Millisecond, RetryCap: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.withRetry(ctx, "op", func() error {
		calls++
		cancel()
		return &googleapi.Error{Code: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	base, ceiling := time.Second, 60*time.Second
	for retry := 0; retry < 10; retry++ {
		want := float64(base) * math.Pow(backoffMultiplier, float64(retry))
		if want > float64(ceiling) {
			want = float64(ceiling)
		}
		for i := 0; i < 50; i++ {
			got := float64(backoffDelay(base, ceiling, retry))
			if got < want*0.8-1 || got > want*1.2+1 {
				t.Fatalf("backoffDelay(retry=%d) = %v, want within 20%% of %v",
					retry, time.Duration(got), time.Duration(want))
			}
		}
	}
}
