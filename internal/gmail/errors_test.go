package gmail

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", &googleapi.Error{Code: 404}, ErrNotFound},
		{"too many requests", &googleapi.Error{Code: 429}, ErrRateLimited},
		{
			"quota 403",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}},
			ErrRateLimited,
		},
		{
			"permission 403",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}}},
			ErrAuth,
		},
		{"bare 403", &googleapi.Error{Code: 403}, ErrAuth},
		{"unauthorized", &googleapi.Error{Code: 401}, ErrAuth},
		{"server error", &googleapi.Error{Code: 503}, ErrTransient},
		{"bad request", &googleapi.Error{Code: 400}, nil},
		{"token refresh", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, ErrAuth},
		{"wrapped api error", fmt.Errorf("list: %w", &googleapi.Error{Code: 500}), ErrTransient},
		{"plain transport error", errors.New("connection reset by peer"), ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _ := classify(tt.err)
			if kind != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, kind, tt.want)
			}
		})
	}
}

func TestClassifyCarriesRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	kind, after := classify(&googleapi.Error{Code: 429, Header: h})
	if kind != ErrRateLimited {
		t.Fatalf("kind = %v, want ErrRateLimited", kind)
	}
	if after != 7*time.Second {
		t.Errorf("retryAfter = %v, want 7s", after)
	}
}

func TestRetryAfterHint(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)

	tests := []struct {
		name    string
		value   string
		wantMin time.Duration
		wantMax time.Duration
	}{
		{"absent", "", 0, 0},
		{"seconds", "30", 30 * time.Second, 30 * time.Second},
		{"negative seconds", "-5", 0, 0},
		{"garbage", "soon", 0, 0},
		{"http date", future, 85 * time.Second, 90 * time.Second},
		{"past date", past, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			got := retryAfterHint(h)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("retryAfterHint(%q) = %v, want in [%v, %v]", tt.value, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}
