package gmail

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Remote failure taxonomy. Errors returned by Client wrap exactly one of
// these sentinels (or none, for permanent request errors such as a malformed
// query); callers branch with errors.Is.
var (
	ErrNotFound    = errors.New("message not found")
	ErrRateLimited = errors.New("rate limited")
	ErrTransient   = errors.New("transient remote failure")
	ErrAuth        = errors.New("authorization failed")
)

// isRateLimitReason reports whether a 403 reason is quota pushback; every
// other 403 is a permission problem.
func isRateLimitReason(reason string) bool {
	switch reason {
	case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded", "quotaExceeded":
		return true
	}
	return false
}

// classify maps a remote call error onto the taxonomy, along with any
// server-provided retry delay. A nil kind means the error is permanent and
// not worth retrying.
func classify(err error) (kind error, retryAfter time.Duration) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return ErrNotFound, 0
		case apiErr.Code == http.StatusTooManyRequests:
			return ErrRateLimited, retryAfterHint(apiErr.Header)
		case apiErr.Code == http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if isRateLimitReason(item.Reason) {
					return ErrRateLimited, retryAfterHint(apiErr.Header)
				}
			}
			return ErrAuth, 0
		case apiErr.Code == http.StatusUnauthorized:
			return ErrAuth, 0
		case apiErr.Code >= 500:
			return ErrTransient, 0
		default:
			return nil, 0
		}
	}

	// A failed token refresh surfaces from the oauth2 transport, not as a
	// googleapi error.
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return ErrAuth, 0
	}

	// Everything else is transport-level: timeouts, resets, DNS.
	return ErrTransient, 0
}

// retryAfterHint reads a Retry-After header holding either delay seconds or
// an HTTP date.
func retryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
