package transcribe

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/pod-engine/internal/pipeline"
)

// apiError is a non-200 provider response before classification.
type apiError struct {
	provider   string
	status     int
	body       string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.provider, e.status, truncate(e.body, 300))
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Classify maps a raw provider error onto the pipeline error kinds.
//
//   - "corrupt tensor" / "reshape" errors mean the audio itself is bad:
//     permanent per-chunk failure, no retry will fix it.
//   - checksum mismatches on the local model cache are transient after the
//     cache file is deleted (the worker handles the deletion).
//   - auth failures (401/403) are neither transient nor permanent: they are
//     not retried, record no episode failure, and the worker moves on to
//     the next episode.
//   - everything network-shaped is transient with backoff; 429 honors the
//     provider's Retry-After outside the attempt budget.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var ae *apiError
	if errors.As(err, &ae) {
		lower := strings.ToLower(ae.body)
		switch {
		case strings.Contains(lower, "corrupt tensor") || strings.Contains(lower, "cannot reshape") ||
			strings.Contains(lower, "reshape tensor"):
			return &pipeline.ContentError{Reason: "provider rejected audio as corrupt", Err: ae}
		case ae.status == http.StatusUnauthorized || ae.status == http.StatusForbidden:
			return fmt.Errorf("provider authentication failed: %w", ae)
		case ae.status == http.StatusTooManyRequests:
			ra := ae.retryAfter
			if ra == 0 {
				ra = 30 * time.Second
			}
			return &pipeline.RateLimitError{RetryAfter: ra, Err: ae}
		case ae.status >= 500:
			return &pipeline.TransientError{Err: ae}
		case strings.Contains(lower, "checksum") || strings.Contains(lower, "sha256 mismatch"):
			return &modelCacheError{err: ae}
		default:
			// Unknown 4xx: the request itself is bad for this audio.
			return &pipeline.ContentError{Reason: fmt.Sprintf("provider rejected chunk (status %d)", ae.status), Err: ae}
		}
	}

	var mce *modelCacheError
	if errors.As(err, &mce) {
		return err
	}

	// Transport-level failures (dial, TLS, timeout) retry with backoff.
	return &pipeline.TransientError{Err: err}
}

// modelCacheError signals corrupted local model weights; the worker deletes
// the cache file before the next attempt.
type modelCacheError struct {
	err error
}

func (e *modelCacheError) Error() string { return "model cache checksum mismatch: " + e.err.Error() }
func (e *modelCacheError) Unwrap() error { return e.err }

// IsModelCacheError reports whether the worker should purge the weights cache.
func IsModelCacheError(err error) bool {
	var mce *modelCacheError
	return errors.As(err, &mce)
}
