package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ConfigError is a missing setting or malformed topic config; fatal at startup.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// ExternalToolError means a required external binary (ffmpeg, ffprobe, gh)
// is absent; fatal at startup of any phase that needs it.
type ExternalToolError struct {
	Tool string
	Err  error
}

func (e *ExternalToolError) Error() string { return fmt.Sprintf("external tool %s: %v", e.Tool, e.Err) }
func (e *ExternalToolError) Unwrap() error { return e.Err }

// TransientError wraps a retryable failure (network, 5xx, model load).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError carries the provider-indicated wait. Retries honoring it
// are not counted against the backoff ceiling.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// ContentError is a permanent per-item failure: corrupt audio, unparseable
// feed entry, LLM output that fails schema after a repair attempt. The
// affected episode's failure_count is incremented; it is never retried
// within the run.
type ContentError struct {
	Reason string
	Err    error
}

func (e *ContentError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}
func (e *ContentError) Unwrap() error { return e.Err }

// Transient reports whether err should be retried with backoff.
func Transient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RateLimited extracts the provider wait, if err is a rate-limit failure.
func RateLimited(err error) (time.Duration, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// Permanent reports whether err is a per-item content failure.
func Permanent(err error) bool {
	var ce *ContentError
	return errors.As(err, &ce)
}

// ContentReason returns the recorded failure reason for a permanent error,
// or the error text when it is not a ContentError.
func ContentReason(err error) string {
	var ce *ContentError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}
