package transcribe

import (
	"errors"
	"testing"
	"time"

	"github.com/snarg/pod-engine/internal/pipeline"
)

func TestClassify(t *testing.T) {
	t.Run("corrupt_tensor_is_permanent", func(t *testing.T) {
		err := Classify(&apiError{provider: "whisper", status: 400,
			body: `{"error": "cannot reshape tensor of 0 elements"}`})
		if !pipeline.Permanent(err) {
			t.Errorf("corrupt tensor should be permanent, got %v", err)
		}
		if got := pipeline.ContentReason(err); got != "provider rejected audio as corrupt" {
			t.Errorf("reason = %q", got)
		}
	})

	t.Run("server_error_is_transient", func(t *testing.T) {
		err := Classify(&apiError{provider: "whisper", status: 503, body: "overloaded"})
		if !pipeline.Transient(err) {
			t.Errorf("503 should be transient, got %v", err)
		}
	})

	t.Run("network_error_is_transient", func(t *testing.T) {
		err := Classify(errors.New("dial tcp: connection refused"))
		if !pipeline.Transient(err) {
			t.Errorf("network error should be transient, got %v", err)
		}
	})

	t.Run("rate_limit_carries_retry_after", func(t *testing.T) {
		err := Classify(&apiError{provider: "elevenlabs", status: 429, body: "slow down",
			retryAfter: 12 * time.Second})
		ra, ok := pipeline.RateLimited(err)
		if !ok {
			t.Fatalf("429 should be rate-limited, got %v", err)
		}
		if ra != 12*time.Second {
			t.Errorf("retry-after = %v, want 12s", ra)
		}
	})

	t.Run("rate_limit_default_wait", func(t *testing.T) {
		err := Classify(&apiError{provider: "elevenlabs", status: 429, body: "slow down"})
		ra, _ := pipeline.RateLimited(err)
		if ra != 30*time.Second {
			t.Errorf("default retry-after = %v, want 30s", ra)
		}
	})

	t.Run("auth_is_not_transient_or_permanent", func(t *testing.T) {
		err := Classify(&apiError{provider: "whisper", status: 401, body: "bad key"})
		if pipeline.Transient(err) || pipeline.Permanent(err) {
			t.Errorf("auth failure should be neither transient nor permanent, got %v", err)
		}
	})

	t.Run("checksum_is_model_cache_error", func(t *testing.T) {
		err := Classify(&apiError{provider: "whisper", status: 400,
			body: "model load failed: sha256 mismatch"})
		if pipeline.Permanent(err) {
			t.Errorf("checksum failure must not burn an episode failure, got %v", err)
		}
		if !IsModelCacheError(err) {
			t.Errorf("checksum failure should be a model cache error, got %v", err)
		}
	})

	t.Run("nil_stays_nil", func(t *testing.T) {
		if err := Classify(nil); err != nil {
			t.Errorf("Classify(nil) = %v", err)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("15"); d != 15*time.Second {
		t.Errorf("parseRetryAfter(15) = %v", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("parseRetryAfter(empty) = %v", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", d)
	}
}
