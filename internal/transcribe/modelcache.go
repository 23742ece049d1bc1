package transcribe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Known SHA-256 checksums for downloadable whisper weights, keyed by model
// name. Only models listed here are validated; an unknown model skips the
// check (the serving endpoint owns its own weights then).
var modelChecksums = map[string]string{
	"tiny":   "65147644a518d12f04e32d6f3b26facc3f8dd46e5390956a9424a650c0ce22b9",
	"base":   "ed3a0b6b1c0edf879ad9b11b1af5a0e6ab5db9205f891f668f8b0e6c6326e34e",
	"small":  "9ecf779972d90ba49c06d968637d720dd632c55bbf19d441fb42bf17a411e794",
	"medium": "345ae4da62f9b3d59415adc60127b97c714f32e89e936602e85993674d08dcb1",
}

// ModelCache locates and SHA-validates locally downloaded whisper weights.
// A checksum mismatch deletes the cache file so the next model load pulls
// fresh weights instead of failing forever on a corrupt download.
type ModelCache struct {
	Dir string
	log zerolog.Logger
}

func NewModelCache(dir string, log zerolog.Logger) *ModelCache {
	if dir == "" {
		home, err := os.UserCacheDir()
		if err == nil {
			dir = filepath.Join(home, "whisper")
		}
	}
	return &ModelCache{Dir: dir, log: log}
}

func (mc *ModelCache) path(model string) string {
	return filepath.Join(mc.Dir, model+".pt")
}

// Validate checks the cached weights for the model. Returns nil when the
// file is absent (nothing to validate — the server will download) or when
// the checksum matches. On mismatch the file is deleted and an error
// returned so the caller can retry the load.
func (mc *ModelCache) Validate(model string) error {
	want, known := modelChecksums[model]
	if !known || mc.Dir == "" {
		return nil
	}
	path := mc.path(model)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open model cache: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash model cache: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		if rmErr := os.Remove(path); rmErr != nil {
			return fmt.Errorf("model cache corrupt and undeletable: %w", rmErr)
		}
		mc.log.Warn().Str("model", model).Str("path", path).
			Msg("model cache checksum mismatch — cache file deleted, will re-download")
		return fmt.Errorf("model cache checksum mismatch for %s (deleted)", model)
	}
	return nil
}

// Purge removes the cached weights for the model regardless of state.
// Called after the provider reports a checksum failure at load time.
func (mc *ModelCache) Purge(model string) {
	if mc.Dir == "" {
		return
	}
	path := mc.path(model)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		mc.log.Warn().Err(err).Str("path", path).Msg("model cache purge failed")
		return
	}
	mc.log.Info().Str("model", model).Msg("model cache purged")
}
