// Package audio downloads episode enclosures and splits them into
// fixed-duration chunks for transcription.
package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/pipeline"
)

// Acquirer streams enclosures into a content-addressed cache. Cache files
// are named by a short digest of the episode GUID plus a keyword from the
// feed title, so reruns hit the cache instead of the network.
type Acquirer struct {
	CacheDir      string
	MaxDownloadMB int
	client        *http.Client
	log           zerolog.Logger
}

func NewAcquirer(cacheDir string, maxDownloadMB int, log zerolog.Logger) *Acquirer {
	return &Acquirer{
		CacheDir:      cacheDir,
		MaxDownloadMB: maxDownloadMB,
		client: &http.Client{
			// No overall timeout: multi-hour audio files are legitimate.
			// The dialer bounds connection establishment instead.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		log: log,
	}
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// guidDigest is the short content-address used in cache filenames and
// chunk directory names.
func guidDigest(guid string) string {
	sum := sha256.Sum256([]byte(guid))
	return hex.EncodeToString(sum[:])[:12]
}

// CachePath derives the content-addressed cache filename for an episode.
func (a *Acquirer) CachePath(guid, feedTitle string) string {
	return filepath.Join(a.CacheDir, fmt.Sprintf("%s_%s.mp3", guidDigest(guid), feedKeyword(feedTitle)))
}

// feedKeyword reduces a feed title to a short filesystem-safe tag.
func feedKeyword(title string) string {
	s := nonWord.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "feed"
	}
	if len(s) > 24 {
		s = s[:24]
		s = strings.Trim(s, "-")
	}
	return s
}

// Fetch downloads the enclosure to the cache, returning the cached path.
// An existing non-empty cache file is reused without touching the network.
// An HTML response is a permanent content failure (dead or redirected
// enclosure URL); partial files are deleted on any failure.
func (a *Acquirer) Fetch(ctx context.Context, guid, feedTitle, audioURL string) (string, error) {
	dest := a.CachePath(guid, feedTitle)
	if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
		a.log.Debug().Str("path", dest).Msg("audio cache hit")
		return dest, nil
	}

	if err := os.MkdirAll(a.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", &pipeline.ContentError{Reason: "invalid enclosure url", Err: err}
	}
	req.Header.Set("User-Agent", "pod-engine/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &pipeline.TransientError{Err: fmt.Errorf("download: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return "", &pipeline.ContentError{Reason: fmt.Sprintf("enclosure returned %d", resp.StatusCode)}
		}
		return "", &pipeline.TransientError{Err: fmt.Errorf("download status %d", resp.StatusCode)}
	}

	ctype := resp.Header.Get("Content-Type")
	if strings.Contains(ctype, "text/html") {
		return "", &pipeline.ContentError{Reason: "enclosure served HTML, not audio"}
	}

	maxBytes := int64(a.MaxDownloadMB) << 20
	if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
		return "", &pipeline.ContentError{
			Reason: fmt.Sprintf("enclosure too large: %d MB > %d MB limit", resp.ContentLength>>20, a.MaxDownloadMB),
		}
	}

	tmp := dest + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create cache file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return "", &pipeline.TransientError{Err: fmt.Errorf("stream download: %w", err)}
	}
	if written > maxBytes {
		os.Remove(tmp)
		return "", &pipeline.ContentError{Reason: fmt.Sprintf("download exceeded %d MB limit", a.MaxDownloadMB)}
	}
	if written == 0 {
		os.Remove(tmp)
		return "", &pipeline.ContentError{Reason: "empty enclosure body"}
	}
	// Sanity-check against the server-reported length; a short read past
	// the error paths above means a truncated transfer.
	if resp.ContentLength > 0 && written < resp.ContentLength {
		os.Remove(tmp)
		return "", &pipeline.TransientError{
			Err: fmt.Errorf("truncated download: %d of %d bytes", written, resp.ContentLength),
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit cache file: %w", err)
	}

	a.log.Info().Str("path", dest).Int64("bytes", written).Msg("audio downloaded")
	return dest, nil
}
