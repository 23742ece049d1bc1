package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Transcoder shells out to ffmpeg/ffprobe. Stdout is discarded to a null
// sink (verbose transcoder output has filled pipe buffers and deadlocked
// before); stderr is captured for error reporting. Extraction and concat
// run with no wall-clock timeout — slow disks and long concats are
// legitimate — and rely on context cancellation for operator abort, with
// terminate-then-kill after the grace period.
type Transcoder struct {
	FFmpegPath  string
	FFprobePath string
	KillGrace   time.Duration
}

func NewTranscoder(killGrace time.Duration) *Transcoder {
	return &Transcoder{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", KillGrace: killGrace}
}

// Check verifies both binaries are present in PATH.
func (t *Transcoder) Check() error {
	if _, err := exec.LookPath(t.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	if _, err := exec.LookPath(t.FFprobePath); err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}
	return nil
}

func (t *Transcoder) command(ctx context.Context, path string, args ...string) (*exec.Cmd, *bytes.Buffer) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = t.KillGrace
	return cmd, &stderr
}

// ExtractChunk writes one fixed-duration 16 kHz mono MP3 segment. The seek
// argument goes before the input flag: input-side seeking is O(1) while
// output-side seeking decodes everything up to the seek point.
func (t *Transcoder) ExtractChunk(ctx context.Context, inputPath string, start, duration int, outputPath string) error {
	cmd, stderr := t.command(ctx, t.FFmpegPath,
		"-y",
		"-ss", strconv.Itoa(start),
		"-i", inputPath,
		"-t", strconv.Itoa(duration),
		"-acodec", "libmp3lame",
		"-ar", "16000",
		"-ac", "1",
		"-q:a", "2",
		outputPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg extract: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

// ValidateDecode test-decodes the first few seconds of a file. Probing the
// container is not enough: producer bugs regularly emit files whose
// metadata is intact but whose PCM stream is unreadable.
func (t *Transcoder) ValidateDecode(ctx context.Context, path string, seconds int) error {
	cmd, stderr := t.command(ctx, t.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-t", strconv.Itoa(seconds),
		"-f", "null",
		"-",
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("decode validation: %w: %s", err, tail(stderr.String()))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("decode validation: %s", tail(msg))
	}
	return nil
}

// Concat stream-copies the listed files into one MP3 using an ffconcat
// list. No re-encode: it is faster and avoids generation loss across
// the 5–20 chunks of a typical digest.
func (t *Transcoder) Concat(ctx context.Context, listPath, outputPath string) error {
	cmd, stderr := t.command(ctx, t.FFmpegPath,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

// ProbeDuration returns the container duration in seconds.
func (t *Transcoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, tail(stderr.String()))
	}
	s := strings.TrimSpace(stdout.String())
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: unparseable duration %q", s)
	}
	return d, nil
}

// tail keeps error output readable: the last few lines carry the cause.
func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, " | ")
}
