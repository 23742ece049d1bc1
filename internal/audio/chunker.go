package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/pod-engine/internal/pipeline"
)

// chunkDirMu serializes per-episode chunk-directory creation. Concurrent
// workers must never collide creating the same output directory.
var chunkDirMu sync.Mutex

// Chunk is one fixed-duration segment of an episode, decode-validated.
type Chunk struct {
	Number int
	Path   string
	Start  int // seconds from episode start
}

// Chunker splits a cached episode file into 16 kHz mono segments and
// validates each one by test-decoding its head.
type Chunker struct {
	ChunkDir        string
	DurationSeconds int
	tc              *Transcoder
	log             zerolog.Logger
}

func NewChunker(chunkDir string, durationSeconds int, tc *Transcoder, log zerolog.Logger) *Chunker {
	return &Chunker{ChunkDir: chunkDir, DurationSeconds: durationSeconds, tc: tc, log: log}
}

// MinValidChunks is the partial-transcription floor: for n total chunks an
// episode needs ceil(ratio*n) valid ones, except that episodes shorter than
// 3 chunks need only one. Isolated corruption is tolerated; heavily-damaged
// sources fail instead of silently yielding gappy transcripts.
func MinValidChunks(total int, ratio float64) int {
	if total <= 0 {
		return 0
	}
	if total < 3 {
		return 1
	}
	return int(math.Ceil(ratio * float64(total)))
}

// Split cuts the audio file into chunks under a per-episode directory and
// returns the valid ones in chunk-number order. Chunks that fail decode
// validation are deleted and counted; when too few survive the episode
// fails with a permanent "insufficient valid chunks" error.
func (c *Chunker) Split(ctx context.Context, episodeGUID, audioPath string, minValidRatio float64) ([]Chunk, int, error) {
	duration, err := c.tc.ProbeDuration(ctx, audioPath)
	if err != nil {
		return nil, 0, &pipeline.ContentError{Reason: "unreadable audio container", Err: err}
	}
	total := int(math.Ceil(duration / float64(c.DurationSeconds)))
	if total < 1 {
		total = 1
	}

	dir, err := c.chunkDirFor(episodeGUID)
	if err != nil {
		return nil, 0, err
	}

	var valid []Chunk
	var invalid int
	for n := 0; n < total; n++ {
		if ctx.Err() != nil {
			return nil, total, ctx.Err()
		}
		start := n * c.DurationSeconds
		out := filepath.Join(dir, fmt.Sprintf("chunk_%04d.mp3", n))

		if err := c.tc.ExtractChunk(ctx, audioPath, start, c.DurationSeconds, out); err != nil {
			if ctx.Err() != nil {
				return nil, total, ctx.Err()
			}
			c.log.Warn().Err(err).Int("chunk", n).Str("guid", episodeGUID).Msg("chunk extraction failed")
			os.Remove(out)
			invalid++
			continue
		}
		if err := c.tc.ValidateDecode(ctx, out, 3); err != nil {
			if ctx.Err() != nil {
				return nil, total, ctx.Err()
			}
			c.log.Warn().Err(err).Int("chunk", n).Str("guid", episodeGUID).Msg("chunk failed decode validation, deleting")
			os.Remove(out)
			invalid++
			continue
		}
		valid = append(valid, Chunk{Number: n, Path: out, Start: start})
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Number < valid[j].Number })

	if len(valid) < MinValidChunks(total, minValidRatio) {
		return nil, total, &pipeline.ContentError{
			Reason: "insufficient valid chunks",
			Err:    fmt.Errorf("%d of %d chunks valid, need %d", len(valid), total, MinValidChunks(total, minValidRatio)),
		}
	}
	if invalid > 0 {
		c.log.Info().Int("valid", len(valid)).Int("invalid", invalid).Str("guid", episodeGUID).
			Msg("proceeding with partial chunk set")
	}
	return valid, total, nil
}

// chunkDirFor creates the per-episode chunk directory under the mutex.
func (c *Chunker) chunkDirFor(episodeGUID string) (string, error) {
	chunkDirMu.Lock()
	defer chunkDirMu.Unlock()

	dir := filepath.Join(c.ChunkDir, guidDigest(episodeGUID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes an episode's chunk directory after a successful
// transcription. Failed episodes keep their chunks for inspection until
// retention reaps them.
func (c *Chunker) Cleanup(episodeGUID string) {
	dir := filepath.Join(c.ChunkDir, guidDigest(episodeGUID))
	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn().Err(err).Str("dir", dir).Msg("chunk cleanup failed")
	}
}
