package tts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Progress records which chunk numbers of an in-flight digest have been
// rendered, so a crashed run resumes without re-spending on finished
// chunks. Stored as JSON next to the chunk files in the per-digest temp
// directory; removed with that directory on success.
type Progress struct {
	DigestID  int64 `json:"digest_id"`
	Completed []int `json:"completed_chunks"`

	path string
	done map[int]bool
}

// LoadProgress reads the digest's progress file, returning an empty record
// when none exists yet.
func LoadProgress(dir string, digestID int64) (*Progress, error) {
	p := &Progress{
		DigestID: digestID,
		path:     filepath.Join(dir, "progress.json"),
		done:     make(map[int]bool),
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		// A torn write from a crash mid-save: start over rather than fail.
		return &Progress{DigestID: digestID, path: p.path, done: make(map[int]bool)}, nil
	}
	if p.DigestID != digestID {
		return &Progress{DigestID: digestID, path: p.path, done: make(map[int]bool)}, nil
	}
	for _, n := range p.Completed {
		p.done[n] = true
	}
	return p, nil
}

// Done reports whether the chunk was already rendered by a prior run.
func (p *Progress) Done(chunk int) bool { return p.done[chunk] }

// MarkDone records the chunk and persists the file via write-then-rename.
func (p *Progress) MarkDone(chunk int) error {
	if p.done[chunk] {
		return nil
	}
	p.done[chunk] = true
	p.Completed = append(p.Completed, chunk)
	sort.Ints(p.Completed)

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit progress file: %w", err)
	}
	return nil
}
