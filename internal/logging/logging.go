// Package logging builds the process logger: console plus a rotating file,
// with warn+ events mirrored into the pipeline_logs table.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/snarg/pod-engine/internal/config"
	"github.com/snarg/pod-engine/internal/database"
)

// New builds the root logger writing to stdout and a rotating log file.
func New(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{os.Stdout}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.LogMaxSizeMB,
				MaxBackups: cfg.LogMaxBackups,
				MaxAge:     0, // age pruning is retention's job
			})
		}
	}

	return zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger().Level(level)
}

// DBHook mirrors warn-and-above events into pipeline_logs, keyed by the
// current run and phase. Inserts are best-effort with a short deadline so
// logging can never wedge a phase.
type DBHook struct {
	DB *database.DB

	mu    sync.RWMutex
	runID uuid.UUID
	phase string
}

// SetRun binds subsequent events to a run id.
func (h *DBHook) SetRun(id uuid.UUID) {
	h.mu.Lock()
	h.runID = id
	h.mu.Unlock()
}

// SetPhase tags subsequent events with the phase name.
func (h *DBHook) SetPhase(phase string) {
	h.mu.Lock()
	h.phase = phase
	h.mu.Unlock()
}

// Run implements zerolog.Hook.
func (h *DBHook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if h.DB == nil || level < zerolog.WarnLevel || message == "" {
		return
	}
	h.mu.RLock()
	runID, phase := h.runID, h.phase
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.DB.InsertLog(ctx, runID, phase, level.String(), message, nil)
}
