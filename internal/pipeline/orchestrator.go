package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/snarg/pod-engine/internal/database"
	"github.com/snarg/pod-engine/internal/metrics"
)

// PhaseHook lets the logging layer tag mirrored events with the current
// phase without the orchestrator knowing about log sinks.
type PhaseHook interface {
	SetPhase(phase string)
}

// Orchestrator runs the registered phases in their fixed order. Phases
// communicate only through the store; the orchestrator passes no payload
// between them. Discovery failure is fatal; later phases that fail are
// surfaced but don't abort phases that can still make forward progress.
type Orchestrator struct {
	phases    []Phase
	stopAfter string // empty = run everything
	hook      PhaseHook
	out       io.Writer
}

func NewOrchestrator(phases []Phase, stopAfter string, hook PhaseHook, out io.Writer) *Orchestrator {
	return &Orchestrator{phases: phases, stopAfter: stopAfter, hook: hook, out: out}
}

// Run executes the phase sequence. Each phase gets stuck-episode recovery
// at its start, a starting/completed/failed/skipped event on the run
// record, and its JSON result line on stdout.
func (o *Orchestrator) Run(ctx context.Context, pc *Context) error {
	var firstFatal error

	for _, phase := range o.phases {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := phase.Name()
		if o.hook != nil {
			o.hook.SetPhase(name)
		}
		log := pc.Log.With().Str("phase", name).Logger()

		// Reclaim episodes a crashed run left in processing.
		timeout := time.Duration(pc.Settings.ProcessingTimeoutMinutes) * time.Minute
		if reclaimed, err := pc.DB.ResetStuckProcessing(ctx, timeout); err != nil {
			return fmt.Errorf("stuck-episode recovery: %w", err)
		} else if reclaimed > 0 {
			log.Warn().Int64("episodes", reclaimed).Msg("stuck processing episodes reset to pending")
		}

		if err := pc.DB.RecordPhaseEvent(ctx, pc.RunID, database.PhaseEvent{Phase: name, Event: "starting"}); err != nil {
			return fmt.Errorf("record phase event: %w", err)
		}
		log.Info().Msg("phase starting")

		start := time.Now()
		result, err := phase.Run(ctx, pc)
		metrics.PhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if result == nil {
			result = &Result{Phase: name}
		}
		if err != nil && result.Error == "" {
			result.Error = err.Error()
		}
		if o.out != nil {
			result.WriteJSON(o.out)
		}

		switch {
		case err == nil:
			event := "completed"
			if !result.Success && result.Error == "" {
				event = "skipped"
			}
			metrics.PhaseRunsTotal.WithLabelValues(name, event).Inc()
			if recErr := pc.DB.RecordPhaseEvent(ctx, pc.RunID, database.PhaseEvent{Phase: name, Event: event}); recErr != nil {
				return recErr
			}
			log.Info().Bool("partial", result.Partial).Interface("counts", result.Counts).
				Dur("elapsed", time.Since(start)).Msg("phase " + event)

		case ctx.Err() != nil:
			metrics.PhaseRunsTotal.WithLabelValues(name, "cancelled").Inc()
			_ = pc.DB.RecordPhaseEvent(ctx, pc.RunID, database.PhaseEvent{Phase: name, Event: "failed", Detail: "cancelled"})
			return ctx.Err()

		default:
			metrics.PhaseRunsTotal.WithLabelValues(name, "failed").Inc()
			if recErr := pc.DB.RecordPhaseEvent(ctx, pc.RunID, database.PhaseEvent{Phase: name, Event: "failed", Detail: err.Error()}); recErr != nil {
				return recErr
			}
			log.Error().Err(err).Msg("phase failed")

			// Discovery failure starves every later phase; abort. Any
			// other phase failure leaves work the remaining phases can
			// still pick up (the publisher can publish yesterday's
			// digests while TTS is down).
			if name == PhaseDiscovery {
				return fmt.Errorf("discovery failed: %w", err)
			}
			if firstFatal == nil {
				firstFatal = err
			}
		}

		if o.stopAfter != "" && name == o.stopAfter {
			pc.Log.Info().Str("stop_after", name).Msg("stopping after requested phase")
			break
		}
	}

	if o.hook != nil {
		o.hook.SetPhase("")
	}
	if firstFatal != nil {
		return fmt.Errorf("run completed with phase failures: %w", firstFatal)
	}
	return nil
}
