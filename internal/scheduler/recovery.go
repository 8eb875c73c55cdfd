package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/schedule"
	"github.com/nudgehq/nudge/internal/triggers"
)

// recoveryBatch bounds the overdue triggers inspected at startup.
const recoveryBatch = 10000

// Recover handles triggers that became due while the process was down.
// One-time triggers are left due so the first poll fires them. Recurring
// triggers fire once more when catch-up is enabled; otherwise they skip
// ahead to their next future time.
func (s *Scheduler) Recover(ctx context.Context) error {
	now := s.now().UTC()

	if err := s.replanStranded(ctx, now); err != nil {
		return err
	}

	overdue, err := s.triggers.Due(ctx, now, recoveryBatch)
	if err != nil {
		return fmt.Errorf("loading overdue triggers: %w", err)
	}

	log.Info().
		Int("count", len(overdue)).
		Bool("catchup_enabled", s.cfg.Catchup).
		Msg("Recovering overdue triggers")

	if s.cfg.Catchup {
		return nil
	}

	skipped := 0
	for _, def := range overdue {
		if !def.Mode.Recurring() {
			continue
		}

		next, err := s.nextFuture(def, now)
		if err != nil {
			log.Error().
				Err(err).
				Str("tenant_id", def.TenantID).
				Str("trigger_id", def.ID).
				Msg("Failed to recover trigger")
			continue
		}

		ok, err := s.triggers.SkipTo(ctx, def, next)
		if err != nil {
			log.Error().
				Err(err).
				Str("tenant_id", def.TenantID).
				Str("trigger_id", def.ID).
				Msg("Failed to skip missed firings")
			continue
		}
		if ok {
			skipped++
		}
	}

	if skipped > 0 {
		log.Info().Int("count", skipped).Msg("Catch-up disabled, skipped missed firings")
	}
	return nil
}

// replanStranded gives recurring triggers left without a next firing time
// a new one, counted from their last firing or from now if they never fired.
func (s *Scheduler) replanStranded(ctx context.Context, now time.Time) error {
	stranded, err := s.triggers.Stranded(ctx, recoveryBatch)
	if err != nil {
		return fmt.Errorf("loading stranded triggers: %w", err)
	}

	replanned := 0
	for _, def := range stranded {
		from := now
		if def.LastFiredAt != nil {
			from = def.LastFiredAt.UTC()
		}

		next, ok, err := s.planner.NextFire(def.Mode, def.Value, from, from)
		if err == nil && !ok {
			err = fmt.Errorf("no next firing for %s", def.Mode)
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("tenant_id", def.TenantID).
				Str("trigger_id", def.ID).
				Msg("Failed to replan stranded trigger")
			continue
		}

		changed, err := s.triggers.Reschedule(ctx, def.TenantID, def.ID, next)
		if err != nil {
			log.Error().
				Err(err).
				Str("tenant_id", def.TenantID).
				Str("trigger_id", def.ID).
				Msg("Failed to reschedule stranded trigger")
			continue
		}
		if changed {
			replanned++
			log.Warn().
				Str("tenant_id", def.TenantID).
				Str("trigger_id", def.ID).
				Time("next_fire_at", next).
				Msg("Replanned trigger that had no next firing time")
		}
	}

	if replanned > 0 {
		log.Info().Int("count", replanned).Msg("Replanned stranded triggers")
	}
	return nil
}

func (s *Scheduler) nextFuture(def *triggers.Definition, now time.Time) (time.Time, error) {
	switch def.Mode {
	case schedule.ModeFixedRate:
		return s.skipPast(def, *def.NextFireAt, now)
	default:
		next, ok, err := s.planner.FirstFire(def.Mode, def.Value, now)
		if err != nil {
			return time.Time{}, err
		}
		if !ok {
			return time.Time{}, fmt.Errorf("no next firing for %s", def.Mode)
		}
		return next, nil
	}
}
