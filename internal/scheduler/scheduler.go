// Package scheduler is the in-process firing engine. It polls the trigger
// registry for due triggers, claims each one and hands it to the dispatch
// coordinator.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/dispatch"
	"github.com/nudgehq/nudge/internal/metrics"
	"github.com/nudgehq/nudge/internal/schedule"
	"github.com/nudgehq/nudge/internal/triggers"
)

// maxSkipSteps bounds how far a FIXED_RATE trigger is walked forward past
// missed slots in one go.
const maxSkipSteps = 10000

// Firer runs one firing of a trigger.
type Firer interface {
	Fire(ctx context.Context, tenantID, triggerID string, scheduled time.Time) dispatch.Result
}

// Scheduler fires due triggers.
type Scheduler struct {
	triggers *triggers.Store
	planner  *schedule.Planner
	firer    Firer
	cfg      config.SchedulerConfig
	now      func() time.Time
	lastPoll atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(store *triggers.Store, planner *schedule.Planner, firer Firer, cfg config.SchedulerConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		triggers: store,
		planner:  planner,
		firer:    firer,
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start recovers missed firings and begins background polling.
func (s *Scheduler) Start() {
	if err := s.Recover(s.ctx); err != nil {
		log.Error().Err(err).Msg("Failed to recover triggers")
	}

	s.wg.Add(1)
	go s.pollLoop(s.ctx)

	log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Int("workers", s.cfg.Workers).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Scheduler started")
}

// Stop halts polling and waits for in-flight firings.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process due triggers")
				continue
			}
			s.lastPoll.Store(s.now().UnixNano())
		}
	}
}

// LastPoll returns when the poll loop last completed a batch, or the zero
// time if it has not yet.
func (s *Scheduler) LastPoll() time.Time {
	ns := s.lastPoll.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// PollInterval returns the effective polling interval.
func (s *Scheduler) PollInterval() time.Duration {
	return s.cfg.PollInterval
}

// ProcessDue expires stale triggers, then fires one batch of due triggers
// concurrently. It returns how many firings it claimed.
func (s *Scheduler) ProcessDue(ctx context.Context) (int, error) {
	now := s.now().UTC()

	if _, err := s.triggers.ExpireDue(ctx, now); err != nil {
		return 0, fmt.Errorf("expiring triggers: %w", err)
	}

	due, err := s.triggers.Due(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("getting due triggers: %w", err)
	}

	var (
		mu      sync.Mutex
		claimed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, def := range due {
		g.Go(func() error {
			if s.fire(gctx, def) {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return claimed, nil
}

// fire claims and runs one due trigger. It reports whether the claim won.
func (s *Scheduler) fire(ctx context.Context, def *triggers.Definition) bool {
	scheduled := *def.NextFireAt
	firedAt := s.now().UTC()

	next, err := s.nextAfterClaim(def, scheduled, firedAt)
	if err != nil {
		log.Error().
			Err(err).
			Str("tenant_id", def.TenantID).
			Str("trigger_id", def.ID).
			Msg("Failed to compute next firing")
		return false
	}

	won, err := s.triggers.Claim(ctx, def, next, firedAt)
	if err != nil {
		log.Error().
			Err(err).
			Str("tenant_id", def.TenantID).
			Str("trigger_id", def.ID).
			Msg("Failed to claim trigger")
		return false
	}
	if !won {
		metrics.RecordClaimConflict()
		log.Debug().
			Str("tenant_id", def.TenantID).
			Str("trigger_id", def.ID).
			Msg("Trigger claimed elsewhere")
		return false
	}

	metrics.ObserveFiringLag(firedAt.Sub(scheduled))

	start := time.Now()
	res := s.firer.Fire(ctx, def.TenantID, def.ID, scheduled)
	metrics.RecordFiring(string(res.Status), time.Since(start))

	log.Debug().
		Str("tenant_id", def.TenantID).
		Str("trigger_id", def.ID).
		Str("execution_id", res.ExecutionID).
		Str("status", string(res.Status)).
		Str("state", string(res.State)).
		Msg("Trigger fired")

	if def.Mode == schedule.ModeFixedDelay {
		// The claim cleared next_fire_at; it must be restored even when
		// the scheduler is stopping.
		s.rescheduleAfterCompletion(context.WithoutCancel(ctx), def, scheduled)
	}
	return true
}

// nextAfterClaim returns the next firing time to store while claiming.
// FIXED_DELAY returns nil since its next time depends on completion.
func (s *Scheduler) nextAfterClaim(def *triggers.Definition, scheduled, now time.Time) (*time.Time, error) {
	switch def.Mode {
	case schedule.ModeCron:
		next, ok, err := s.planner.NextFire(def.Mode, def.Value, scheduled, now)
		if err != nil || !ok {
			return nil, err
		}
		return &next, nil

	case schedule.ModeFixedRate:
		next, err := s.skipPast(def, scheduled, now)
		if err != nil {
			return nil, err
		}
		return &next, nil

	default:
		return nil, nil
	}
}

// skipPast advances a FIXED_RATE trigger slot by slot until it lands after
// now, keeping its cadence aligned to the original schedule.
func (s *Scheduler) skipPast(def *triggers.Definition, scheduled, now time.Time) (time.Time, error) {
	next := scheduled
	for i := 0; i < maxSkipSteps; i++ {
		n, ok, err := s.planner.NextFire(def.Mode, def.Value, next, next)
		if err != nil {
			return time.Time{}, err
		}
		if !ok {
			return time.Time{}, fmt.Errorf("no next firing for %s", def.Mode)
		}
		next = n
		if next.After(now) {
			return next, nil
		}
	}

	d, err := schedule.ParseInterval(def.Value)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}

func (s *Scheduler) rescheduleAfterCompletion(ctx context.Context, def *triggers.Definition, scheduled time.Time) {
	next, ok, err := s.planner.NextFire(def.Mode, def.Value, scheduled, s.now().UTC())
	if err != nil || !ok {
		log.Error().
			Err(err).
			Str("tenant_id", def.TenantID).
			Str("trigger_id", def.ID).
			Msg("Failed to compute next fixed-delay firing")
		return
	}

	if _, err := s.triggers.Reschedule(ctx, def.TenantID, def.ID, next); err != nil {
		log.Error().
			Err(err).
			Str("tenant_id", def.TenantID).
			Str("trigger_id", def.ID).
			Msg("Failed to reschedule trigger")
	}
}
