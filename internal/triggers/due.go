package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/database"
)

// The methods in this file serve the firing engine, which works across all
// tenants. Request paths never call them.

// Due returns ACTIVE definitions whose next firing time has passed, oldest
// first. Paused or pending triggers never appear.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]*Definition, error) {
	const op = "triggers.due"

	query := `SELECT ` + columns + ` FROM trigger_definitions
		WHERE status = 'ACTIVE'
		  AND next_fire_at IS NOT NULL
		  AND next_fire_at <= ?
		  AND (expire_at IS NULL OR expire_at > ?)
		ORDER BY next_fire_at ASC
		LIMIT ?`

	ts := database.FormatTime(now)
	return s.query(ctx, op, query, ts, ts, limit)
}

// Stranded returns ACTIVE clock-driven recurring definitions that have no
// next firing time. A FIXED_DELAY trigger is left that way between its claim and its
// completion, and stays that way if the process died in between.
func (s *Store) Stranded(ctx context.Context, limit int) ([]*Definition, error) {
	const op = "triggers.stranded"

	query := `SELECT ` + columns + ` FROM trigger_definitions
		WHERE status = 'ACTIVE'
		  AND next_fire_at IS NULL
		  AND schedule_mode IN ('CRON', 'FIXED_DELAY', 'FIXED_RATE')
		ORDER BY updated_at ASC
		LIMIT ?`

	return s.query(ctx, op, query, limit)
}

// Claim takes ownership of one due firing by moving next_fire_at off the
// value the caller observed. next is nil when the following firing can only
// be computed after this one completes. Only one concurrent claimer wins.
func (s *Store) Claim(ctx context.Context, def *Definition, next *time.Time, firedAt time.Time) (bool, error) {
	const op = "triggers.claim"
	if def.NextFireAt == nil {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE trigger_definitions
		SET next_fire_at = ?, last_fired_at = ?, updated_at = ?
		WHERE tenant_id = ? AND trigger_id = ?
		  AND status = 'ACTIVE'
		  AND next_fire_at = ?`,
		database.NullTime(next),
		database.FormatTime(firedAt),
		database.FormatTime(s.now()),
		def.TenantID,
		def.ID,
		database.FormatTime(*def.NextFireAt),
	)
	if err != nil {
		return false, apperr.Persistence(op, fmt.Errorf("claiming trigger: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	return n > 0, nil
}

// Reschedule sets the next firing time of a claimed trigger that is still
// ACTIVE and was claimed without one.
func (s *Store) Reschedule(ctx context.Context, tenantID, triggerID string, next time.Time) (bool, error) {
	const op = "triggers.reschedule"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE trigger_definitions
		SET next_fire_at = ?, updated_at = ?
		WHERE tenant_id = ? AND trigger_id = ?
		  AND status = 'ACTIVE'
		  AND next_fire_at IS NULL`,
		database.FormatTime(next),
		database.FormatTime(s.now()),
		tenantID,
		triggerID,
	)
	if err != nil {
		return false, apperr.Persistence(op, fmt.Errorf("rescheduling trigger: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	return n > 0, nil
}

// ExpireDue moves every non-terminal trigger whose expiry has passed to
// EXPIRED and returns how many changed.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	const op = "triggers.expire"

	stored, _ := ToStored(StatusExpired)
	ts := database.FormatTime(now)

	res, err := s.db.ExecContext(ctx, `UPDATE trigger_definitions
		SET status = ?, stored_status = ?, next_fire_at = NULL, updated_at = ?
		WHERE expire_at IS NOT NULL
		  AND expire_at <= ?
		  AND status NOT IN `+terminalStatuses,
		string(StatusExpired),
		string(stored),
		ts,
		ts,
	)
	if err != nil {
		return 0, apperr.Persistence(op, fmt.Errorf("expiring triggers: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Persistence(op, err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Expired triggers")
	}
	return n, nil
}

// SkipTo moves a due trigger to next without recording a firing. It only
// applies while next_fire_at still holds the value the caller observed.
func (s *Store) SkipTo(ctx context.Context, def *Definition, next time.Time) (bool, error) {
	const op = "triggers.skip"
	if def.NextFireAt == nil {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE trigger_definitions
		SET next_fire_at = ?, updated_at = ?
		WHERE tenant_id = ? AND trigger_id = ?
		  AND status = 'ACTIVE'
		  AND next_fire_at = ?`,
		database.FormatTime(next),
		database.FormatTime(s.now()),
		def.TenantID,
		def.ID,
		database.FormatTime(*def.NextFireAt),
	)
	if err != nil {
		return false, apperr.Persistence(op, fmt.Errorf("skipping trigger: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	if n > 0 {
		log.Debug().
			Str("tenant_id", def.TenantID).
			Str("trigger_id", def.ID).
			Time("next_fire_at", next).
			Msg("Skipped missed firings")
	}
	return n > 0, nil
}
