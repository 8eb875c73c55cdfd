package reminders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/database"
)

// AppendDeliveryLog records the intent to deliver a reminder over channel.
// The row starts PENDING whatever the outcome of the delivery call.
func (s *Service) AppendDeliveryLog(ctx context.Context, tenantID, reminderID, executionID string, scheduled time.Time, channel Channel) (*Log, error) {
	const op = "reminders.append_log"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if reminderID == "" {
		return nil, apperr.Validation(op, "reminder id is required")
	}
	if channel != ChannelSMS && channel != ChannelInApp {
		return nil, apperr.Validationf(op, "unknown channel %q", channel)
	}

	now := s.now().UTC()
	l := &Log{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		ReminderID:    reminderID,
		ExecutionID:   executionID,
		ScheduledTime: scheduled.UTC(),
		Channel:       channel,
		Status:        LogPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO reminder_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID,
		l.ID,
		l.ReminderID,
		l.ExecutionID,
		database.FormatTime(l.ScheduledTime),
		sql.NullString{},
		string(l.Channel),
		string(l.Status),
		"",
		database.FormatTime(l.CreatedAt),
		database.FormatTime(l.UpdatedAt),
	)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("inserting reminder log: %w", err))
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("reminder_id", reminderID).
		Str("execution_id", executionID).
		Str("channel", string(channel)).
		Msg("Delivery log appended")

	return l, nil
}

// UpdateDeliveryLogStatus sets a log's status and actual time. feedback
// replaces the stored user feedback only when non-nil.
func (s *Service) UpdateDeliveryLogStatus(ctx context.Context, tenantID, logID string, status LogStatus, feedback *string) (*Log, error) {
	const op = "reminders.update_log"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.Validationf(op, "unknown delivery status %q", status)
	}

	now := database.FormatTime(s.now())
	query := `UPDATE reminder_logs
		SET status = ?, actual_time = ?, updated_at = ?, user_feedback = COALESCE(?, user_feedback)
		WHERE tenant_id = ? AND id = ?`

	var fb sql.NullString
	if feedback != nil {
		fb = sql.NullString{String: *feedback, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query, string(status), now, now, fb, tenantID, logID)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("updating reminder log: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFound(op, "reminder log", logID)
	}

	l, err := scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM reminder_logs WHERE tenant_id = ? AND id = ?`,
		tenantID, logID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(op, "reminder log", logID)
		}
		return nil, apperr.Persistence(op, fmt.Errorf("querying reminder log: %w", err))
	}
	return l, nil
}

// ListDeliveryLogs lists a reminder's delivery attempts, oldest first.
func (s *Service) ListDeliveryLogs(ctx context.Context, tenantID, reminderID string) ([]*Log, error) {
	const op = "reminders.list_logs"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM reminder_logs
		WHERE tenant_id = ? AND reminder_id = ?
		ORDER BY created_at ASC`,
		tenantID, reminderID)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("querying reminder logs: %w", err))
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("scanning reminder log: %w", err))
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("iterating reminder logs: %w", err))
	}
	return out, nil
}

func scanLog(row rowScanner) (*Log, error) {
	var l Log
	var channel, status, scheduled, createdAt, updatedAt string
	var actual sql.NullString

	err := row.Scan(
		&l.TenantID,
		&l.ID,
		&l.ReminderID,
		&l.ExecutionID,
		&scheduled,
		&actual,
		&channel,
		&status,
		&l.UserFeedback,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Channel = Channel(channel)
	l.Status = LogStatus(status)

	if l.ScheduledTime, err = database.ParseTime(scheduled); err != nil {
		return nil, fmt.Errorf("parsing scheduled_time: %w", err)
	}
	if l.ActualTime, err = database.ParseNullTime(actual); err != nil {
		return nil, fmt.Errorf("parsing actual_time: %w", err)
	}
	if l.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if l.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &l, nil
}
