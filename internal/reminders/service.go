package reminders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/schedule"
)

const reminderColumns = `tenant_id, id, user_id, target_user_id, trigger_id, type, content, status, created_at, updated_at`

const logColumns = `tenant_id, id, reminder_id, execution_id, scheduled_time, actual_time,
	channel, status, user_feedback, created_at, updated_at`

// Service handles reminders and their delivery logs. Every method takes the
// tenant explicitly.
type Service struct {
	db  database.Querier
	now func() time.Time
}

// NewService creates a new reminder service.
func NewService(db *database.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// WithTx returns a copy of s whose statements run inside tx.
func (s *Service) WithTx(tx *database.Tx) *Service {
	c := *s
	c.db = tx
	return &c
}

// CreateParams describes a new reminder. ID is optional.
type CreateParams struct {
	ID           string
	UserID       string
	TargetUserID string
	Type         Type
	Content      Content
	TriggerID    string
}

// Create persists an ACTIVE reminder. Relay reminders must carry a target
// phone; their who and text are cut to MaxRelayFieldLen.
func (s *Service) Create(ctx context.Context, tenantID string, p CreateParams) (*Reminder, error) {
	const op = "reminders.create"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, apperr.Validation(op, "user id is required")
	}
	if !p.Type.Valid() {
		return nil, apperr.Validationf(op, "unknown reminder type %q", p.Type)
	}

	content, warnings := PrepareContent(p.Type, p.Content)
	if p.Type == TypeRelay && content.TargetPhone == "" {
		return nil, apperr.Validation(op, "target_phone is required for RELAY reminders")
	}

	now := s.now().UTC()
	r := &Reminder{
		ID:           p.ID,
		TenantID:     tenantID,
		UserID:       p.UserID,
		TargetUserID: p.TargetUserID,
		TriggerID:    p.TriggerID,
		Type:         p.Type,
		Content:      content,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		Warnings:     warnings,
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.TargetUserID == "" {
		r.TargetUserID = r.UserID
	}

	contentJSON, err := json.Marshal(r.Content)
	if err != nil {
		return nil, apperr.Validationf(op, "encoding content: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO reminders (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID,
		r.ID,
		r.UserID,
		r.TargetUserID,
		r.TriggerID,
		string(r.Type),
		string(contentJSON),
		string(r.Status),
		database.FormatTime(r.CreatedAt),
		database.FormatTime(r.UpdatedAt),
	)
	if err != nil {
		return nil, database.ClassifyError(op, "reminder", r.ID, fmt.Errorf("inserting reminder: %w", err))
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("reminder_id", r.ID).
		Str("trigger_id", r.TriggerID).
		Str("user_id", r.UserID).
		Str("type", string(r.Type)).
		Msg("Reminder created")

	return r, nil
}

// Get retrieves a reminder.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*Reminder, error) {
	const op = "reminders.get"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	return s.one(ctx, op, "reminder", id,
		`SELECT `+reminderColumns+` FROM reminders WHERE tenant_id = ? AND id = ?`,
		tenantID, id)
}

// GetByTrigger retrieves the most recent reminder bound to a trigger.
func (s *Service) GetByTrigger(ctx context.Context, tenantID, triggerID string) (*Reminder, error) {
	const op = "reminders.get_by_trigger"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if triggerID == "" {
		return nil, apperr.Validation(op, "trigger id is required")
	}
	return s.one(ctx, op, "reminder for trigger", triggerID,
		`SELECT `+reminderColumns+` FROM reminders
		WHERE tenant_id = ? AND trigger_id = ?
		ORDER BY created_at DESC LIMIT 1`,
		tenantID, triggerID)
}

// ListByCreator lists every reminder a user created, newest first.
func (s *Service) ListByCreator(ctx context.Context, tenantID, userID string) ([]*Reminder, error) {
	const op = "reminders.list_by_creator"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	return s.list(ctx, op,
		`SELECT `+reminderColumns+` FROM reminders
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC`,
		tenantID, userID)
}

// ListActiveByCreator lists a user's ACTIVE reminders, newest first.
func (s *Service) ListActiveByCreator(ctx context.Context, tenantID, userID string) ([]*Reminder, error) {
	const op = "reminders.list_active"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	return s.list(ctx, op,
		`SELECT `+reminderColumns+` FROM reminders
		WHERE tenant_id = ? AND user_id = ? AND status = ?
		ORDER BY created_at DESC`,
		tenantID, userID, string(StatusActive))
}

// ListByTarget lists the reminders addressed to a user, newest first.
func (s *Service) ListByTarget(ctx context.Context, tenantID, targetUserID string) ([]*Reminder, error) {
	const op = "reminders.list_by_target"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	return s.list(ctx, op,
		`SELECT `+reminderColumns+` FROM reminders
		WHERE tenant_id = ? AND target_user_id = ?
		ORDER BY created_at DESC`,
		tenantID, targetUserID)
}

// UpdateContent replaces a reminder's content, applying the content policy
// of its type. Deleted reminders cannot be edited.
func (s *Service) UpdateContent(ctx context.Context, tenantID, id string, content Content) (*Reminder, error) {
	const op = "reminders.update_content"

	r, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusDeleted {
		return nil, apperr.NotFound(op, "reminder", id)
	}

	prepared, warnings := PrepareContent(r.Type, content)
	if r.Type == TypeRelay && prepared.TargetPhone == "" {
		return nil, apperr.Validation(op, "target_phone is required for RELAY reminders")
	}

	contentJSON, err := json.Marshal(prepared)
	if err != nil {
		return nil, apperr.Validationf(op, "encoding content: %v", err)
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE reminders
		SET content = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status != ?`,
		string(contentJSON),
		database.FormatTime(now),
		tenantID,
		id,
		string(StatusDeleted),
	)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("updating reminder content: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFound(op, "reminder", id)
	}

	r.Content = prepared
	r.UpdatedAt = now
	r.Warnings = warnings

	log.Info().
		Str("tenant_id", tenantID).
		Str("reminder_id", id).
		Msg("Reminder content updated")

	return r, nil
}

// Cancel moves an ACTIVE reminder to CANCELLED. It reports whether this call
// made the change; a reminder that already left ACTIVE is a no-op.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) (bool, error) {
	return s.transition(ctx, "reminders.cancel", tenantID, id, StatusCancelled, StatusActive)
}

// SoftDelete marks a reminder DELETED from any other status.
func (s *Service) SoftDelete(ctx context.Context, tenantID, id string) (bool, error) {
	return s.transition(ctx, "reminders.delete", tenantID, id, StatusDeleted,
		StatusActive, StatusCancelled, StatusFinished)
}

// Complete moves an ACTIVE reminder to FINISHED after its trigger fired.
// Only ONE_TIME triggers finish a reminder; any other mode is refused.
func (s *Service) Complete(ctx context.Context, tenantID, id string, mode schedule.Mode) (bool, error) {
	const op = "reminders.complete"
	if mode != schedule.ModeOneTime {
		return false, apperr.StateConflict(op, fmt.Sprintf("%s reminders do not finish after a firing", mode))
	}
	return s.transition(ctx, op, tenantID, id, StatusFinished, StatusActive)
}

// transition applies to as a single conditional update. Zero affected rows
// is NotFound when the reminder does not exist and a no-op otherwise.
func (s *Service) transition(ctx context.Context, op, tenantID, id string, to Status, from ...Status) (bool, error) {
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return false, err
	}

	query := `UPDATE reminders SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := []any{string(to), database.FormatTime(s.now()), tenantID, id}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperr.Persistence(op, fmt.Errorf("updating reminder status: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(op, err)
	}

	if n > 0 {
		log.Info().
			Str("tenant_id", tenantID).
			Str("reminder_id", id).
			Str("status", string(to)).
			Msg("Reminder status changed")
		return true, nil
	}

	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM reminders WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.NotFound(op, "reminder", id)
	}
	if err != nil {
		return false, apperr.Persistence(op, err)
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("reminder_id", id).
		Str("status", current).
		Str("wanted", string(to)).
		Msg("Reminder transition skipped")

	return false, nil
}

func (s *Service) one(ctx context.Context, op, what, key, query string, args ...any) (*Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(op, what, key)
		}
		return nil, apperr.Persistence(op, fmt.Errorf("querying reminder: %w", err))
	}
	return r, nil
}

func (s *Service) list(ctx context.Context, op, query string, args ...any) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("querying reminders: %w", err))
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("scanning reminder: %w", err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("iterating reminders: %w", err))
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var r Reminder
	var typ, status, content, createdAt, updatedAt string

	err := row.Scan(
		&r.TenantID,
		&r.ID,
		&r.UserID,
		&r.TargetUserID,
		&r.TriggerID,
		&typ,
		&content,
		&status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Type = Type(typ)
	r.Status = Status(status)

	if err := json.Unmarshal([]byte(content), &r.Content); err != nil {
		return nil, fmt.Errorf("unmarshaling content: %w", err)
	}
	if r.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &r, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
