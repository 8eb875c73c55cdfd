package executions

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
)

// DefaultListLimit caps ListByTrigger when the caller passes no limit.
const DefaultListLimit = 50

const columns = `execution_id, tenant_id, trigger_id, scheduled_time, start_time, end_time,
	status, error_message, output_summary, retry_count, created_at, updated_at`

// Store handles database operations for execution records.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore creates a new execution store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateRecord opens a PENDING record for a firing and returns its id.
func (s *Store) CreateRecord(ctx context.Context, tenantID, triggerID string, scheduled time.Time) (string, error) {
	return s.insert(ctx, tenantID, triggerID, scheduled, 0)
}

// CreateRetry opens a new PENDING record for the same occurrence as prev
// with the retry count advanced.
func (s *Store) CreateRetry(ctx context.Context, tenantID string, prev *Record) (string, error) {
	return s.insert(ctx, tenantID, prev.TriggerID, prev.ScheduledTime, prev.RetryCount+1)
}

func (s *Store) insert(ctx context.Context, tenantID, triggerID string, scheduled time.Time, retry int) (string, error) {
	const op = "executions.create"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return "", err
	}
	if triggerID == "" {
		return "", apperr.Validation(op, "trigger id is required")
	}

	id := uuid.New().String()
	now := database.FormatTime(s.now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_execution_records (
			execution_id, tenant_id, trigger_id, scheduled_time, status,
			output_summary, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, '{}', ?, ?, ?)`,
		id,
		tenantID,
		triggerID,
		database.FormatTime(scheduled),
		string(StatusPending),
		retry,
		now,
		now,
	)
	if err != nil {
		return "", apperr.Persistence(op, fmt.Errorf("inserting execution record: %w", err))
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("trigger_id", triggerID).
		Str("execution_id", id).
		Int("retry_count", retry).
		Msg("Execution record created")

	return id, nil
}

// MarkRunning moves a PENDING record to RUNNING and stamps its start time.
func (s *Store) MarkRunning(ctx context.Context, tenantID, executionID string) (bool, error) {
	const op = "executions.mark_running"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return false, err
	}

	now := database.FormatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE trigger_execution_records
		SET status = ?, start_time = ?, updated_at = ?
		WHERE tenant_id = ? AND execution_id = ? AND status = ?`,
		string(StatusRunning), now, now,
		tenantID, executionID, string(StatusPending),
	)
	if err != nil {
		return false, apperr.Persistence(op, fmt.Errorf("marking execution running: %w", err))
	}
	return affected(op, res)
}

// UpdateStatus moves a record forward to status, stamping the end time.
// Transitions never go backward: RUNNING is reachable only from PENDING and
// terminal statuses only from PENDING or RUNNING. An execution id that
// belongs to another tenant is ignored without error. An output summary that
// cannot be encoded is stored as an empty object.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, executionID string, status Status, errorMessage string, output any) (bool, error) {
	const op = "executions.update_status"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return false, err
	}
	if status == StatusRunning {
		return s.MarkRunning(ctx, tenantID, executionID)
	}
	if !status.Terminal() {
		return false, apperr.Validationf(op, "cannot move an execution to %q", status)
	}

	now := database.FormatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE trigger_execution_records
		SET status = ?, error_message = ?, output_summary = ?, end_time = ?, updated_at = ?
		WHERE tenant_id = ? AND execution_id = ? AND status IN (?, ?)`,
		string(status),
		errorMessage,
		encodeSummary(executionID, output),
		now,
		now,
		tenantID,
		executionID,
		string(StatusPending),
		string(StatusRunning),
	)
	if err != nil {
		return false, apperr.Persistence(op, fmt.Errorf("updating execution status: %w", err))
	}

	changed, err := affected(op, res)
	if err != nil {
		return false, err
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("execution_id", executionID).
		Str("status", string(status)).
		Bool("changed", changed).
		Msg("Execution status updated")

	return changed, nil
}

// FindByID retrieves a record.
func (s *Store) FindByID(ctx context.Context, tenantID, executionID string) (*Record, error) {
	const op = "executions.find"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM trigger_execution_records WHERE tenant_id = ? AND execution_id = ?`,
		tenantID, executionID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(op, "execution", executionID)
		}
		return nil, apperr.Persistence(op, fmt.Errorf("querying execution record: %w", err))
	}
	return rec, nil
}

// ListByTrigger returns the most recent records of a trigger, newest first.
func (s *Store) ListByTrigger(ctx context.Context, tenantID, triggerID string, limit int) ([]*Record, error) {
	const op = "executions.list_by_trigger"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM trigger_execution_records
		WHERE tenant_id = ? AND trigger_id = ?
		ORDER BY scheduled_time DESC, created_at DESC
		LIMIT ?`,
		tenantID, triggerID, limit,
	)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("querying execution records: %w", err))
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("scanning execution record: %w", err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("iterating execution records: %w", err))
	}
	return records, nil
}

// Purge deletes a tenant's terminal records scheduled before cutoff. It is
// the only way records are ever removed.
func (s *Store) Purge(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	const op = "executions.purge"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM trigger_execution_records
		WHERE tenant_id = ?
		  AND scheduled_time < ?
		  AND status IN (?, ?, ?, ?)`,
		tenantID,
		database.FormatTime(cutoff),
		string(StatusSuccess), string(StatusFailed), string(StatusSkipped), string(StatusTimeout),
	)
	if err != nil {
		return 0, apperr.Persistence(op, fmt.Errorf("purging execution records: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Persistence(op, err)
	}

	log.Info().
		Str("tenant_id", tenantID).
		Int64("deleted", n).
		Time("cutoff", cutoff).
		Msg("Purged execution records")

	return n, nil
}

func affected(op string, res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	return n > 0, nil
}

func encodeSummary(executionID string, output any) string {
	if output == nil {
		return "{}"
	}
	data, err := json.Marshal(output)
	if err != nil {
		log.Warn().
			Err(err).
			Str("execution_id", executionID).
			Msg("Output summary is not serializable, storing empty summary")
		return "{}"
	}
	if string(data) == "null" {
		return "{}"
	}
	return string(data)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var status, summary string
	var scheduled, createdAt, updatedAt string
	var startTime, endTime sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.TriggerID,
		&scheduled,
		&startTime,
		&endTime,
		&status,
		&rec.ErrorMessage,
		&summary,
		&rec.RetryCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)

	// Summaries that are not JSON objects read back as empty.
	if jsonErr := json.Unmarshal([]byte(summary), &rec.OutputSummary); jsonErr != nil || rec.OutputSummary == nil {
		rec.OutputSummary = map[string]any{}
	}

	if rec.ScheduledTime, err = database.ParseTime(scheduled); err != nil {
		return nil, fmt.Errorf("parsing scheduled_time: %w", err)
	}
	if rec.StartTime, err = database.ParseNullTime(startTime); err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}
	if rec.EndTime, err = database.ParseNullTime(endTime); err != nil {
		return nil, fmt.Errorf("parsing end_time: %w", err)
	}
	if rec.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}
