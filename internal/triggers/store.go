package triggers

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

const columns = `tenant_id, trigger_id, name, description, source_type, source_id,
	schedule_mode, schedule_value, execute_function, condition_function, abandon_function,
	code_snapshot, parameters, options, status, stored_status,
	expire_at, next_fire_at, last_fired_at, created_by, created_at, updated_at`

const terminalStatuses = `('CANCELED', 'EXPIRED', 'FINISHED')`

// Store handles database operations for trigger definitions. Every method
// takes the tenant explicitly; rows of other tenants are unreachable.
type Store struct {
	db      database.Querier
	planner *schedule.Planner
	now     func() time.Time
}

// NewStore creates a new trigger store.
func NewStore(db *database.DB, planner *schedule.Planner) *Store {
	if planner == nil {
		planner = schedule.NewPlanner(time.UTC)
	}
	return &Store{db: db, planner: planner, now: time.Now}
}

// WithTx returns a copy of s whose statements run inside tx.
func (s *Store) WithTx(tx *database.Tx) *Store {
	c := *s
	c.db = tx
	return &c
}

// Register inserts a new definition. Timestamps are assigned here; an ACTIVE
// definition gets its first firing time computed.
func (s *Store) Register(ctx context.Context, tenantID string, def *Definition) error {
	const op = "triggers.register"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return err
	}

	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.SourceType == "" {
		def.SourceType = SourceUser
	}
	if def.Status == "" {
		def.Status = StatusPendingActivate
	}

	if !def.SourceType.Valid() {
		return apperr.Validationf(op, "unknown source type %q", def.SourceType)
	}
	if !def.Mode.Valid() {
		return apperr.Validationf(op, "unknown schedule mode %q", def.Mode)
	}
	if !def.Status.Valid() {
		return apperr.Validationf(op, "unknown trigger status %q", def.Status)
	}
	if def.Status.Terminal() {
		return apperr.Validationf(op, "cannot register a trigger as %s", def.Status)
	}
	if err := s.planner.Validate(def.Mode, def.Value); err != nil {
		return apperr.Validationf(op, "invalid schedule value %q: %v", def.Value, err)
	}

	now := s.now().UTC()
	def.TenantID = tenantID
	def.CreatedAt = now
	def.UpdatedAt = now

	if def.Status == StatusActive && def.NextFireAt == nil {
		at, ok, err := s.planner.FirstFire(def.Mode, def.Value, now)
		if err != nil {
			return apperr.Validationf(op, "computing first firing: %v", err)
		}
		if ok {
			def.NextFireAt = &at
		}
	}

	snapshot, params, options, err := encodeDefinition(def)
	if err != nil {
		return apperr.Validation(op, err.Error())
	}
	stored, _ := ToStored(def.Status)

	query := `INSERT INTO trigger_definitions (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		tenantID,
		def.ID,
		def.Name,
		def.Description,
		string(def.SourceType),
		def.SourceID,
		string(def.Mode),
		def.Value,
		def.ExecuteFunction,
		def.ConditionFunction,
		def.AbandonFunction,
		snapshot,
		params,
		options,
		string(def.Status),
		string(stored),
		database.NullTime(def.ExpireAt),
		database.NullTime(def.NextFireAt),
		database.NullTime(def.LastFiredAt),
		def.CreatedBy,
		database.FormatTime(def.CreatedAt),
		database.FormatTime(def.UpdatedAt),
	)
	if err != nil {
		return database.ClassifyError(op, "trigger", def.ID, fmt.Errorf("inserting trigger: %w", err))
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("trigger_id", def.ID).
		Str("mode", string(def.Mode)).
		Str("status", string(def.Status)).
		Msg("Registered trigger")

	return nil
}

// FindByID retrieves a definition.
func (s *Store) FindByID(ctx context.Context, tenantID, triggerID string) (*Definition, error) {
	const op = "triggers.find"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + columns + ` FROM trigger_definitions WHERE tenant_id = ? AND trigger_id = ?`
	def, err := scanDefinition(s.db.QueryRowContext(ctx, query, tenantID, triggerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(op, "trigger", triggerID)
		}
		return nil, apperr.Persistence(op, fmt.Errorf("getting trigger: %w", err))
	}
	return def, nil
}

// FindBySource lists the definitions registered for a source.
func (s *Store) FindBySource(ctx context.Context, tenantID string, sourceType SourceType, sourceID string) ([]*Definition, error) {
	const op = "triggers.find_by_source"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + columns + ` FROM trigger_definitions
		WHERE tenant_id = ? AND source_type = ? AND source_id = ?
		ORDER BY created_at ASC`
	return s.query(ctx, op, query, tenantID, string(sourceType), sourceID)
}

// FindByStatus lists the definitions in a domain status.
func (s *Store) FindByStatus(ctx context.Context, tenantID string, status Status) ([]*Definition, error) {
	const op = "triggers.find_by_status"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + columns + ` FROM trigger_definitions
		WHERE tenant_id = ? AND status = ?
		ORDER BY created_at ASC`
	return s.query(ctx, op, query, tenantID, string(status))
}

// ListActive lists the definitions that are currently eligible to fire.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]*Definition, error) {
	return s.FindByStatus(ctx, tenantID, StatusActive)
}

// UpdateStatus moves a trigger to status with a single conditional update.
// Terminal triggers are never changed. It reports whether the row changed;
// losing a race to another transition is not an error.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, triggerID string, status Status) (bool, error) {
	const op = "triggers.update_status"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return false, err
	}

	stored, ok := ToStored(status)
	if !ok {
		return false, apperr.Validationf(op, "unknown trigger status %q", status)
	}

	now := s.now().UTC()

	var nextFire sql.NullString
	if status == StatusActive {
		def, err := s.FindByID(ctx, tenantID, triggerID)
		if err != nil {
			return false, err
		}
		at, fires, err := s.planner.FirstFire(def.Mode, def.Value, now)
		if err != nil {
			return false, apperr.Validationf(op, "computing first firing: %v", err)
		}
		if fires {
			nextFire = database.NullTime(&at)
		}
	}

	query := `UPDATE trigger_definitions
		SET status = ?, stored_status = ?, next_fire_at = ?, updated_at = ?
		WHERE tenant_id = ? AND trigger_id = ?
		  AND status != ?
		  AND status NOT IN ` + terminalStatuses

	res, err := s.db.ExecContext(ctx, query,
		string(status),
		string(stored),
		nextFire,
		database.FormatTime(now),
		tenantID,
		triggerID,
		string(status),
	)
	if err != nil {
		return false, apperr.Persistence(op, fmt.Errorf("updating trigger status: %w", err))
	}

	changed, err := s.settle(ctx, op, res, tenantID, triggerID)
	if err != nil {
		return false, err
	}

	if changed {
		log.Debug().
			Str("tenant_id", tenantID).
			Str("trigger_id", triggerID).
			Str("status", string(status)).
			Msg("Trigger status updated")
	} else {
		log.Debug().
			Str("tenant_id", tenantID).
			Str("trigger_id", triggerID).
			Str("status", string(status)).
			Msg("Trigger status unchanged")
	}

	return changed, nil
}

// Unregister physically removes a definition. Its execution history is kept.
func (s *Store) Unregister(ctx context.Context, tenantID, triggerID string) error {
	const op = "triggers.unregister"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trigger_definitions WHERE tenant_id = ? AND trigger_id = ?`,
		tenantID, triggerID,
	)
	if err != nil {
		return apperr.Persistence(op, fmt.Errorf("deleting trigger: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence(op, err)
	}
	if n == 0 {
		return apperr.NotFound(op, "trigger", triggerID)
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("trigger_id", triggerID).
		Msg("Unregistered trigger")

	return nil
}

// settle turns a zero-row conditional update into either NotFound or a
// benign no-op.
func (s *Store) settle(ctx context.Context, op string, res sql.Result, tenantID, triggerID string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM trigger_definitions WHERE tenant_id = ? AND trigger_id = ?`,
		tenantID, triggerID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.NotFound(op, "trigger", triggerID)
	}
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	return false, nil
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("querying triggers: %w", err))
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("scanning trigger row: %w", err))
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("iterating trigger rows: %w", err))
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var def Definition
	var sourceType, mode, status, storedStatus string
	var snapshot, params, options string
	var expireAt, nextFireAt, lastFiredAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&def.TenantID,
		&def.ID,
		&def.Name,
		&def.Description,
		&sourceType,
		&def.SourceID,
		&mode,
		&def.Value,
		&def.ExecuteFunction,
		&def.ConditionFunction,
		&def.AbandonFunction,
		&snapshot,
		&params,
		&options,
		&status,
		&storedStatus,
		&expireAt,
		&nextFireAt,
		&lastFiredAt,
		&def.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.SourceType = SourceType(sourceType)
	def.Mode = schedule.Mode(mode)

	def.Status = Status(status)
	if !def.Status.Valid() {
		def.Status = FromStored(StoredStatus(storedStatus))
	}

	if err := json.Unmarshal([]byte(snapshot), &def.CodeSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshaling code snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &def.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshaling parameters: %w", err)
	}
	if def.Options, err = decodeOptions(options); err != nil {
		return nil, err
	}

	if def.ExpireAt, err = database.ParseNullTime(expireAt); err != nil {
		return nil, fmt.Errorf("parsing expire_at: %w", err)
	}
	if def.NextFireAt, err = database.ParseNullTime(nextFireAt); err != nil {
		return nil, fmt.Errorf("parsing next_fire_at: %w", err)
	}
	if def.LastFiredAt, err = database.ParseNullTime(lastFiredAt); err != nil {
		return nil, fmt.Errorf("parsing last_fired_at: %w", err)
	}
	if def.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if def.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &def, nil
}

func encodeDefinition(def *Definition) (snapshot, params, options string, err error) {
	if def.CodeSnapshot == nil {
		def.CodeSnapshot = map[string]string{}
	}
	if def.Parameters == nil {
		def.Parameters = map[string]any{}
	}

	b, err := json.Marshal(def.CodeSnapshot)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling code snapshot: %w", err)
	}
	snapshot = string(b)

	b, err = json.Marshal(def.Parameters)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling parameters: %w", err)
	}
	params = string(b)

	options, err = def.Options.encode()
	if err != nil {
		return "", "", "", err
	}
	return snapshot, params, options, nil
}
