// Package inbox stores in-app notifications, the target of the IN_APP
// delivery channel.
package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/database"
)

// DefaultLimit caps List when the caller gives no limit.
const DefaultLimit = 50

// Message is one in-app notification.
type Message struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	UserID      string     `json:"user_id"`
	ReminderID  string     `json:"reminder_id"`
	ExecutionID string     `json:"execution_id"`
	Who         string     `json:"who"`
	Text        string     `json:"text"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Store handles database operations for inbox messages.
type Store struct {
	db *database.DB
}

// NewStore creates a new inbox store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Deliver writes a message into a user's inbox.
func (s *Store) Deliver(ctx context.Context, tenantID string, m *Message) error {
	const op = "inbox.deliver"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return err
	}
	if m.UserID == "" {
		return apperr.Validation(op, "user id is required")
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.TenantID = tenantID
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_messages (tenant_id, id, user_id, reminder_id, execution_id, who, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID,
		m.ID,
		m.UserID,
		m.ReminderID,
		m.ExecutionID,
		m.Who,
		m.Text,
		database.FormatTime(m.CreatedAt),
	)
	if err != nil {
		return apperr.Persistence(op, fmt.Errorf("inserting inbox message: %w", err))
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("user_id", m.UserID).
		Str("reminder_id", m.ReminderID).
		Str("execution_id", m.ExecutionID).
		Msg("Inbox message delivered")

	return nil
}

// List returns a user's messages, newest first.
func (s *Store) List(ctx context.Context, tenantID, userID string, unreadOnly bool, limit int) ([]*Message, error) {
	const op = "inbox.list"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT tenant_id, id, user_id, reminder_id, execution_id, who, text, created_at, read_at
		FROM inbox_messages
		WHERE tenant_id = ? AND user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, tenantID, userID, limit)
	if err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("querying inbox: %w", err))
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var createdAt string
		var readAt sql.NullString
		if err := rows.Scan(&m.TenantID, &m.ID, &m.UserID, &m.ReminderID, &m.ExecutionID,
			&m.Who, &m.Text, &createdAt, &readAt); err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("scanning inbox message: %w", err))
		}
		if m.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("parsing created_at: %w", err))
		}
		if m.ReadAt, err = database.ParseNullTime(readAt); err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("parsing read_at: %w", err))
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, fmt.Errorf("iterating inbox: %w", err))
	}
	return out, nil
}

// MarkRead stamps a message as read. Marking it again is a no-op; a message
// of another user is not found.
func (s *Store) MarkRead(ctx context.Context, tenantID, userID, messageID string) error {
	const op = "inbox.mark_read"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE inbox_messages SET read_at = COALESCE(read_at, ?)
		WHERE tenant_id = ? AND user_id = ? AND id = ?`,
		database.Now(), tenantID, userID, messageID,
	)
	if err != nil {
		return apperr.Persistence(op, fmt.Errorf("marking inbox message read: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound(op, "message", messageID)
	}
	return nil
}
