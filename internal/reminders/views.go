package reminders

import (
	"context"
	"fmt"
	"strings"

	"github.com/nudgehq/nudge/internal/apperr"
)

// DefaultTimelineLimit is used when the caller gives no limit.
const DefaultTimelineLimit = 50

// Stats counts the creator's reminders that are not deleted, with relays
// counted apart.
func (s *Service) Stats(ctx context.Context, tenantID, userID string) (Stats, error) {
	const op = "reminders.stats"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return Stats{}, err
	}
	if userID == "" {
		return Stats{}, apperr.Validation(op, "user id is required")
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type != ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0)
		FROM reminders
		WHERE tenant_id = ? AND user_id = ? AND status != ?`,
		string(TypeRelay), string(TypeRelay),
		tenantID, userID, string(StatusDeleted),
	).Scan(&st.ReminderCount, &st.RelayCount)
	if err != nil {
		return Stats{}, apperr.Persistence(op, fmt.Errorf("counting reminders: %w", err))
	}
	return st, nil
}

// NormalizeFilter maps a timeline filter onto ALL, REMINDER or RELAY.
// Anything unrecognized is ALL.
func NormalizeFilter(filter string) string {
	switch f := strings.ToUpper(strings.TrimSpace(filter)); f {
	case FilterReminder, FilterRelay:
		return f
	default:
		return FilterAll
	}
}

// Timeline lists the reminders a user created or receives, newest first,
// leaving out deleted ones.
func (s *Service) Timeline(ctx context.Context, tenantID, userID, filter string, limit int) ([]TimelineItem, error) {
	const op = "reminders.timeline"
	if err := apperr.RequireTenant(op, tenantID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, apperr.Validation(op, "user id is required")
	}
	if limit == 0 {
		limit = DefaultTimelineLimit
	}
	limit = max(limit, 1)

	query := `SELECT ` + reminderColumns + ` FROM reminders
		WHERE tenant_id = ? AND (user_id = ? OR target_user_id = ?) AND status != ?`
	args := []any{tenantID, userID, userID, string(StatusDeleted)}

	switch NormalizeFilter(filter) {
	case FilterRelay:
		query += ` AND type = ?`
		args = append(args, string(TypeRelay))
	case FilterReminder:
		query += ` AND type != ?`
		args = append(args, string(TypeRelay))
	}

	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	list, err := s.list(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}

	items := make([]TimelineItem, 0, len(list))
	for _, r := range list {
		items = append(items, timelineItem(r, userID))
	}
	return items, nil
}

func timelineItem(r *Reminder, userID string) TimelineItem {
	item := TimelineItem{
		ID:        r.ID,
		Type:      FilterReminder,
		SubType:   r.Type,
		Text:      r.Content.Text,
		Who:       r.Content.Who,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}

	if r.Type == TypeRelay {
		item.Type = FilterRelay
		item.Direction = DirectionSent
		if r.TargetUserID == userID && r.UserID != userID {
			item.Direction = DirectionReceived
		}
	}

	item.Title = r.Type.Description()
	if item.Direction == DirectionReceived {
		item.Title = "收到传话"
	}
	return item
}
