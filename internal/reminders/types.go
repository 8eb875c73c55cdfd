// Package reminders manages user-facing reminders bound to triggers and the
// log of their delivery attempts.
package reminders

import (
	"strings"
	"time"
)

// Type is the kind of reminder.
type Type string

const (
	TypeDrinkWater Type = "DRINK_WATER"
	TypeMedicine   Type = "MEDICINE"
	TypeSedentary  Type = "SEDENTARY"
	TypeMeal       Type = "MEAL"
	TypeSleep      Type = "SLEEP"
	TypeWakeUp     Type = "WAKE_UP"
	TypeCustom     Type = "CUSTOM"
	// TypeRelay is a reminder set by one user for another, usually
	// delivered by SMS.
	TypeRelay Type = "RELAY"
)

var typeDescriptions = map[Type]string{
	TypeDrinkWater: "喝水提醒",
	TypeMedicine:   "吃药提醒",
	TypeSedentary:  "久坐提醒",
	TypeMeal:       "吃饭提醒",
	TypeSleep:      "睡觉提醒",
	TypeWakeUp:     "起床提醒",
	TypeCustom:     "自定义提醒",
	TypeRelay:      "传话提醒",
}

// ParseType resolves a type name case-insensitively.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := typeDescriptions[t]
	return t, ok
}

func (t Type) Valid() bool {
	_, ok := typeDescriptions[t]
	return ok
}

// Description is the human label of the type.
func (t Type) Description() string {
	if d, ok := typeDescriptions[t]; ok {
		return d
	}
	return "提醒"
}

// Status is the lifecycle status of a reminder.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusDeleted   Status = "DELETED"
	StatusFinished  Status = "FINISHED"
)

// Content is the payload of a reminder.
type Content struct {
	Text        string         `json:"text"`
	Who         string         `json:"who,omitempty"`
	TargetPhone string         `json:"target_phone,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// Reminder is a deferred notification bound to at most one live trigger.
type Reminder struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	TargetUserID string    `json:"target_user_id"`
	TriggerID    string    `json:"trigger_id"`
	Type         Type      `json:"type"`
	Content      Content   `json:"content"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Warnings lists adjustments made to the content on the last write.
	Warnings []string `json:"warnings,omitempty"`
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

// LogStatus is the status of one delivery attempt.
type LogStatus string

const (
	LogPending   LogStatus = "PENDING"
	LogSent      LogStatus = "SENT"
	LogDelivered LogStatus = "DELIVERED"
	LogCompleted LogStatus = "COMPLETED"
	LogSkipped   LogStatus = "SKIPPED"
	LogSnoozed   LogStatus = "SNOOZED"
	LogFailed    LogStatus = "FAILED"
)

func (s LogStatus) Valid() bool {
	switch s {
	case LogPending, LogSent, LogDelivered, LogCompleted, LogSkipped, LogSnoozed, LogFailed:
		return true
	}
	return false
}

// Log records one delivery attempt of a reminder.
type Log struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	ReminderID    string     `json:"reminder_id"`
	ExecutionID   string     `json:"execution_id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	ActualTime    *time.Time `json:"actual_time,omitempty"`
	Channel       Channel    `json:"channel"`
	Status        LogStatus  `json:"status"`
	UserFeedback  string     `json:"user_feedback,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Stats counts a creator's reminders that are not deleted.
type Stats struct {
	ReminderCount int64 `json:"reminder_count"`
	RelayCount    int64 `json:"relay_count"`
}

// Timeline filters.
const (
	FilterAll      = "ALL"
	FilterReminder = "REMINDER"
	FilterRelay    = "RELAY"
)

// Timeline directions for relay reminders.
const (
	DirectionSent     = "SENT"
	DirectionReceived = "RECEIVED"
)

// TimelineItem is one reminder as seen by a particular user.
type TimelineItem struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SubType   Type      `json:"sub_type"`
	Direction string    `json:"direction,omitempty"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Who       string    `json:"who"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
