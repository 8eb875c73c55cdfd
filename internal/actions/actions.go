// Package actions implements the caller-facing reminder protocol: one
// synchronous request per action, answered with a success/failure envelope.
package actions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/dispatch"
	"github.com/nudgehq/nudge/internal/reminders"
	"github.com/nudgehq/nudge/internal/requestctx"
	"github.com/nudgehq/nudge/internal/schedule"
	"github.com/nudgehq/nudge/internal/triggers"
)

// Action names.
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionCancel       = "cancel"
	ActionDelete       = "delete"
	ActionList         = "list"
	ActionGet          = "get"
	ActionSendReminder = "send_reminder"
)

// Defaults applied on create.
const (
	DefaultScheduleMode  = "ONE_TIME"
	DefaultScheduleValue = "0"
	DefaultSourceID      = "anonymous"
	executeFunction      = "send_reminder"
)

// Request is one action call. Which fields are read depends on Action.
type Request struct {
	Action string `json:"action"`

	ReminderID   string `json:"reminder_id,omitempty"`
	TriggerID    string `json:"trigger_id,omitempty"`
	ExecutionID  string `json:"execution_id,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`

	Type        string         `json:"type,omitempty"`
	Text        *string        `json:"text,omitempty"`
	Who         *string        `json:"who,omitempty"`
	TargetPhone *string        `json:"target_phone,omitempty"`
	Context     map[string]any `json:"context,omitempty"`

	ScheduleMode  string     `json:"schedule_mode,omitempty"`
	ScheduleValue string     `json:"schedule_value,omitempty"`
	ExpireAt      *time.Time `json:"expire_at,omitempty"`

	ActiveOnly bool `json:"active_only,omitempty"`
}

// Response is the envelope returned for every action.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// CreatedData is returned by a successful create.
type CreatedData struct {
	ReminderID string              `json:"reminder_id"`
	TriggerID  string              `json:"trigger_id"`
	Mode       schedule.Mode       `json:"schedule_mode"`
	Value      string              `json:"schedule_value"`
	NextFireAt *time.Time          `json:"next_fire_at,omitempty"`
	Reminder   *reminders.Reminder `json:"reminder"`
}

// ListData is returned by list.
type ListData struct {
	Reminders []*ReminderView `json:"reminders"`
	Count     int             `json:"count"`
}

// ReminderView is a reminder with its type description.
type ReminderView struct {
	*reminders.Reminder
	TypeDesc string `json:"type_desc"`
}

func view(r *reminders.Reminder) *ReminderView {
	return &ReminderView{Reminder: r, TypeDesc: r.Type.Description()}
}

// Dispatcher fires a trigger on demand.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID, triggerID, executionID string) dispatch.Result
}

// Handler executes actions against the reminder and trigger stores.
type Handler struct {
	db         *database.DB
	reminders  *reminders.Service
	triggers   *triggers.Store
	normalizer *schedule.Normalizer
	dispatcher Dispatcher
}

// NewHandler creates an action handler.
func NewHandler(db *database.DB, rem *reminders.Service, trig *triggers.Store, normalizer *schedule.Normalizer, dispatcher Dispatcher) *Handler {
	return &Handler{
		db:         db,
		reminders:  rem,
		triggers:   trig,
		normalizer: normalizer,
		dispatcher: dispatcher,
	}
}

// Handle runs req on behalf of p. Errors never escape; they are folded into
// a failure envelope.
func (h *Handler) Handle(ctx context.Context, p requestctx.Principal, req Request) Response {
	if p.TenantID == "" {
		return failure(apperr.Validation("actions", "tenant id is required"))
	}

	var (
		resp Response
		err  error
	)
	switch req.Action {
	case ActionCreate:
		resp, err = h.create(ctx, p, req)
	case ActionUpdate:
		resp, err = h.update(ctx, p, req)
	case ActionCancel:
		resp, err = h.cancel(ctx, p, req)
	case ActionDelete:
		resp, err = h.delete(ctx, p, req)
	case ActionList:
		resp, err = h.list(ctx, p, req)
	case ActionGet:
		resp, err = h.get(ctx, p, req)
	case ActionSendReminder:
		resp, err = h.sendReminder(ctx, p, req)
	case "":
		err = apperr.Validation("actions", "action is required")
	default:
		err = apperr.Validationf("actions", "unsupported action %q", req.Action)
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("tenant_id", p.TenantID).
			Str("user_id", p.UserID).
			Str("action", req.Action).
			Msg("Reminder action failed")
		return failure(err)
	}
	return resp
}

func failure(err error) Response {
	return Response{Success: false, Message: apperr.Message(err)}
}

func ok(message string, data any) Response {
	return Response{Success: true, Message: message, Data: data}
}
