package actions

import (
	"context"
	"errors"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/reminders"
	"github.com/nudgehq/nudge/internal/requestctx"
	"github.com/nudgehq/nudge/internal/triggers"
)

func (h *Handler) create(ctx context.Context, p requestctx.Principal, req Request) (Response, error) {
	const op = "actions.create"

	if req.Type == "" || req.Text == nil {
		return Response{}, apperr.Validation(op, "type and text are required")
	}
	typ, valid := reminders.ParseType(req.Type)
	if !valid {
		return Response{}, apperr.Validationf(op, "unsupported reminder type %q", req.Type)
	}

	content := reminders.Content{Text: *req.Text, Context: req.Context}
	if req.Who != nil {
		content.Who = *req.Who
	}
	if req.TargetPhone != nil {
		content.TargetPhone = *req.TargetPhone
	}
	if typ == reminders.TypeRelay && content.TargetPhone == "" {
		return Response{}, apperr.Validation(op, "target_phone is required for RELAY reminders")
	}

	rawMode := req.ScheduleMode
	if rawMode == "" {
		rawMode = DefaultScheduleMode
	}
	rawValue := req.ScheduleValue
	if rawValue == "" {
		rawValue = DefaultScheduleValue
	}
	mode, value, err := h.normalizer.Normalize(rawMode, rawValue)
	if err != nil {
		return Response{}, err
	}

	sourceID := p.UserID
	if sourceID == "" {
		sourceID = DefaultSourceID
	}

	def := &triggers.Definition{
		Name:            "Reminder: " + content.Text,
		Description:     typ.Description(),
		SourceType:      triggers.SourceUser,
		SourceID:        sourceID,
		Mode:            mode,
		Value:           value,
		ExecuteFunction: executeFunction,
		Parameters:      map[string]any{"reminder_type": string(typ)},
		Options:         triggers.Options{EventProtocol: "reminder"},
		Status:          triggers.StatusActive,
		ExpireAt:        req.ExpireAt,
		CreatedBy:       p.UserID,
	}
	// The trigger and its reminder are written together or not at all.
	var rem *reminders.Reminder
	err = h.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := h.triggers.WithTx(tx).Register(ctx, p.TenantID, def); err != nil {
			return err
		}
		rem, err = h.reminders.WithTx(tx).Create(ctx, p.TenantID, reminders.CreateParams{
			ID:           req.ReminderID,
			UserID:       sourceID,
			TargetUserID: req.TargetUserID,
			Type:         typ,
			Content:      content,
			TriggerID:    def.ID,
		})
		return err
	})
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Persistence(op, err)
		}
		return Response{}, err
	}

	return ok("reminder created", CreatedData{
		ReminderID: rem.ID,
		TriggerID:  def.ID,
		Mode:       def.Mode,
		Value:      def.Value,
		NextFireAt: def.NextFireAt,
		Reminder:   rem,
	}), nil
}

func (h *Handler) update(ctx context.Context, p requestctx.Principal, req Request) (Response, error) {
	const op = "actions.update"

	if req.ReminderID == "" {
		return Response{}, apperr.Validation(op, "reminder_id is required")
	}
	if req.Text == nil {
		return Response{}, apperr.Validation(op, "text is required")
	}

	rem, err := h.owned(ctx, op, p, req.ReminderID)
	if err != nil {
		return Response{}, err
	}

	content := rem.Content
	content.Text = *req.Text
	if req.Who != nil {
		content.Who = *req.Who
	}
	if req.TargetPhone != nil {
		content.TargetPhone = *req.TargetPhone
	}
	if req.Context != nil {
		content.Context = req.Context
	}

	updated, err := h.reminders.UpdateContent(ctx, p.TenantID, rem.ID, content)
	if err != nil {
		return Response{}, err
	}
	return ok("reminder updated", view(updated)), nil
}

// cancel stops a reminder and its trigger. The trigger is only touched when
// this call moved the reminder, so a reminder that finished concurrently
// keeps its finished trigger.
func (h *Handler) cancel(ctx context.Context, p requestctx.Principal, req Request) (Response, error) {
	const op = "actions.cancel"

	if req.ReminderID == "" {
		return Response{}, apperr.Validation(op, "reminder_id is required")
	}
	rem, err := h.owned(ctx, op, p, req.ReminderID)
	if err != nil {
		return Response{}, err
	}

	changed, err := h.reminders.Cancel(ctx, p.TenantID, rem.ID)
	if err != nil {
		return Response{}, err
	}
	if changed && rem.TriggerID != "" {
		if _, err := h.triggers.UpdateStatus(ctx, p.TenantID, rem.TriggerID, triggers.StatusCanceled); err != nil && !apperr.IsNotFound(err) {
			return Response{}, err
		}
	}

	msg := "reminder cancelled"
	if !changed {
		msg = "reminder was not active"
	}
	return ok(msg, map[string]any{"reminder_id": rem.ID, "changed": changed}), nil
}

func (h *Handler) delete(ctx context.Context, p requestctx.Principal, req Request) (Response, error) {
	const op = "actions.delete"

	if req.ReminderID == "" {
		return Response{}, apperr.Validation(op, "reminder_id is required")
	}
	rem, err := h.owned(ctx, op, p, req.ReminderID)
	if err != nil {
		return Response{}, err
	}
	if rem.Status == reminders.StatusDeleted {
		return Response{}, apperr.NotFound(op, "reminder", rem.ID)
	}

	if rem.TriggerID != "" {
		if err := h.triggers.Unregister(ctx, p.TenantID, rem.TriggerID); err != nil && !apperr.IsNotFound(err) {
			return Response{}, err
		}
	}

	if _, err := h.reminders.SoftDelete(ctx, p.TenantID, rem.ID); err != nil {
		return Response{}, err
	}
	return ok("reminder deleted", map[string]any{"reminder_id": rem.ID}), nil
}

func (h *Handler) list(ctx context.Context, p requestctx.Principal, req Request) (Response, error) {
	const op = "actions.list"

	if p.UserID == "" {
		return Response{}, apperr.Validation(op, "user id is required")
	}

	var (
		rems []*reminders.Reminder
		err  error
	)
	if req.ActiveOnly {
		rems, err = h.reminders.ListActiveByCreator(ctx, p.TenantID, p.UserID)
	} else {
		rems, err = h.reminders.ListByCreator(ctx, p.TenantID, p.UserID)
	}
	if err != nil {
		return Response{}, err
	}

	data := ListData{Reminders: make([]*ReminderView, 0, len(rems))}
	for _, r := range rems {
		if r.Status == reminders.StatusDeleted {
			continue
		}
		data.Reminders = append(data.Reminders, view(r))
	}
	data.Count = len(data.Reminders)
	return ok("ok", data), nil
}

func (h *Handler) get(ctx context.Context, p requestctx.Principal, req Request) (Response, error) {
	const op = "actions.get"

	if req.ReminderID == "" {
		return Response{}, apperr.Validation(op, "reminder_id is required")
	}
	rem, err := h.visible(ctx, op, p, req.ReminderID)
	if err != nil {
		return Response{}, err
	}
	return ok("ok", view(rem)), nil
}

// sendReminder fires a reminder's trigger now, naming the reminder directly
// or through its trigger. Only the reminder's creator may fire it; for
// anyone else the reminder reads as missing.
func (h *Handler) sendReminder(ctx context.Context, p requestctx.Principal, req Request) (Response, error) {
	const op = "actions.send_reminder"

	var (
		rem *reminders.Reminder
		err error
	)
	switch {
	case req.ReminderID != "":
		rem, err = h.owned(ctx, op, p, req.ReminderID)
	case req.TriggerID != "":
		rem, err = h.reminders.GetByTrigger(ctx, p.TenantID, req.TriggerID)
		if err == nil && p.UserID != "" && rem.UserID != p.UserID {
			err = apperr.NotFound(op, "reminder for trigger", req.TriggerID)
		}
	default:
		err = apperr.Validation(op, "reminder_id or trigger_id is required")
	}
	if err != nil {
		return Response{}, err
	}
	if req.TriggerID != "" && rem.TriggerID != req.TriggerID {
		return Response{}, apperr.Validation(op, "trigger_id does not belong to the reminder")
	}
	if rem.TriggerID == "" {
		return Response{}, apperr.StateConflict(op, "reminder has no trigger")
	}

	res := h.dispatcher.Dispatch(ctx, p.TenantID, rem.TriggerID, req.ExecutionID)
	if res.Success() {
		return ok("reminder sent", res), nil
	}

	msg := res.Message
	if msg == "" {
		msg = "reminder not sent"
	}
	return Response{Success: false, Message: msg, Data: res}, nil
}

// owned loads a reminder the caller created. Reminders of other users read
// as missing.
func (h *Handler) owned(ctx context.Context, op string, p requestctx.Principal, id string) (*reminders.Reminder, error) {
	rem, err := h.reminders.Get(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != "" && rem.UserID != p.UserID {
		return nil, apperr.NotFound(op, "reminder", id)
	}
	return rem, nil
}

// visible loads a reminder the caller created or receives.
func (h *Handler) visible(ctx context.Context, op string, p requestctx.Principal, id string) (*reminders.Reminder, error) {
	rem, err := h.reminders.Get(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != "" && rem.UserID != p.UserID && rem.TargetUserID != p.UserID {
		return nil, apperr.NotFound(op, "reminder", id)
	}
	if rem.Status == reminders.StatusDeleted {
		return nil, apperr.NotFound(op, "reminder", id)
	}
	return rem, nil
}
