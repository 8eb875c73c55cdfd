// Package dispatch runs one firing of a reminder trigger: it validates the
// reminder, routes it to a channel, logs the delivery and finishes one-time
// reminders. Every firing is closed in the execution ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/executions"
	"github.com/nudgehq/nudge/internal/notify"
	"github.com/nudgehq/nudge/internal/reminders"
	"github.com/nudgehq/nudge/internal/schedule"
	"github.com/nudgehq/nudge/internal/triggers"
)

// State is how far a firing progressed.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateValidated State = "VALIDATED"
	StateRouted    State = "ROUTED"
	StateLogged    State = "LOGGED"
	StateCompleted State = "COMPLETED"
)

// Result describes the outcome of one firing.
type Result struct {
	State       State             `json:"state"`
	Status      executions.Status `json:"status"`
	TriggerID   string            `json:"trigger_id"`
	ExecutionID string            `json:"execution_id"`
	ReminderID  string            `json:"reminder_id,omitempty"`
	Channel     reminders.Channel `json:"channel,omitempty"`
	LogID       string            `json:"log_id,omitempty"`
	Delivered   bool              `json:"delivered"`
	Message     string            `json:"message,omitempty"`
}

// Success reports whether the firing delivered or attempted delivery.
func (r Result) Success() bool {
	return r.Status == executions.StatusSuccess
}

func (r Result) outcome() executions.Outcome {
	summary := map[string]any{
		"state":     string(r.State),
		"delivered": r.Delivered,
	}
	if r.Channel != "" {
		summary["channel"] = string(r.Channel)
	}
	if r.ReminderID != "" {
		summary["reminder_id"] = r.ReminderID
	}

	out := executions.Outcome{Status: r.Status, Summary: summary}
	if r.Status != executions.StatusSuccess {
		out.Error = r.Message
	}
	return out
}

// Router delivers a reminder.
type Router interface {
	Route(ctx context.Context, tenantID, executionID string, rem *reminders.Reminder) notify.Decision
}

// Coordinator runs firings. It holds no per-firing state and is safe for
// concurrent use.
type Coordinator struct {
	db        *database.DB
	reminders *reminders.Service
	triggers  *triggers.Store
	recorder  *executions.Recorder
	router    Router
}

// New creates a coordinator.
func New(db *database.DB, rem *reminders.Service, trig *triggers.Store, recorder *executions.Recorder, router Router) *Coordinator {
	return &Coordinator{
		db:        db,
		reminders: rem,
		triggers:  trig,
		recorder:  recorder,
		router:    router,
	}
}

// Dispatch fires triggerID under an execution record that the caller has
// already opened. When executionID is empty, or names no record in the
// tenant, a record is opened here instead. A record that is already closed
// is not fired again.
func (c *Coordinator) Dispatch(ctx context.Context, tenantID, triggerID, executionID string) Result {
	if err := apperr.RequireTenant("dispatch", tenantID); err != nil {
		return failed(StateReceived, triggerID, executionID, err)
	}
	if triggerID == "" {
		return failed(StateReceived, triggerID, executionID, apperr.Validation("dispatch", "trigger id is required"))
	}

	if executionID == "" {
		log.Warn().
			Str("tenant_id", tenantID).
			Str("trigger_id", triggerID).
			Msg("No execution id supplied, opening a new execution record")
		return c.Fire(ctx, tenantID, triggerID, time.Now())
	}

	var res Result
	_, err := c.recorder.Resume(ctx, tenantID, triggerID, executionID, func(ctx context.Context, id string) executions.Outcome {
		res = c.run(ctx, tenantID, triggerID, id)
		return res.outcome()
	})
	switch {
	case errors.Is(err, executions.ErrUnknownExecution):
		log.Warn().
			Str("tenant_id", tenantID).
			Str("trigger_id", triggerID).
			Str("execution_id", executionID).
			Msg("Unknown execution id, opening a new execution record")
		return c.Fire(ctx, tenantID, triggerID, time.Now())
	case errors.Is(err, executions.ErrExecutionClosed):
		log.Info().
			Str("tenant_id", tenantID).
			Str("trigger_id", triggerID).
			Str("execution_id", executionID).
			Msg("Execution already closed, not firing")
		return Result{
			State:       StateReceived,
			Status:      executions.StatusSkipped,
			TriggerID:   triggerID,
			ExecutionID: executionID,
			Message:     "execution record is already closed",
		}
	case err != nil:
		return failed(StateReceived, triggerID, executionID, err)
	}
	return res
}

// Retry fires the trigger of a FAILED execution again under a new record
// that carries the advanced retry count.
func (c *Coordinator) Retry(ctx context.Context, tenantID, executionID string) Result {
	prev, err := c.recorder.Store().FindByID(ctx, tenantID, executionID)
	if err != nil {
		return failed(StateReceived, "", executionID, err)
	}

	var res Result
	_, _, err = c.recorder.Retry(ctx, tenantID, executionID, func(ctx context.Context, id string) executions.Outcome {
		res = c.run(ctx, tenantID, prev.TriggerID, id)
		return res.outcome()
	})
	if err != nil {
		return failed(StateReceived, prev.TriggerID, executionID, err)
	}
	return res
}

// Fire opens an execution record for a firing scheduled at scheduled and
// runs it.
func (c *Coordinator) Fire(ctx context.Context, tenantID, triggerID string, scheduled time.Time) Result {
	var res Result
	id, _, err := c.recorder.Run(ctx, tenantID, triggerID, scheduled, func(ctx context.Context, id string) executions.Outcome {
		res = c.run(ctx, tenantID, triggerID, id)
		return res.outcome()
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("tenant_id", tenantID).
			Str("trigger_id", triggerID).
			Msg("Failed to open execution record")
		return failed(StateReceived, triggerID, id, err)
	}
	return res
}

func (c *Coordinator) run(ctx context.Context, tenantID, triggerID, executionID string) (res Result) {
	res = Result{State: StateReceived, TriggerID: triggerID, ExecutionID: executionID}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("tenant_id", tenantID).
				Str("trigger_id", triggerID).
				Str("execution_id", executionID).
				Interface("panic", r).
				Msg("Panic during dispatch")
			res.Status = executions.StatusFailed
			res.Message = fmt.Sprintf("panic: %v", r)
		}
	}()

	rem, mode, skip, err := c.validate(ctx, tenantID, triggerID)
	if err != nil {
		return c.fail(res, err)
	}
	if skip != "" {
		res.Status = executions.StatusSkipped
		res.Message = skip
		if rem != nil {
			res.ReminderID = rem.ID
		}
		log.Info().
			Str("tenant_id", tenantID).
			Str("trigger_id", triggerID).
			Str("execution_id", executionID).
			Str("reason", skip).
			Msg("Firing skipped")
		return res
	}
	res.State = StateValidated
	res.ReminderID = rem.ID

	decision := c.router.Route(ctx, tenantID, executionID, rem)
	res.State = StateRouted

	// Delivery was attempted; the rest must land even if ctx is cancelled.
	ctx = context.WithoutCancel(ctx)
	res.Channel = decision.Channel
	res.Delivered = decision.Delivered()
	if !res.Delivered {
		res.Message = decision.Error
	}

	entry, err := c.reminders.AppendDeliveryLog(ctx, tenantID, rem.ID, executionID, time.Now(), decision.Channel)
	if err != nil {
		return c.fail(res, err)
	}
	res.State = StateLogged
	res.LogID = entry.ID

	logStatus := reminders.LogSent
	if !res.Delivered {
		logStatus = reminders.LogFailed
	}
	if _, err := c.reminders.UpdateDeliveryLogStatus(ctx, tenantID, entry.ID, logStatus, nil); err != nil {
		log.Warn().
			Err(err).
			Str("tenant_id", tenantID).
			Str("log_id", entry.ID).
			Msg("Failed to update delivery log status")
	}

	res.Status = executions.StatusSuccess
	if mode == schedule.ModeOneTime {
		if err := c.complete(ctx, tenantID, triggerID, rem.ID, &res); err != nil {
			return c.fail(res, err)
		}
	}
	return res
}

// validate loads the reminder and trigger for a firing. A non-empty skip
// reason means the firing must not deliver.
func (c *Coordinator) validate(ctx context.Context, tenantID, triggerID string) (*reminders.Reminder, schedule.Mode, string, error) {
	rem, err := c.reminders.GetByTrigger(ctx, tenantID, triggerID)
	if apperr.IsNotFound(err) {
		return nil, "", "no reminder is bound to the trigger", nil
	}
	if err != nil {
		return nil, "", "", err
	}
	if rem.Status != reminders.StatusActive {
		return rem, "", fmt.Sprintf("reminder is %s", rem.Status), nil
	}

	def, err := c.triggers.FindByID(ctx, tenantID, triggerID)
	if apperr.IsNotFound(err) {
		return rem, "", "trigger no longer exists", nil
	}
	if err != nil {
		return nil, "", "", err
	}
	if def.Status.Terminal() {
		return rem, def.Mode, fmt.Sprintf("trigger is %s", def.Status), nil
	}
	return rem, def.Mode, "", nil
}

// complete finishes a one-time reminder and its trigger in one
// transaction, so neither is left finished without the other. Losing the
// race to a concurrent cancel leaves both untouched.
func (c *Coordinator) complete(ctx context.Context, tenantID, triggerID, reminderID string, res *Result) error {
	var changed bool
	err := c.db.Transaction(ctx, func(tx *database.Tx) error {
		var err error
		changed, err = c.reminders.WithTx(tx).Complete(ctx, tenantID, reminderID, schedule.ModeOneTime)
		if err != nil || !changed {
			return err
		}
		_, err = c.triggers.WithTx(tx).UpdateStatus(ctx, tenantID, triggerID, triggers.StatusFinished)
		if apperr.IsNotFound(err) {
			// Unregistered by a concurrent delete.
			return nil
		}
		return err
	})
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Persistence("dispatch.complete", err)
		}
		return err
	}

	if !changed {
		log.Warn().
			Str("tenant_id", tenantID).
			Str("reminder_id", reminderID).
			Msg("Reminder no longer active, not finishing")
		return nil
	}
	res.State = StateCompleted
	return nil
}

func (c *Coordinator) fail(res Result, err error) Result {
	log.Error().
		Err(err).
		Str("trigger_id", res.TriggerID).
		Str("execution_id", res.ExecutionID).
		Str("state", string(res.State)).
		Msg("Dispatch failed")
	res.Status = executions.StatusFailed
	res.Message = apperr.Message(err)
	return res
}

func failed(state State, triggerID, executionID string, err error) Result {
	return Result{
		State:       state,
		Status:      executions.StatusFailed,
		TriggerID:   triggerID,
		ExecutionID: executionID,
		Message:     apperr.Message(err),
	}
}
