package executions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
)

var (
	// ErrUnknownExecution means the execution id names no record in the
	// caller's tenant.
	ErrUnknownExecution = errors.New("execution record does not exist")

	// ErrExecutionClosed means the record already reached a terminal
	// status, or another caller claimed it first.
	ErrExecutionClosed = errors.New("execution record is already closed")
)

// Outcome is what a firing reports back to the ledger.
type Outcome struct {
	Status  Status
	Error   string
	Summary any
}

// Recorder brackets a firing with ledger writes: the record is opened
// PENDING, moved to RUNNING, and closed with the firing's outcome. The
// closing write ignores cancellation of ctx so a firing interrupted by
// shutdown still leaves a terminal record.
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder over store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Store returns the underlying ledger store.
func (r *Recorder) Store() *Store {
	return r.store
}

// Run records one firing of triggerID. fn receives the execution id to use
// as its correlation key. If the record cannot be opened the firing does
// not run.
func (r *Recorder) Run(
	ctx context.Context,
	tenantID string,
	triggerID string,
	scheduled time.Time,
	fn func(ctx context.Context, executionID string) Outcome,
) (string, Outcome, error) {
	id, err := r.store.CreateRecord(ctx, tenantID, triggerID, scheduled)
	if err != nil {
		return "", Outcome{}, fmt.Errorf("opening execution record: %w", err)
	}
	return id, r.start(ctx, tenantID, id, fn), nil
}

// Retry opens a new record for the occurrence of a FAILED execution, with
// its retry count advanced, and runs fn under it.
func (r *Recorder) Retry(
	ctx context.Context,
	tenantID string,
	executionID string,
	fn func(ctx context.Context, executionID string) Outcome,
) (*Record, Outcome, error) {
	const op = "executions.retry"

	prev, err := r.store.FindByID(ctx, tenantID, executionID)
	if err != nil {
		return nil, Outcome{}, err
	}
	if prev.Status != StatusFailed {
		return prev, Outcome{}, apperr.StateConflict(op, fmt.Sprintf("only FAILED executions can be retried, %s is %s", executionID, prev.Status))
	}

	id, err := r.store.CreateRetry(ctx, tenantID, prev)
	if err != nil {
		return prev, Outcome{}, fmt.Errorf("opening retry record: %w", err)
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("trigger_id", prev.TriggerID).
		Str("execution_id", id).
		Str("retry_of", prev.ID).
		Int("retry_count", prev.RetryCount+1).
		Msg("Retrying failed execution")

	return prev, r.start(ctx, tenantID, id, fn), nil
}

// Resume runs fn against a record the caller opened for triggerID. It
// returns ErrUnknownExecution when no such record exists in the tenant and
// ErrExecutionClosed when the record can no longer be run; fn is not called
// in either case. A RUNNING record is accepted as already started by its
// caller.
func (r *Recorder) Resume(
	ctx context.Context,
	tenantID string,
	triggerID string,
	executionID string,
	fn func(ctx context.Context, executionID string) Outcome,
) (Outcome, error) {
	const op = "executions.resume"

	rec, err := r.store.FindByID(ctx, tenantID, executionID)
	if apperr.IsNotFound(err) {
		return Outcome{}, ErrUnknownExecution
	}
	if err != nil {
		return Outcome{}, err
	}
	if rec.TriggerID != triggerID {
		return Outcome{}, apperr.Validationf(op, "execution %q belongs to trigger %q", executionID, rec.TriggerID)
	}

	switch {
	case rec.Status.Terminal():
		return Outcome{}, ErrExecutionClosed
	case rec.Status == StatusPending:
		won, err := r.store.MarkRunning(ctx, tenantID, executionID)
		if err != nil {
			return Outcome{}, err
		}
		if !won {
			return Outcome{}, ErrExecutionClosed
		}
	}

	return r.finish(ctx, tenantID, executionID, fn), nil
}

// start moves a freshly opened record to RUNNING and runs fn under it.
func (r *Recorder) start(ctx context.Context, tenantID, executionID string, fn func(ctx context.Context, executionID string) Outcome) Outcome {
	if _, err := r.store.MarkRunning(ctx, tenantID, executionID); err != nil {
		// The closing update also accepts PENDING.
		log.Error().Err(err).Str("execution_id", executionID).Msg("Failed to mark execution running")
	}
	return r.finish(ctx, tenantID, executionID, fn)
}

func (r *Recorder) finish(ctx context.Context, tenantID, executionID string, fn func(ctx context.Context, executionID string) Outcome) Outcome {
	out := fn(ctx, executionID)
	if !out.Status.Terminal() {
		out.Status = StatusFailed
		if out.Error == "" {
			out.Error = "firing ended without a terminal status"
		}
	}

	if _, err := r.store.UpdateStatus(context.WithoutCancel(ctx), tenantID, executionID, out.Status, out.Error, out.Summary); err != nil {
		log.Error().
			Err(err).
			Str("tenant_id", tenantID).
			Str("execution_id", executionID).
			Str("status", string(out.Status)).
			Msg("Failed to record execution outcome")
	}

	return out
}
