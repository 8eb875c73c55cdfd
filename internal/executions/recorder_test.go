package executions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge/internal/apperr"
)

func TestRecorder_Run(t *testing.T) {
	store := NewStore(testDBExec(t))
	recorder := NewRecorder(store)
	ctx := context.Background()

	var seenStatus Status
	id, out, err := recorder.Run(ctx, "acme", "trigger-1", time.Now(), func(ctx context.Context, executionID string) Outcome {
		rec, err := store.FindByID(ctx, "acme", executionID)
		require.NoError(t, err)
		seenStatus = rec.Status
		return Outcome{Status: StatusSuccess, Summary: map[string]any{"channel": "SMS"}}
	})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, seenStatus)
	require.Equal(t, StatusSuccess, out.Status)

	rec, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rec.Status)
	require.Equal(t, "SMS", rec.OutputSummary["channel"])
}

func TestRecorder_NonTerminalOutcomeFails(t *testing.T) {
	store := NewStore(testDBExec(t))
	recorder := NewRecorder(store)
	ctx := context.Background()

	id, out, err := recorder.Run(ctx, "acme", "trigger-1", time.Now(), func(ctx context.Context, executionID string) Outcome {
		return Outcome{}
	})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, out.Status)

	rec, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rec.Status)
	require.NotEmpty(t, rec.ErrorMessage)
}

func TestRecorder_RequiresTenant(t *testing.T) {
	recorder := NewRecorder(NewStore(testDBExec(t)))

	called := false
	_, _, err := recorder.Run(context.Background(), "", "trigger-1", time.Now(), func(ctx context.Context, executionID string) Outcome {
		called = true
		return Outcome{Status: StatusSuccess}
	})
	require.Error(t, err)
	require.False(t, called)
}

func TestRecorder_Resume(t *testing.T) {
	store := NewStore(testDBExec(t))
	recorder := NewRecorder(store)
	ctx := context.Background()

	succeed := func(called *bool) func(context.Context, string) Outcome {
		return func(context.Context, string) Outcome {
			*called = true
			return Outcome{Status: StatusSuccess}
		}
	}

	t.Run("pending record runs", func(t *testing.T) {
		id, err := store.CreateRecord(ctx, "acme", "trigger-1", time.Now())
		require.NoError(t, err)

		var called bool
		out, err := recorder.Resume(ctx, "acme", "trigger-1", id, succeed(&called))
		require.NoError(t, err)
		require.True(t, called)
		require.Equal(t, StatusSuccess, out.Status)

		rec, err := store.FindByID(ctx, "acme", id)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, rec.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		var called bool
		_, err := recorder.Resume(ctx, "acme", "trigger-1", "no-such-execution", succeed(&called))
		require.ErrorIs(t, err, ErrUnknownExecution)
		require.False(t, called)
	})

	t.Run("other tenant reads as unknown", func(t *testing.T) {
		id, err := store.CreateRecord(ctx, "globex", "trigger-1", time.Now())
		require.NoError(t, err)

		var called bool
		_, err = recorder.Resume(ctx, "acme", "trigger-1", id, succeed(&called))
		require.ErrorIs(t, err, ErrUnknownExecution)
		require.False(t, called)

		rec, err := store.FindByID(ctx, "globex", id)
		require.NoError(t, err)
		require.Equal(t, StatusPending, rec.Status)
	})

	t.Run("closed record is not rerun", func(t *testing.T) {
		id, err := store.CreateRecord(ctx, "acme", "trigger-1", time.Now())
		require.NoError(t, err)
		_, err = store.UpdateStatus(ctx, "acme", id, StatusFailed, "boom", nil)
		require.NoError(t, err)

		var called bool
		_, err = recorder.Resume(ctx, "acme", "trigger-1", id, succeed(&called))
		require.ErrorIs(t, err, ErrExecutionClosed)
		require.False(t, called)

		rec, err := store.FindByID(ctx, "acme", id)
		require.NoError(t, err)
		require.Equal(t, StatusFailed, rec.Status)
	})

	t.Run("record of another trigger", func(t *testing.T) {
		id, err := store.CreateRecord(ctx, "acme", "trigger-2", time.Now())
		require.NoError(t, err)

		var called bool
		_, err = recorder.Resume(ctx, "acme", "trigger-1", id, succeed(&called))
		require.True(t, apperr.IsValidation(err))
		require.False(t, called)
	})
}

func TestRecorder_ClosesRecordAfterCancel(t *testing.T) {
	store := NewStore(testDBExec(t))
	recorder := NewRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	id, out, err := recorder.Run(ctx, "acme", "trigger-1", time.Now(), func(context.Context, string) Outcome {
		cancel()
		return Outcome{Status: StatusFailed, Error: "interrupted"}
	})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, out.Status)

	rec, err := store.FindByID(context.Background(), "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, "interrupted", rec.ErrorMessage)
	require.NotNil(t, rec.EndTime)
}

func TestRecorder_Retry(t *testing.T) {
	store := NewStore(testDBExec(t))
	recorder := NewRecorder(store)
	ctx := context.Background()

	failedID, _, err := recorder.Run(ctx, "acme", "trigger-1", time.Now(), func(context.Context, string) Outcome {
		return Outcome{Status: StatusFailed, Error: "store unavailable"}
	})
	require.NoError(t, err)

	var retryID string
	prev, out, err := recorder.Retry(ctx, "acme", failedID, func(_ context.Context, id string) Outcome {
		retryID = id
		return Outcome{Status: StatusSuccess}
	})
	require.NoError(t, err)
	require.Equal(t, failedID, prev.ID)
	require.Equal(t, StatusSuccess, out.Status)
	require.NotEqual(t, failedID, retryID)

	retry, err := store.FindByID(ctx, "acme", retryID)
	require.NoError(t, err)
	require.Equal(t, 1, retry.RetryCount)
	require.Equal(t, "trigger-1", retry.TriggerID)
	require.Equal(t, StatusSuccess, retry.Status)

	_, _, err = recorder.Retry(ctx, "acme", retryID, func(context.Context, string) Outcome {
		t.Fatal("a successful execution must not be retried")
		return Outcome{}
	})
	require.True(t, apperr.IsStateConflict(err))

	_, _, err = recorder.Retry(ctx, "acme", "missing", func(context.Context, string) Outcome { return Outcome{} })
	require.True(t, apperr.IsNotFound(err))
}
