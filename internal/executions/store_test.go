package executions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/database"
)

func testDBExec(t *testing.T) *database.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestStore_CreateRecord(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	scheduled := time.Now().UTC().Truncate(time.Millisecond)
	id, err := store.CreateRecord(ctx, "acme", "trigger-1", scheduled)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, "trigger-1", rec.TriggerID)
	require.Equal(t, StatusPending, rec.Status)
	require.True(t, rec.ScheduledTime.Equal(scheduled))
	require.Nil(t, rec.StartTime)
	require.Nil(t, rec.EndTime)
	require.Empty(t, rec.OutputSummary)
	require.Zero(t, rec.RetryCount)

	_, err = store.CreateRecord(ctx, "", "trigger-1", scheduled)
	require.True(t, apperr.IsValidation(err))
}

func TestStore_IDsUniqueAcrossTenants(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	seen := map[string]bool{}
	for _, tenant := range []string{"acme", "globex", "acme", "globex"} {
		id, err := store.CreateRecord(ctx, tenant, "trigger-1", time.Now())
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestStore_StatusIsMonotonic(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "acme", "trigger-1", time.Now())
	require.NoError(t, err)

	changed, err := store.MarkRunning(ctx, "acme", id)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.MarkRunning(ctx, "acme", id)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = store.UpdateStatus(ctx, "acme", id, StatusSuccess, "", map[string]any{"channel": "IN_APP"})
	require.NoError(t, err)
	require.True(t, changed)

	rec, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rec.Status)
	require.NotNil(t, rec.StartTime)
	require.NotNil(t, rec.EndTime)
	require.Equal(t, "IN_APP", rec.OutputSummary["channel"])

	// Terminal records never move again.
	changed, err = store.UpdateStatus(ctx, "acme", id, StatusFailed, "late failure", nil)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = store.UpdateStatus(ctx, "acme", id, StatusRunning, "", nil)
	require.NoError(t, err)
	require.False(t, changed)

	rec, err = store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rec.Status)
	require.Empty(t, rec.ErrorMessage)

	_, err = store.UpdateStatus(ctx, "acme", id, StatusPending, "", nil)
	require.True(t, apperr.IsValidation(err))
}

func TestStore_UpdateStatusFromPending(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "acme", "trigger-1", time.Now())
	require.NoError(t, err)

	changed, err := store.UpdateStatus(ctx, "acme", id, StatusSkipped, "reminder not active", nil)
	require.NoError(t, err)
	require.True(t, changed)

	rec, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, rec.Status)
	require.Equal(t, "reminder not active", rec.ErrorMessage)
}

func TestStore_UpdateStatusOtherTenantIsSilent(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "acme", "trigger-1", time.Now())
	require.NoError(t, err)

	changed, err := store.UpdateStatus(ctx, "globex", id, StatusFailed, "boom", nil)
	require.NoError(t, err)
	require.False(t, changed)

	_, err = store.FindByID(ctx, "globex", id)
	require.True(t, apperr.IsNotFound(err))

	rec, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)

	changed, err = store.UpdateStatus(ctx, "acme", "no-such-id", StatusFailed, "", nil)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestStore_UnserializableSummaryDegrades(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "acme", "trigger-1", time.Now())
	require.NoError(t, err)

	changed, err := store.UpdateStatus(ctx, "acme", id, StatusSuccess, "", map[string]any{"bad": make(chan int)})
	require.NoError(t, err)
	require.True(t, changed)

	rec, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rec.Status)
	require.Empty(t, rec.OutputSummary)
}

func TestStore_ListByTrigger(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.CreateRecord(ctx, "acme", "trigger-1", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := store.CreateRecord(ctx, "acme", "trigger-2", base)
	require.NoError(t, err)
	_, err = store.CreateRecord(ctx, "globex", "trigger-1", base)
	require.NoError(t, err)

	records, err := store.ListByTrigger(ctx, "acme", "trigger-1", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, ids[4], records[0].ID)
	require.Equal(t, ids[3], records[1].ID)
	require.Equal(t, ids[2], records[2].ID)

	records, err = store.ListByTrigger(ctx, "acme", "trigger-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
}

func TestStore_CreateRetry(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "acme", "trigger-1", time.Now())
	require.NoError(t, err)
	first, err := store.FindByID(ctx, "acme", id)
	require.NoError(t, err)

	retryID, err := store.CreateRetry(ctx, "acme", first)
	require.NoError(t, err)
	require.NotEqual(t, id, retryID)

	retry, err := store.FindByID(ctx, "acme", retryID)
	require.NoError(t, err)
	require.Equal(t, 1, retry.RetryCount)
	require.True(t, retry.ScheduledTime.Equal(first.ScheduledTime))
}

func TestStore_Purge(t *testing.T) {
	store := NewStore(testDBExec(t))
	ctx := context.Background()

	now := time.Now().UTC()

	oldDone, err := store.CreateRecord(ctx, "acme", "trigger-1", now.Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, "acme", oldDone, StatusSuccess, "", nil)
	require.NoError(t, err)

	oldPending, err := store.CreateRecord(ctx, "acme", "trigger-1", now.Add(-48*time.Hour))
	require.NoError(t, err)

	recent, err := store.CreateRecord(ctx, "acme", "trigger-1", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, "acme", recent, StatusFailed, "", nil)
	require.NoError(t, err)

	otherTenant, err := store.CreateRecord(ctx, "globex", "trigger-1", now.Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, "globex", otherTenant, StatusSuccess, "", nil)
	require.NoError(t, err)

	n, err := store.Purge(ctx, "acme", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	records, err := store.ListByTrigger(ctx, "acme", "trigger-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].ID, records[1].ID}
	require.Contains(t, ids, oldPending)
	require.Contains(t, ids, recent)

	_, err = store.FindByID(ctx, "globex", otherTenant)
	require.NoError(t, err)
}
