package reminders

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/schedule"
)

func testService(t *testing.T) *Service {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(db)
}

func createWater(t *testing.T, svc *Service, tenant, user, trigger string) *Reminder {
	t.Helper()
	r, err := svc.Create(context.Background(), tenant, CreateParams{
		UserID:    user,
		Type:      TypeDrinkWater,
		Content:   Content{Text: "drink water"},
		TriggerID: trigger,
	})
	require.NoError(t, err)
	return r
}

func TestService_Create(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	r := createWater(t, svc, "acme", "u1", "t1")
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "u1", r.TargetUserID)
	assert.Equal(t, StatusActive, r.Status)

	got, err := svc.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, "drink water", got.Content.Text)
	assert.Equal(t, "t1", got.TriggerID)

	byTrigger, err := svc.GetByTrigger(ctx, "acme", "t1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byTrigger.ID)

	_, err = svc.Create(ctx, "acme", CreateParams{ID: r.ID, UserID: "u1", Type: TypeMeal})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, "acme", CreateParams{UserID: "u1", Type: Type("BIRTHDAY")})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, "", CreateParams{UserID: "u1", Type: TypeMeal})
	assert.True(t, apperr.IsValidation(err))
}

func TestService_CreateRelay(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "acme", CreateParams{
		UserID:  "u1",
		Type:    TypeRelay,
		Content: Content{Text: "call me"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	r, err := svc.Create(ctx, "acme", CreateParams{
		UserID:       "u1",
		TargetUserID: "u2",
		Type:         TypeRelay,
		Content: Content{
			Text:        strings.Repeat("x", 30),
			Who:         strings.Repeat("y", 25),
			TargetPhone: "13800000000",
		},
	})
	require.NoError(t, err)
	assert.Len(t, r.Warnings, 2)

	got, err := svc.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 20), got.Content.Text)
	assert.Equal(t, strings.Repeat("y", 20), got.Content.Who)
}

func TestService_TenantIsolation(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	r := createWater(t, svc, "acme", "u1", "t1")

	_, err := svc.Get(ctx, "globex", r.ID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.Cancel(ctx, "globex", r.ID)
	assert.True(t, apperr.IsNotFound(err))

	got, err := svc.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestService_Lists(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	a := createWater(t, svc, "acme", "u1", "t1")
	b := createWater(t, svc, "acme", "u1", "t2")
	_, err := svc.Create(ctx, "acme", CreateParams{
		UserID:       "u2",
		TargetUserID: "u1",
		Type:         TypeRelay,
		Content:      Content{Text: "hi", TargetPhone: "1"},
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "acme", a.ID)
	require.NoError(t, err)

	all, err := svc.ListByCreator(ctx, "acme", "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := svc.ListActiveByCreator(ctx, "acme", "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	received, err := svc.ListByTarget(ctx, "acme", "u1")
	require.NoError(t, err)
	assert.Len(t, received, 3)
}

func TestService_TransitionsAreIdempotent(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	r := createWater(t, svc, "acme", "u1", "t1")

	changed, err := svc.Complete(ctx, "acme", r.ID, schedule.ModeOneTime)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.Complete(ctx, "acme", r.ID, schedule.ModeOneTime)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := svc.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)

	// A finished reminder cannot be cancelled, only deleted.
	changed, err = svc.Cancel(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = svc.SoftDelete(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.SoftDelete(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = svc.Cancel(ctx, "acme", "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestService_CompleteOnlyForOneTime(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	r := createWater(t, svc, "acme", "u1", "t1")

	for _, mode := range []schedule.Mode{schedule.ModeCron, schedule.ModeFixedDelay, schedule.ModeFixedRate} {
		_, err := svc.Complete(ctx, "acme", r.ID, mode)
		assert.True(t, apperr.IsStateConflict(err), mode)
	}

	got, err := svc.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestService_CancelRacesComplete(t *testing.T) {
	for i := 0; i < 10; i++ {
		svc := testService(t)
		ctx := context.Background()
		r := createWater(t, svc, "acme", "u1", "t1")

		var wg sync.WaitGroup
		var cancelled, completed bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			var err error
			cancelled, err = svc.Cancel(ctx, "acme", r.ID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			var err error
			completed, err = svc.Complete(ctx, "acme", r.ID, schedule.ModeOneTime)
			assert.NoError(t, err)
		}()
		wg.Wait()

		assert.NotEqual(t, cancelled, completed)

		got, err := svc.Get(ctx, "acme", r.ID)
		require.NoError(t, err)
		if cancelled {
			assert.Equal(t, StatusCancelled, got.Status)
		} else {
			assert.Equal(t, StatusFinished, got.Status)
		}
	}
}

func TestService_UpdateContent(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	relay, err := svc.Create(ctx, "acme", CreateParams{
		UserID:  "u1",
		Type:    TypeRelay,
		Content: Content{Text: "short", TargetPhone: "1"},
	})
	require.NoError(t, err)

	updated, err := svc.UpdateContent(ctx, "acme", relay.ID, Content{
		Text:        strings.Repeat("z", 22),
		TargetPhone: "2",
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("z", 20), updated.Content.Text)
	assert.Equal(t, DefaultWho, updated.Content.Who)
	assert.Len(t, updated.Warnings, 1)

	_, err = svc.UpdateContent(ctx, "acme", relay.ID, Content{Text: "no phone"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.SoftDelete(ctx, "acme", relay.ID)
	require.NoError(t, err)
	_, err = svc.UpdateContent(ctx, "acme", relay.ID, Content{Text: "x", TargetPhone: "1"})
	assert.True(t, apperr.IsNotFound(err))
}
