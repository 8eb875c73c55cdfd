package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge/internal/actions"
	"github.com/nudgehq/nudge/internal/auth"
	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/dispatch"
	"github.com/nudgehq/nudge/internal/executions"
	"github.com/nudgehq/nudge/internal/inbox"
	"github.com/nudgehq/nudge/internal/notify"
	"github.com/nudgehq/nudge/internal/reminders"
	"github.com/nudgehq/nudge/internal/requestctx"
	"github.com/nudgehq/nudge/internal/schedule"
	"github.com/nudgehq/nudge/internal/server/handlers"
	"github.com/nudgehq/nudge/internal/triggers"
)

const testSecret = "server-test-secret"

type nobodyPlatform struct{}

func (nobodyPlatform) IsPlatformUser(context.Context, string, string) (bool, error) { return false, nil }
func (nobodyPlatform) SendSMS(context.Context, string, notify.SMS) error         { return nil }

type stubProbe struct{ last time.Time }

func (p stubProbe) LastPoll() time.Time          { return p.last }
func (p stubProbe) PollInterval() time.Duration { return time.Second }

type testServer struct {
	srv *Server
	jwt *auth.JWTService
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Auth.JWT.Secret = testSecret
	cfg.Server.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.Open(&cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rem := reminders.NewService(db)
	trig := triggers.NewStore(db, schedule.NewPlanner(time.UTC))
	ledger := executions.NewStore(db)
	box := inbox.NewStore(db)
	coord := dispatch.New(db, rem, trig, executions.NewRecorder(ledger), notify.NewRouter(nobodyPlatform{}, box))

	srv := New(cfg, db, Deps{
		Handlers: handlers.Deps{
			Actions:    actions.NewHandler(db, rem, trig, schedule.NewNormalizer(false), coord),
			Reminders:  rem,
			Triggers:   trig,
			Executions: ledger,
			Inbox:      box,
		},
		Scheduler: stubProbe{last: time.Now()},
		Version:   "test",
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testServer{srv: srv, jwt: auth.NewJWTService(cfg.Auth)}
}

func (ts *testServer) token(t *testing.T, user string) string {
	t.Helper()
	tok, _, err := ts.jwt.GenerateToken(requestctx.Principal{TenantID: "acme", UserID: user}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, user))
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// createReminder creates a reminder for alice through the action endpoint and
// returns its reminder and trigger ids.
func (ts *testServer) createReminder(t *testing.T) (string, string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/reminders/actions", "alice", map[string]any{
		"action":         actions.ActionCreate,
		"type":           "drink_water",
		"text":           "drink water",
		"schedule_value": "60000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.Equal(t, true, resp["success"], resp["message"])
	data := resp["data"].(map[string]any)
	return data["reminder_id"].(string), data["trigger_id"].(string)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]any)
	assert.Contains(t, components, "database")
	assert.Contains(t, components, "scheduler")
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nudge_db_connections_open")
}

func TestServer_RequiresAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/api/inbox", "/api/reminders/stats", "/api/reminders/timeline"} {
		rec := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestServer_AnonymousAllowed(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.Auth.AllowAnonymous = true })

	rec := ts.do(t, http.MethodGet, "/api/inbox", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ActionsInvalidJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reminders/actions", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "alice"))
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ActionFailureInEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/reminders/actions", "alice", map[string]any{"action": "explode"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
}

func TestServer_ReminderLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	reminderID, triggerID := ts.createReminder(t)

	rec := ts.do(t, http.MethodPost, "/api/reminders/actions", "alice", map[string]any{
		"action":      actions.ActionSendReminder,
		"reminder_id": reminderID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["success"])

	t.Run("stats", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/reminders/stats", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decode(t, rec)["reminder_count"])
	})

	t.Run("timeline", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/reminders/timeline?filter=relay", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, reminders.FilterRelay, body["filter"])
		assert.Equal(t, float64(0), body["count"])

		rec = ts.do(t, http.MethodGet, "/api/reminders/timeline?limit=5", "alice", nil)
		body = decode(t, rec)
		assert.Equal(t, float64(1), body["count"])
		assert.Equal(t, float64(5), body["limit"])
	})

	t.Run("delivery logs", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/reminders/"+reminderID+"/logs", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		require.Equal(t, float64(1), body["count"])
		entry := body["logs"].([]any)[0].(map[string]any)
		assert.Equal(t, string(reminders.ChannelInApp), entry["channel"])

		rec = ts.do(t, http.MethodGet, "/api/reminders/"+reminderID+"/logs", "mallory", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = ts.do(t, http.MethodGet, "/api/reminders/missing/logs", "alice", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("trigger executions", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/triggers/"+triggerID+"/executions", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		require.Equal(t, float64(1), body["count"])
		record := body["executions"].([]any)[0].(map[string]any)
		assert.Equal(t, string(executions.StatusSuccess), record["status"])

		rec = ts.do(t, http.MethodGet, "/api/triggers/"+triggerID+"/executions", "mallory", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("inbox", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/inbox?unread=true", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		require.Equal(t, float64(1), body["count"])
		msg := body["messages"].([]any)[0].(map[string]any)
		assert.Equal(t, "drink water", msg["text"])
		msgID := msg["id"].(string)

		rec = ts.do(t, http.MethodPost, "/api/inbox/"+msgID+"/read", "alice", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = ts.do(t, http.MethodPost, "/api/inbox/"+msgID+"/read", "alice", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = ts.do(t, http.MethodPost, "/api/inbox/"+msgID+"/read", "mallory", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = ts.do(t, http.MethodGet, "/api/inbox?unread=true", "alice", nil)
		assert.Equal(t, float64(0), decode(t, rec)["count"])
	})
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSec: 0.001, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/inbox", "alice", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodGet, "/api/inbox", "alice", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/inbox", "bob", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "", nil).Code)
}

func TestServer_StartShutdown(t *testing.T) {
	ts := newTestServer(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- ts.srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
