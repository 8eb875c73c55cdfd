// Package handlers implements the HTTP endpoints of the reminder service.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/nudgehq/nudge/internal/actions"
	"github.com/nudgehq/nudge/internal/executions"
	"github.com/nudgehq/nudge/internal/inbox"
	"github.com/nudgehq/nudge/internal/reminders"
	"github.com/nudgehq/nudge/internal/requestctx"
	"github.com/nudgehq/nudge/internal/triggers"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

// maxListLimit caps any limit query parameter.
const maxListLimit = 500

// Handlers serves the reminder, inbox and ledger endpoints. Every handler
// expects the auth middleware to have resolved a principal.
type Handlers struct {
	actions    *actions.Handler
	reminders  *reminders.Service
	triggers   *triggers.Store
	executions *executions.Store
	inbox      *inbox.Store
}

// Deps groups what the handlers read from and write to.
type Deps struct {
	Actions    *actions.Handler
	Reminders  *reminders.Service
	Triggers   *triggers.Store
	Executions *executions.Store
	Inbox      *inbox.Store
}

func New(d Deps) *Handlers {
	return &Handlers{
		actions:    d.Actions,
		reminders:  d.Reminders,
		triggers:   d.Triggers,
		executions: d.Executions,
		inbox:      d.Inbox,
	}
}

func principal(w http.ResponseWriter, r *http.Request) (requestctx.Principal, bool) {
	p, ok := requestctx.PrincipalFrom(r.Context())
	if !ok || p.TenantID == "" {
		Unauthorized(w, "Authentication required")
		return requestctx.Principal{}, false
	}
	return p, true
}

// queryLimit reads the limit parameter, falling back to def when it is
// missing or not a positive integer.
func queryLimit(r *http.Request, def int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return def
	}
	return min(limit, maxListLimit)
}
