package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/actions"
	"github.com/nudgehq/nudge/internal/reminders"
)

// Actions handles POST /api/reminders/actions. Domain failures travel in the
// envelope, so the status is 200 for any request that decoded.
func (h *Handlers) Actions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req actions.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	resp := h.actions.Handle(r.Context(), p, req)
	if !resp.Success {
		log.Debug().
			Str("tenant_id", p.TenantID).
			Str("action", req.Action).
			Str("message", resp.Message).
			Msg("Reminder action rejected")
	}
	JSON(w, http.StatusOK, resp)
}

// Stats handles GET /api/reminders/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	stats, err := h.reminders.Stats(r.Context(), p.TenantID, p.UserID)
	if err != nil {
		ErrorFrom(w, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// Timeline handles GET /api/reminders/timeline.
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	filter := reminders.NormalizeFilter(r.URL.Query().Get("filter"))
	limit := queryLimit(r, reminders.DefaultTimelineLimit)

	items, err := h.reminders.Timeline(r.Context(), p.TenantID, p.UserID, filter, limit)
	if err != nil {
		ErrorFrom(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"count":  len(items),
		"filter": filter,
		"limit":  limit,
	})
}

// Logs handles GET /api/reminders/{id}/logs. Only the creator and the target
// of a reminder see its delivery history.
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	rem, err := h.reminders.Get(r.Context(), p.TenantID, id)
	if err != nil {
		ErrorFrom(w, err)
		return
	}
	if rem.UserID != p.UserID && rem.TargetUserID != p.UserID {
		NotFound(w, "reminder not found")
		return
	}

	logs, err := h.reminders.ListDeliveryLogs(r.Context(), p.TenantID, id)
	if err != nil {
		ErrorFrom(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"reminder_id": id,
		"logs":        logs,
		"count":       len(logs),
	})
}
