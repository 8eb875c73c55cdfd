package handlers

import (
	"net/http"

	"github.com/nudgehq/nudge/internal/inbox"
)

// Inbox handles GET /api/inbox.
func (h *Handlers) Inbox(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := queryLimit(r, inbox.DefaultLimit)

	msgs, err := h.inbox.List(r.Context(), p.TenantID, p.UserID, unreadOnly, limit)
	if err != nil {
		ErrorFrom(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
		"limit":    limit,
	})
}

// MarkRead handles POST /api/inbox/{id}/read.
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.inbox.MarkRead(r.Context(), p.TenantID, p.UserID, r.PathValue("id")); err != nil {
		ErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
