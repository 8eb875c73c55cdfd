package handlers

import (
	"net/http"
)

// defaultExecutionLimit applies when the caller gives no limit.
const defaultExecutionLimit = 50

// TriggerExecutions handles GET /api/triggers/{id}/executions, newest first.
func (h *Handlers) TriggerExecutions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	triggerID := r.PathValue("id")

	def, err := h.triggers.FindByID(r.Context(), p.TenantID, triggerID)
	if err != nil {
		ErrorFrom(w, err)
		return
	}
	if def.SourceID != p.UserID {
		NotFound(w, "trigger not found")
		return
	}

	limit := queryLimit(r, defaultExecutionLimit)
	records, err := h.executions.ListByTrigger(r.Context(), p.TenantID, triggerID, limit)
	if err != nil {
		ErrorFrom(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"trigger_id": triggerID,
		"executions": records,
		"count":      len(records),
		"limit":      limit,
	})
}
