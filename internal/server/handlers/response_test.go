package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge/internal/apperr"
)

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"validation", apperr.Validation("op", "text is required"), http.StatusBadRequest, "VALIDATION_ERROR", "text is required"},
		{"not found", apperr.NotFound("op", "reminder", "r1"), http.StatusNotFound, "NOT_FOUND", ""},
		{"conflict", apperr.StateConflict("op", "reminder is not active"), http.StatusConflict, "STATE_CONFLICT", "reminder is not active"},
		{"downstream", apperr.Downstream("op", errors.New("dial tcp")), http.StatusBadGateway, "DOWNSTREAM_ERROR", ""},
		{"persistence", apperr.Persistence("op", errors.New("disk I/O error")), http.StatusInternalServerError, "INTERNAL_ERROR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ErrorFrom(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Error, "disk I/O")
			if tt.msg != "" {
				assert.Equal(t, tt.msg, body.Error)
			}
		})
	}
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=-3", 50},
		{"limit=abc", 50},
		{"limit=100000", maxListLimit},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/inbox?"+tt.query, nil)
		assert.Equal(t, tt.want, queryLimit(r, 50), tt.query)
	}
}
