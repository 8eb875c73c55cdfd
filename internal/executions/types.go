// Package executions is the ledger of trigger firing attempts.
package executions

import "time"

// Status represents the status of one firing attempt.
type Status string

const (
	// StatusPending indicates the record exists but the firing has not started.
	StatusPending Status = "PENDING"
	// StatusRunning indicates the firing is in progress.
	StatusRunning Status = "RUNNING"
	// StatusSuccess indicates the firing completed and delivered.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed indicates the firing failed.
	StatusFailed Status = "FAILED"
	// StatusSkipped indicates the firing was abandoned without delivering.
	StatusSkipped Status = "SKIPPED"
	// StatusTimeout indicates the firing exceeded its deadline.
	StatusTimeout Status = "TIMEOUT"
)

// Terminal reports whether s ends a record's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusTimeout:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRunning || s.Terminal()
}

// Record is one firing attempt of a trigger.
type Record struct {
	ID            string         `json:"id"`                      // Execution id, unique across tenants
	TenantID      string         `json:"tenant_id"`               // Owning tenant
	TriggerID     string         `json:"trigger_id"`              // Trigger that fired (logical reference)
	ScheduledTime time.Time      `json:"scheduled_time"`          // When the firing was due
	StartTime     *time.Time     `json:"start_time,omitempty"`    // When the firing started running
	EndTime       *time.Time     `json:"end_time,omitempty"`      // When the record last reached a terminal status
	Status        Status         `json:"status"`                  // Current status
	ErrorMessage  string         `json:"error_message,omitempty"` // Failure detail
	OutputSummary map[string]any `json:"output_summary"`          // Structured result, never nil after a read
	RetryCount    int            `json:"retry_count"`             // Number of earlier attempts for the same occurrence
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
