package triggers

import (
	"encoding/json"
	"fmt"
	"time"
)

// Options holds the optional settings of a trigger. It is stored as a
// single JSON document.
type Options struct {
	EventProtocol       string            `json:"event_protocol,omitempty"`
	EventKey            string            `json:"event_key,omitempty"`
	RequireConfirmation bool              `json:"require_confirmation,omitempty"`
	ConfirmCardType     string            `json:"confirm_card_type,omitempty"`
	SessionSnapshotID   string            `json:"session_snapshot_id,omitempty"`
	GraphName           string            `json:"graph_name,omitempty"`
	AgentName           string            `json:"agent_name,omitempty"`
	MaxRetries          int               `json:"max_retries,omitempty"`
	RetryDelayMillis    int64             `json:"retry_delay_ms,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

func (o Options) RetryDelay() time.Duration {
	return time.Duration(o.RetryDelayMillis) * time.Millisecond
}

func (o Options) encode() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("marshaling options: %w", err)
	}
	return string(b), nil
}

func decodeOptions(s string) (Options, error) {
	var o Options
	if s == "" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return o, fmt.Errorf("unmarshaling options: %w", err)
	}
	return o, nil
}
