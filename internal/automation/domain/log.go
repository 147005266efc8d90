package automation

import (
	"encoding/json"
	"time"
)

// ActionOutcome records the result of one executed action.
type ActionOutcome struct {
	Type    ActionType      `json:"type"`
	Params  json.RawMessage `json:"params,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
}

// ExecutionLogEntry records one rule firing against one device. Entries are
// written only when a rule matched and its actions ran; quiet evaluations
// and cooldown suppressions leave no trace here.
type ExecutionLogEntry struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id"`
	RuleName        string          `json:"rule_name"`
	DeviceID        string          `json:"device_id"`
	DeviceSerial    string          `json:"device_serial,omitempty"`
	Matched         []string        `json:"matched_conditions,omitempty"`
	Failed          []string        `json:"failed_conditions,omitempty"`
	Actions         []ActionOutcome `json:"actions"`
	Success         bool            `json:"success"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ExecutionLogFilter narrows execution log queries.
type ExecutionLogFilter struct {
	RuleID   string
	DeviceID string
	Since    time.Time
	Until    time.Time
	OnlyFail bool
	Limit    int
}
