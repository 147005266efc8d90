package automation

import (
	"errors"
	"fmt"
	"time"
)

// Rule binds a condition tree and an ordered action list to a device scope.
// An empty DeviceID applies the rule to every registered device.
type Rule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	DeviceID        string     `json:"device_id,omitempty"`
	Enabled         bool       `json:"enabled"`
	Conditions      Condition  `json:"conditions"`
	Actions         []Action   `json:"actions"`
	CooldownSeconds int        `json:"cooldown_seconds"`
	Priority        int        `json:"priority"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Validate checks rule invariants. The root condition must be a group so
// the tree always has a single combining operator at the top.
func (r Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule: empty name")
	}
	if r.Conditions.Type != ConditionGroup {
		return errors.New("rule: root condition must be a group")
	}
	if err := r.Conditions.Validate(); err != nil {
		return err
	}
	if len(r.Actions) == 0 {
		return errors.New("rule: no actions")
	}
	for i, action := range r.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("rule: action %d: %w", i, err)
		}
	}
	if r.CooldownSeconds < 0 {
		return errors.New("rule: negative cooldown")
	}
	return nil
}

// Cooldown returns the rule cooldown as a duration.
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// AppliesTo reports whether the rule covers the given device.
func (r Rule) AppliesTo(deviceID string) bool {
	return r.DeviceID == "" || r.DeviceID == deviceID
}
