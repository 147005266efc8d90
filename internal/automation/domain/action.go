package automation

import (
	"encoding/json"
	"fmt"
)

// ActionType discriminates the action union.
type ActionType string

const (
	ActionSetACOutput        ActionType = "setAcOutput"
	ActionSetDCOutput        ActionType = "setDcOutput"
	ActionSetChargingPower   ActionType = "setChargingPower"
	ActionSetMaxChargeSOC    ActionType = "setMaxChargeSoc"
	ActionSetMinDischargeSOC ActionType = "setMinDischargeSoc"
	ActionSendNotification   ActionType = "sendNotification"
)

// Device command parameter bounds enforced at the CRUD boundary.
const (
	MinChargingWatts   = 200
	MaxChargingWatts   = 2900
	MinMaxChargeSOC    = 50
	MaxMaxChargeSOC    = 100
	MinMinDischargeSOC = 0
	MaxMinDischargeSOC = 30
)

// Action is a tagged union of the commands a rule may run when it fires.
// Only the fields relevant to its type are set.
type Action struct {
	Type ActionType `json:"type"`

	// setAcOutput, setDcOutput
	Enabled *bool `json:"enabled,omitempty"`

	// setChargingPower
	Watts int `json:"watts,omitempty"`

	// setMaxChargeSoc
	MaxSOC int `json:"maxSoc,omitempty"`

	// setMinDischargeSoc
	MinSOC int `json:"minSoc,omitempty"`

	// sendNotification
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Validate checks action parameters against the device limits.
func (a Action) Validate() error {
	switch a.Type {
	case ActionSetACOutput, ActionSetDCOutput:
		if a.Enabled == nil {
			return fmt.Errorf("action: %s missing enabled", a.Type)
		}
		return nil
	case ActionSetChargingPower:
		if a.Watts < MinChargingWatts || a.Watts > MaxChargingWatts {
			return fmt.Errorf("action: charging power %d outside %d..%d", a.Watts, MinChargingWatts, MaxChargingWatts)
		}
		return nil
	case ActionSetMaxChargeSOC:
		if a.MaxSOC < MinMaxChargeSOC || a.MaxSOC > MaxMaxChargeSOC {
			return fmt.Errorf("action: max charge soc %d outside %d..%d", a.MaxSOC, MinMaxChargeSOC, MaxMaxChargeSOC)
		}
		return nil
	case ActionSetMinDischargeSOC:
		if a.MinSOC < MinMinDischargeSOC || a.MinSOC > MaxMinDischargeSOC {
			return fmt.Errorf("action: min discharge soc %d outside %d..%d", a.MinSOC, MinMinDischargeSOC, MaxMinDischargeSOC)
		}
		return nil
	case ActionSendNotification:
		if a.Message == "" {
			return fmt.Errorf("action: empty notification message")
		}
		return nil
	default:
		return fmt.Errorf("action: unknown type %q", a.Type)
	}
}

// Describe renders a short human label for logs and dry runs.
func (a Action) Describe() string {
	switch a.Type {
	case ActionSetACOutput:
		return fmt.Sprintf("setAcOutput enabled=%v", a.Enabled != nil && *a.Enabled)
	case ActionSetDCOutput:
		return fmt.Sprintf("setDcOutput enabled=%v", a.Enabled != nil && *a.Enabled)
	case ActionSetChargingPower:
		return fmt.Sprintf("setChargingPower watts=%d", a.Watts)
	case ActionSetMaxChargeSOC:
		return fmt.Sprintf("setMaxChargeSoc maxSoc=%d", a.MaxSOC)
	case ActionSetMinDischargeSOC:
		return fmt.Sprintf("setMinDischargeSoc minSoc=%d", a.MinSOC)
	case ActionSendNotification:
		return "sendNotification"
	default:
		return string(a.Type)
	}
}

// MarshalParams reports the action payload without the type tag, used by the
// execution log to keep entries compact.
func (a Action) MarshalParams() json.RawMessage {
	type params struct {
		Enabled *bool  `json:"enabled,omitempty"`
		Watts   int    `json:"watts,omitempty"`
		MaxSOC  int    `json:"maxSoc,omitempty"`
		MinSOC  int    `json:"minSoc,omitempty"`
		Message string `json:"message,omitempty"`
		Channel string `json:"channel,omitempty"`
	}
	raw, err := json.Marshal(params{
		Enabled: a.Enabled,
		Watts:   a.Watts,
		MaxSOC:  a.MaxSOC,
		MinSOC:  a.MinSOC,
		Message: a.Message,
		Channel: a.Channel,
	})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
