package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	automation "powerstation-cloud/internal/automation/domain"
	devices "powerstation-cloud/internal/devices/domain"
)

// Controller issues commands to a physical device by serial number.
type Controller interface {
	SetACOutput(ctx context.Context, serial string, enabled bool) error
	SetDCOutput(ctx context.Context, serial string, enabled bool) error
	SetChargingPower(ctx context.Context, serial string, watts int) error
	SetMaxChargeSOC(ctx context.Context, serial string, percent int) error
	SetMinDischargeSOC(ctx context.Context, serial string, percent int) error
}

// Notifier delivers user-facing notification messages.
type Notifier interface {
	Send(ctx context.Context, message, channel string) error
}

// TemplateContext holds the values substituted into notification messages.
type TemplateContext struct {
	DeviceName  string
	RuleName    string
	SOC         float64
	Temperature float64
	ACInput     float64
	SolarInput  float64
}

// RenderTemplate substitutes the supported placeholders. Unrecognized
// placeholders pass through unchanged.
func RenderTemplate(message string, tc TemplateContext) string {
	replacer := strings.NewReplacer(
		"{device}", tc.DeviceName,
		"{rule}", tc.RuleName,
		"{soc}", fmt.Sprintf("%.0f", tc.SOC),
		"{temperature}", fmt.Sprintf("%.1f", tc.Temperature),
		"{acInput}", fmt.Sprintf("%.0f", tc.ACInput),
		"{solarInput}", fmt.Sprintf("%.0f", tc.SolarInput),
	)
	return replacer.Replace(message)
}

// Executor runs a rule's actions against a device.
type Executor struct {
	controller Controller
	notifier   Notifier
}

// NewExecutor constructs an executor. The notifier may be nil when no
// notification channel is configured; sendNotification actions then fail.
func NewExecutor(controller Controller, notifier Notifier) (*Executor, error) {
	if controller == nil {
		return nil, errors.New("executor: nil controller")
	}
	return &Executor{controller: controller, notifier: notifier}, nil
}

// Execute runs the actions in declaration order. A failed action records its
// error and execution continues with the next one; the engine decides what a
// partial failure means for the rule as a whole. Cancellation of ctx stops
// the device calls but the loop still visits every action so the outcome
// list always covers the full action set.
func (e *Executor) Execute(ctx context.Context, actions []automation.Action, device devices.Device, tc TemplateContext) []automation.ActionOutcome {
	outcomes := make([]automation.ActionOutcome, 0, len(actions))
	for _, action := range actions {
		outcome := automation.ActionOutcome{
			Type:    action.Type,
			Params:  action.MarshalParams(),
			Success: true,
		}
		if err := e.run(ctx, action, device, tc); err != nil {
			outcome.Success = false
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Executor) run(ctx context.Context, action automation.Action, device devices.Device, tc TemplateContext) error {
	switch action.Type {
	case automation.ActionSetACOutput:
		if action.Enabled == nil {
			return errors.New("executor: setAcOutput missing enabled")
		}
		return e.controller.SetACOutput(ctx, device.Serial, *action.Enabled)
	case automation.ActionSetDCOutput:
		if action.Enabled == nil {
			return errors.New("executor: setDcOutput missing enabled")
		}
		return e.controller.SetDCOutput(ctx, device.Serial, *action.Enabled)
	case automation.ActionSetChargingPower:
		return e.controller.SetChargingPower(ctx, device.Serial, action.Watts)
	case automation.ActionSetMaxChargeSOC:
		return e.controller.SetMaxChargeSOC(ctx, device.Serial, action.MaxSOC)
	case automation.ActionSetMinDischargeSOC:
		return e.controller.SetMinDischargeSOC(ctx, device.Serial, action.MinSOC)
	case automation.ActionSendNotification:
		if e.notifier == nil {
			return errors.New("executor: no notification channel configured")
		}
		return e.notifier.Send(ctx, RenderTemplate(action.Message, tc), action.Channel)
	default:
		return fmt.Errorf("executor: unknown action %q", action.Type)
	}
}
