package engine

import (
	"context"
	"errors"
	"testing"

	automation "powerstation-cloud/internal/automation/domain"
	devices "powerstation-cloud/internal/devices/domain"
)

type recordingController struct {
	calls []string
	fail  map[string]error
}

func (c *recordingController) record(call string) error {
	c.calls = append(c.calls, call)
	if c.fail != nil {
		return c.fail[call]
	}
	return nil
}

func (c *recordingController) SetACOutput(_ context.Context, serial string, enabled bool) error {
	return c.record("ac")
}

func (c *recordingController) SetDCOutput(_ context.Context, serial string, enabled bool) error {
	return c.record("dc")
}

func (c *recordingController) SetChargingPower(_ context.Context, serial string, watts int) error {
	return c.record("charge")
}

func (c *recordingController) SetMaxChargeSOC(_ context.Context, serial string, percent int) error {
	return c.record("maxsoc")
}

func (c *recordingController) SetMinDischargeSOC(_ context.Context, serial string, percent int) error {
	return c.record("minsoc")
}

type recordingNotifier struct {
	messages []string
	channels []string
	err      error
}

func (n *recordingNotifier) Send(_ context.Context, message, channel string) error {
	n.messages = append(n.messages, message)
	n.channels = append(n.channels, channel)
	return n.err
}

func boolPtr(v bool) *bool { return &v }

func TestExecuteRunsActionsInOrder(t *testing.T) {
	controller := &recordingController{}
	executor, err := NewExecutor(controller, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	actions := []automation.Action{
		{Type: automation.ActionSetChargingPower, Watts: 600},
		{Type: automation.ActionSetACOutput, Enabled: boolPtr(true)},
		{Type: automation.ActionSetMaxChargeSOC, MaxSOC: 80},
	}
	outcomes := executor.Execute(context.Background(), actions, devices.Device{Serial: "SN1"}, TemplateContext{})
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	want := []string{"charge", "ac", "maxsoc"}
	if len(controller.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", controller.calls, want)
	}
	for i, call := range want {
		if controller.calls[i] != call {
			t.Fatalf("call %d = %q, want %q", i, controller.calls[i], call)
		}
	}
	for i, outcome := range outcomes {
		if !outcome.Success {
			t.Fatalf("outcome %d failed: %s", i, outcome.Error)
		}
	}
}

func TestExecuteContinuesPastFailures(t *testing.T) {
	controller := &recordingController{fail: map[string]error{"ac": errors.New("device busy")}}
	notifier := &recordingNotifier{}
	executor, err := NewExecutor(controller, notifier)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	actions := []automation.Action{
		{Type: automation.ActionSetACOutput, Enabled: boolPtr(false)},
		{Type: automation.ActionSendNotification, Message: "still running"},
	}
	outcomes := executor.Execute(context.Background(), actions, devices.Device{Serial: "SN1"}, TemplateContext{})
	if outcomes[0].Success {
		t.Fatalf("first action should have failed")
	}
	if outcomes[0].Error != "device busy" {
		t.Fatalf("error = %q, want %q", outcomes[0].Error, "device busy")
	}
	if !outcomes[1].Success {
		t.Fatalf("second action must run despite the first failure")
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notification not delivered")
	}
}

func TestExecuteNotificationTemplate(t *testing.T) {
	notifier := &recordingNotifier{}
	executor, err := NewExecutor(&recordingController{}, notifier)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	actions := []automation.Action{{
		Type:    automation.ActionSendNotification,
		Message: "{device} hit {soc}% while {rule} watched, solar {solarInput}W",
		Channel: "#alerts",
	}}
	tc := TemplateContext{
		DeviceName: "Garage Delta",
		RuleName:   "Low battery",
		SOC:        18,
		SolarInput: 250,
	}
	executor.Execute(context.Background(), actions, devices.Device{Serial: "SN1"}, tc)
	want := "Garage Delta hit 18% while Low battery watched, solar 250W"
	if notifier.messages[0] != want {
		t.Fatalf("message = %q, want %q", notifier.messages[0], want)
	}
	if notifier.channels[0] != "#alerts" {
		t.Fatalf("channel = %q, want #alerts", notifier.channels[0])
	}
}

func TestExecuteNotificationWithoutChannelFails(t *testing.T) {
	executor, err := NewExecutor(&recordingController{}, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	outcomes := executor.Execute(context.Background(), []automation.Action{{
		Type:    automation.ActionSendNotification,
		Message: "hello",
	}}, devices.Device{Serial: "SN1"}, TemplateContext{})
	if outcomes[0].Success {
		t.Fatalf("sendNotification must fail without a configured channel")
	}
}

func TestRenderTemplatePassesUnknownPlaceholders(t *testing.T) {
	got := RenderTemplate("{device} {unknown}", TemplateContext{DeviceName: "D1"})
	if got != "D1 {unknown}" {
		t.Fatalf("got %q", got)
	}
}
