package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
	devices "powerstation-cloud/internal/devices/domain"
)

type stubRuleReader struct {
	rule *automation.Rule
	err  error
}

func (s stubRuleReader) GetByID(_ context.Context, _ string) (*automation.Rule, error) {
	return s.rule, s.err
}

type stubSnapshots struct {
	latest   map[string]devices.Metrics
	previous map[string]devices.Metrics
}

func (s stubSnapshots) Latest(deviceID string) (devices.Metrics, bool) {
	m, ok := s.latest[deviceID]
	return m, ok
}

func (s stubSnapshots) Previous(deviceID string) (devices.Metrics, bool) {
	m, ok := s.previous[deviceID]
	return m, ok
}

func TestTesterDryRunDoesNotTouchCooldown(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rule := testRule("rule-1", 0, base)
	rule.CooldownSeconds = 300

	cooldowns := NewMemoryCooldownStore()
	tester, err := NewTester(
		stubRuleReader{rule: &rule},
		stubSnapshots{latest: map[string]devices.Metrics{"dev-1": {SOC: 10}}},
		cooldowns,
		newFakeClock(base),
	)
	if err != nil {
		t.Fatalf("new tester: %v", err)
	}

	report, err := tester.Test(context.Background(), "rule-1", "dev-1")
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if !report.WouldTrigger {
		t.Fatalf("soc 10 should trigger the rule")
	}
	if len(report.Actions) != 1 {
		t.Fatalf("report should list the actions, got %v", report.Actions)
	}
	if _, ok := cooldowns.Last("rule-1", "dev-1"); ok {
		t.Fatalf("dry run must not write cooldown state")
	}
}

func TestTesterReportsCooldownRemaining(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rule := testRule("rule-1", 0, base)
	rule.CooldownSeconds = 300

	cooldowns := NewMemoryCooldownStore()
	cooldowns.Mark("rule-1", "dev-1", base.Add(-100*time.Second))
	tester, err := NewTester(
		stubRuleReader{rule: &rule},
		stubSnapshots{latest: map[string]devices.Metrics{"dev-1": {SOC: 10}}},
		cooldowns,
		newFakeClock(base),
	)
	if err != nil {
		t.Fatalf("new tester: %v", err)
	}
	report, err := tester.Test(context.Background(), "rule-1", "dev-1")
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if report.CooldownRemaining != 200*time.Second {
		t.Fatalf("cooldown remaining = %v, want 200s", report.CooldownRemaining)
	}
	if !report.WouldTrigger {
		t.Fatalf("cooldown advice must not change the evaluation outcome")
	}
}

func TestTesterFailedConditions(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rule := testRule("rule-1", 0, base)
	tester, err := NewTester(
		stubRuleReader{rule: &rule},
		stubSnapshots{latest: map[string]devices.Metrics{"dev-1": {SOC: 90}}},
		nil,
		newFakeClock(base),
	)
	if err != nil {
		t.Fatalf("new tester: %v", err)
	}
	report, err := tester.Test(context.Background(), "rule-1", "dev-1")
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if report.WouldTrigger {
		t.Fatalf("soc 90 should not trigger")
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed conditions missing, got %v", report.Failed)
	}
	if len(report.Actions) != 0 {
		t.Fatalf("non-matching dry run must not list actions")
	}
}

func TestTesterUnknownRule(t *testing.T) {
	tester, err := NewTester(
		stubRuleReader{},
		stubSnapshots{latest: map[string]devices.Metrics{}},
		nil,
		newFakeClock(time.Now()),
	)
	if err != nil {
		t.Fatalf("new tester: %v", err)
	}
	if _, err := tester.Test(context.Background(), "missing", "dev-1"); !errors.Is(err, automation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTesterNoSnapshot(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rule := testRule("rule-1", 0, base)
	tester, err := NewTester(
		stubRuleReader{rule: &rule},
		stubSnapshots{latest: map[string]devices.Metrics{}},
		nil,
		newFakeClock(base),
	)
	if err != nil {
		t.Fatalf("new tester: %v", err)
	}
	if _, err := tester.Test(context.Background(), "rule-1", "dev-1"); err == nil {
		t.Fatalf("expected an error without a snapshot")
	}
}

func TestTesterUnsavedRule(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	tester, err := NewTester(
		stubRuleReader{},
		stubSnapshots{latest: map[string]devices.Metrics{"dev-1": {SOC: 10}}},
		nil,
		newFakeClock(base),
	)
	if err != nil {
		t.Fatalf("new tester: %v", err)
	}
	rule := testRule("", 0, base)
	report, err := tester.TestRule(rule, "dev-1")
	if err != nil {
		t.Fatalf("test rule: %v", err)
	}
	if !report.WouldTrigger {
		t.Fatalf("unsaved rule should trigger against soc 10")
	}

	rule.Actions = nil
	if _, err := tester.TestRule(rule, "dev-1"); err == nil {
		t.Fatalf("invalid unsaved rule must be rejected")
	}
}
