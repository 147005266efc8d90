package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
	devices "powerstation-cloud/internal/devices/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubRuleSource struct {
	rules     []automation.Rule
	listErr   error
	triggered []string
}

func (s *stubRuleSource) ListEnabledForDevice(_ context.Context, _ string) ([]automation.Rule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.rules, nil
}

func (s *stubRuleSource) UpdateLastTriggered(_ context.Context, ruleID string, _ time.Time) error {
	s.triggered = append(s.triggered, ruleID)
	return nil
}

type memoryLogSink struct {
	entries []automation.ExecutionLogEntry
}

func (s *memoryLogSink) Append(_ context.Context, entry *automation.ExecutionLogEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

type capturePublisher struct {
	published []automation.ExecutionLogEntry
}

func (p *capturePublisher) Publish(entry automation.ExecutionLogEntry) {
	p.published = append(p.published, entry)
}

func testRule(id string, priority int, createdAt time.Time, actions ...automation.Action) automation.Rule {
	if len(actions) == 0 {
		actions = []automation.Action{{Type: automation.ActionSetChargingPower, Watts: 400}}
	}
	return automation.Rule{
		ID:       id,
		Name:     "rule " + id,
		Enabled:  true,
		Priority: priority,
		Conditions: group(automation.OperatorAnd,
			metricCond(automation.FieldSOC, "<", rawNumber(30))),
		Actions:   actions,
		CreatedAt: createdAt,
	}
}

func newTestEngine(t *testing.T, rules *stubRuleSource, logs *memoryLogSink, clock Clock, controller Controller, notifier Notifier, opts ...Option) *Engine {
	t.Helper()
	executor, err := NewExecutor(controller, notifier)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	opts = append(opts, WithClock(clock), WithLogger(log.New(io.Discard, "", 0)))
	eng, err := New(rules, NewMemoryCooldownStore(), executor, logs, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func TestEvaluateDeviceExecutesMatchingRules(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rules := &stubRuleSource{rules: []automation.Rule{testRule("rule-1", 0, base)}}
	logs := &memoryLogSink{}
	publisher := &capturePublisher{}
	eng := newTestEngine(t, rules, logs, newFakeClock(base), &recordingController{}, nil, WithPublisher(publisher))

	device := devices.Device{ID: "dev-1", Serial: "SN1", Name: "Garage"}
	low := devices.Metrics{SOC: 15}
	if err := eng.EvaluateDevice(context.Background(), device, low, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if len(logs.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs.entries))
	}
	entry := logs.entries[0]
	if !entry.Success || entry.RuleID != "rule-1" || entry.DeviceID != "dev-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(entry.Matched) != 1 {
		t.Fatalf("entry should carry the matched condition, got %v", entry.Matched)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("entry should be published to the stream")
	}
	if len(rules.triggered) != 1 || rules.triggered[0] != "rule-1" {
		t.Fatalf("lastTriggeredAt flush missing, got %v", rules.triggered)
	}
}

func TestEvaluateDeviceNoLogWithoutMatch(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rules := &stubRuleSource{rules: []automation.Rule{testRule("rule-1", 0, base)}}
	logs := &memoryLogSink{}
	eng := newTestEngine(t, rules, logs, newFakeClock(base), &recordingController{}, nil)

	high := devices.Metrics{SOC: 90}
	if err := eng.EvaluateDevice(context.Background(), devices.Device{ID: "dev-1"}, high, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(logs.entries) != 0 {
		t.Fatalf("non-matching evaluation must not log, got %d entries", len(logs.entries))
	}
	if len(rules.triggered) != 0 {
		t.Fatalf("non-matching evaluation must not touch lastTriggeredAt")
	}
}

func TestEvaluateDeviceCooldownSuppression(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rule := testRule("rule-1", 0, base)
	rule.CooldownSeconds = 300
	rules := &stubRuleSource{rules: []automation.Rule{rule}}
	logs := &memoryLogSink{}
	clock := newFakeClock(base)
	eng := newTestEngine(t, rules, logs, clock, &recordingController{}, nil)

	device := devices.Device{ID: "dev-1", Serial: "SN1"}
	low := devices.Metrics{SOC: 15}

	if err := eng.EvaluateDevice(context.Background(), device, low, nil); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	clock.Advance(100 * time.Second)
	if err := eng.EvaluateDevice(context.Background(), device, low, nil); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("cooldown-suppressed match must not log, got %d entries", len(logs.entries))
	}
	clock.Advance(201 * time.Second)
	if err := eng.EvaluateDevice(context.Background(), device, low, nil); err != nil {
		t.Fatalf("third tick: %v", err)
	}
	if len(logs.entries) != 2 {
		t.Fatalf("rule must refire after the cooldown, got %d entries", len(logs.entries))
	}
}

func TestEvaluateDevicePriorityOrder(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rules := &stubRuleSource{rules: []automation.Rule{
		testRule("low", 1, base),
		testRule("older-high", 5, base.Add(-time.Hour)),
		testRule("newer-high", 5, base),
	}}
	logs := &memoryLogSink{}
	eng := newTestEngine(t, rules, logs, newFakeClock(base), &recordingController{}, nil)

	if err := eng.EvaluateDevice(context.Background(), devices.Device{ID: "dev-1"}, devices.Metrics{SOC: 10}, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(logs.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(logs.entries))
	}
	want := []string{"older-high", "newer-high", "low"}
	for i, id := range want {
		if logs.entries[i].RuleID != id {
			t.Fatalf("entry %d = %s, want %s", i, logs.entries[i].RuleID, id)
		}
	}
}

func TestEvaluateDevicePartialActionFailure(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rule := testRule("rule-1", 0, base,
		automation.Action{Type: automation.ActionSetACOutput, Enabled: boolPtr(true)},
		automation.Action{Type: automation.ActionSetChargingPower, Watts: 400},
	)
	rules := &stubRuleSource{rules: []automation.Rule{rule}}
	logs := &memoryLogSink{}
	controller := &recordingController{fail: map[string]error{"ac": errors.New("ac relay stuck")}}
	eng := newTestEngine(t, rules, logs, newFakeClock(base), controller, nil)

	if err := eng.EvaluateDevice(context.Background(), devices.Device{ID: "dev-1"}, devices.Metrics{SOC: 10}, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	entry := logs.entries[0]
	if entry.Success {
		t.Fatalf("partial failure must mark the entry failed")
	}
	if entry.ErrorMessage != "ac relay stuck" {
		t.Fatalf("first failure message must be retained, got %q", entry.ErrorMessage)
	}
	if len(entry.Actions) != 2 || entry.Actions[0].Success || !entry.Actions[1].Success {
		t.Fatalf("unexpected outcomes %+v", entry.Actions)
	}
}

func TestEvaluateDeviceSkipsForeignRules(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	scoped := testRule("other-device", 0, base)
	scoped.DeviceID = "dev-2"
	global := testRule("global", 0, base)
	rules := &stubRuleSource{rules: []automation.Rule{scoped, global}}
	logs := &memoryLogSink{}
	eng := newTestEngine(t, rules, logs, newFakeClock(base), &recordingController{}, nil)

	if err := eng.EvaluateDevice(context.Background(), devices.Device{ID: "dev-1"}, devices.Metrics{SOC: 10}, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(logs.entries) != 1 || logs.entries[0].RuleID != "global" {
		t.Fatalf("only the global rule should fire, got %+v", logs.entries)
	}
}

func TestEvaluateDeviceListError(t *testing.T) {
	rules := &stubRuleSource{listErr: errors.New("db down")}
	logs := &memoryLogSink{}
	eng := newTestEngine(t, rules, logs, newFakeClock(time.Now()), &recordingController{}, nil)
	if err := eng.EvaluateDevice(context.Background(), devices.Device{ID: "dev-1"}, devices.Metrics{}, nil); err == nil {
		t.Fatalf("expected list error to propagate")
	}
}
