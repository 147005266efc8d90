package engine

import (
	"context"
	"errors"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
	devices "powerstation-cloud/internal/devices/domain"
)

// RuleReader loads a single rule.
type RuleReader interface {
	GetByID(ctx context.Context, ruleID string) (*automation.Rule, error)
}

// SnapshotReader serves the latest telemetry snapshots.
type SnapshotReader interface {
	Latest(deviceID string) (devices.Metrics, bool)
	Previous(deviceID string) (devices.Metrics, bool)
}

// TestReport is the dry-run outcome: what would have happened without
// touching cooldowns or running actions.
type TestReport struct {
	RuleID            string        `json:"rule_id,omitempty"`
	DeviceID          string        `json:"device_id"`
	WouldTrigger      bool          `json:"would_trigger"`
	Matched           []string      `json:"matched_conditions,omitempty"`
	Failed            []string      `json:"failed_conditions,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
	Actions           []string      `json:"actions,omitempty"`
}

// Tester evaluates rules without side effects.
type Tester struct {
	rules     RuleReader
	snapshots SnapshotReader
	cooldowns CooldownStore
	clock     Clock
}

// NewTester constructs a tester. The cooldown store is optional; when
// present the report includes the remaining cooldown as advice, but a dry
// run never consumes or refreshes it.
func NewTester(rules RuleReader, snapshots SnapshotReader, cooldowns CooldownStore, clock Clock) (*Tester, error) {
	if rules == nil {
		return nil, errors.New("tester: nil rule reader")
	}
	if snapshots == nil {
		return nil, errors.New("tester: nil snapshot reader")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Tester{rules: rules, snapshots: snapshots, cooldowns: cooldowns, clock: clock}, nil
}

// Test dry-runs a stored rule against the latest snapshot of a device.
func (t *Tester) Test(ctx context.Context, ruleID, deviceID string) (*TestReport, error) {
	rule, err := t.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, automation.ErrNotFound
	}
	report, err := t.testRule(*rule, deviceID)
	if err != nil {
		return nil, err
	}
	report.RuleID = rule.ID
	if t.cooldowns != nil {
		report.CooldownRemaining = Remaining(t.cooldowns, *rule, deviceID, t.clock.Now())
	}
	return report, nil
}

// TestRule dry-runs an unsaved rule definition, for previewing edits.
func (t *Tester) TestRule(rule automation.Rule, deviceID string) (*TestReport, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return t.testRule(rule, deviceID)
}

func (t *Tester) testRule(rule automation.Rule, deviceID string) (*TestReport, error) {
	current, ok := t.snapshots.Latest(deviceID)
	if !ok {
		return nil, errors.New("tester: no telemetry snapshot for device")
	}
	var previous *devices.Metrics
	if prev, ok := t.snapshots.Previous(deviceID); ok {
		previous = &prev
	}
	result := Evaluate(rule.Conditions, EvalContext{
		Metrics:  current,
		Previous: previous,
		Now:      t.clock.Now(),
	})
	report := &TestReport{
		DeviceID:     deviceID,
		WouldTrigger: result.Matches,
		Matched:      result.Matched,
		Failed:       result.Failed,
	}
	if result.Matches {
		for _, action := range rule.Actions {
			report.Actions = append(report.Actions, action.Describe())
		}
	}
	return report, nil
}
