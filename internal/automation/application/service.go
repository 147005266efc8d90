package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
	"powerstation-cloud/internal/automation/engine"
)

// RuleStore is the persistence surface the service drives.
type RuleStore interface {
	Create(ctx context.Context, rule *automation.Rule) error
	GetByID(ctx context.Context, ruleID string) (*automation.Rule, error)
	List(ctx context.Context) ([]automation.Rule, error)
	Update(ctx context.Context, rule *automation.Rule) error
	Delete(ctx context.Context, ruleID string) error
}

// LogStore lists execution log entries.
type LogStore interface {
	List(ctx context.Context, filter automation.ExecutionLogFilter) ([]automation.ExecutionLogEntry, error)
}

// CooldownForgetter drops cooldown state for a deleted rule.
type CooldownForgetter interface {
	Forget(ruleID string)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// RuleService is the application layer over rule CRUD, dry runs, and
// execution history.
type RuleService struct {
	rules     RuleStore
	logs      LogStore
	tester    *engine.Tester
	cooldowns CooldownForgetter
	clock     Clock
}

// ServiceOption customizes the service.
type ServiceOption func(*RuleService)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *RuleService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCooldowns wires cooldown cleanup on delete.
func WithCooldowns(cooldowns CooldownForgetter) ServiceOption {
	return func(s *RuleService) {
		s.cooldowns = cooldowns
	}
}

// NewRuleService constructs a rule service.
func NewRuleService(rules RuleStore, logs LogStore, tester *engine.Tester, opts ...ServiceOption) (*RuleService, error) {
	if rules == nil {
		return nil, errors.New("automation: nil rule store")
	}
	if logs == nil {
		return nil, errors.New("automation: nil log store")
	}
	if tester == nil {
		return nil, errors.New("automation: nil tester")
	}
	s := &RuleService{
		rules:  rules,
		logs:   logs,
		tester: tester,
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRule validates and stores a new rule, assigning its id.
func (s *RuleService) CreateRule(ctx context.Context, rule *automation.Rule) (*automation.Rule, error) {
	if rule == nil {
		return nil, errors.New("automation: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", automation.ErrInvalidRule, err)
	}
	now := s.clock.Now()
	rule.ID = "rule-" + buildShortID(rule.Name+"|"+rule.DeviceID+"|"+now.Format(time.RFC3339Nano))
	rule.LastTriggeredAt = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRule loads one rule.
func (s *RuleService) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, automation.ErrNotFound
	}
	return rule, nil
}

// ListRules returns all rules.
func (s *RuleService) ListRules(ctx context.Context) ([]automation.Rule, error) {
	return s.rules.List(ctx)
}

// UpdateRule validates and replaces a stored rule. The id, creation time,
// and trigger history are immutable from the API.
func (s *RuleService) UpdateRule(ctx context.Context, rule *automation.Rule) (*automation.Rule, error) {
	if rule == nil || rule.ID == "" {
		return nil, errors.New("automation: invalid rule")
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", automation.ErrInvalidRule, err)
	}
	existing, err := s.rules.GetByID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, automation.ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.LastTriggeredAt = existing.LastTriggeredAt
	rule.UpdatedAt = s.clock.Now()
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule and its cooldown state.
func (s *RuleService) DeleteRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return errors.New("automation: empty rule id")
	}
	if err := s.rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	if s.cooldowns != nil {
		s.cooldowns.Forget(ruleID)
	}
	return nil
}

// TestRule dry-runs a stored rule against a device's latest snapshot.
func (s *RuleService) TestRule(ctx context.Context, ruleID, deviceID string) (*engine.TestReport, error) {
	if deviceID == "" {
		return nil, errors.New("automation: empty device id")
	}
	return s.tester.Test(ctx, ruleID, deviceID)
}

// TestDraft dry-runs an unsaved rule definition.
func (s *RuleService) TestDraft(ctx context.Context, rule automation.Rule, deviceID string) (*engine.TestReport, error) {
	if deviceID == "" {
		return nil, errors.New("automation: empty device id")
	}
	return s.tester.TestRule(rule, deviceID)
}

// ListExecutions returns execution log entries matching the filter.
func (s *RuleService) ListExecutions(ctx context.Context, filter automation.ExecutionLogFilter) ([]automation.ExecutionLogEntry, error) {
	return s.logs.List(ctx, filter)
}

func buildShortID(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:8])
}
