package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
	devices "powerstation-cloud/internal/devices/domain"
	"powerstation-cloud/internal/observability/metrics"
)

// RuleSource loads the rules relevant to one device, including global rules,
// and persists trigger timestamps.
type RuleSource interface {
	ListEnabledForDevice(ctx context.Context, deviceID string) ([]automation.Rule, error)
	UpdateLastTriggered(ctx context.Context, ruleID string, at time.Time) error
}

// LogSink appends execution log entries.
type LogSink interface {
	Append(ctx context.Context, entry *automation.ExecutionLogEntry) error
}

// Publisher pushes execution events to live subscribers.
type Publisher interface {
	Publish(entry automation.ExecutionLogEntry)
}

// Engine evaluates automation rules against device telemetry snapshots and
// executes the ones that fire.
type Engine struct {
	rules     RuleSource
	cooldowns CooldownStore
	executor  *Executor
	logs      LogSink
	publisher Publisher
	clock     Clock
	logger    *log.Logger
}

// Option customizes the engine.
type Option func(*Engine)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithPublisher assigns a live event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New constructs an engine.
func New(rules RuleSource, cooldowns CooldownStore, executor *Executor, logs LogSink, opts ...Option) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("engine: nil rule source")
	}
	if cooldowns == nil {
		return nil, errors.New("engine: nil cooldown store")
	}
	if executor == nil {
		return nil, errors.New("engine: nil executor")
	}
	if logs == nil {
		return nil, errors.New("engine: nil log sink")
	}
	e := &Engine{
		rules:     rules,
		cooldowns: cooldowns,
		executor:  executor,
		logs:      logs,
		clock:     systemClock{},
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EvaluateDevice runs one tick for one device: every enabled rule scoped to
// the device or to all devices is evaluated against the snapshot, in priority
// order, and matching rules execute unless their cooldown holds them back.
// Rules are independent: one rule's execution failure never stops the rest.
// Only executed rules leave an execution log entry.
func (e *Engine) EvaluateDevice(ctx context.Context, device devices.Device, current devices.Metrics, previous *devices.Metrics) error {
	rules, err := e.rules.ListEnabledForDevice(ctx, device.ID)
	if err != nil {
		return err
	}
	orderRules(rules)

	ectx := EvalContext{Metrics: current, Previous: previous, Now: e.clock.Now()}
	for _, rule := range rules {
		if !rule.Enabled || !rule.AppliesTo(device.ID) {
			continue
		}
		result := Evaluate(rule.Conditions, ectx)
		metrics.IncRuleEvaluation(result.Matches)
		if !result.Matches {
			continue
		}
		now := e.clock.Now()
		if !e.cooldowns.TryAcquire(rule.ID, device.ID, rule.Cooldown(), now) {
			metrics.IncCooldownSuppressed()
			continue
		}
		e.trigger(ctx, rule, device, current, result, now)
	}
	return nil
}

func (e *Engine) trigger(ctx context.Context, rule automation.Rule, device devices.Device, current devices.Metrics, result Result, startedAt time.Time) {
	tc := TemplateContext{
		DeviceName:  device.Name,
		RuleName:    rule.Name,
		SOC:         current.SOC,
		Temperature: current.Temperature,
		ACInput:     current.ACInputWatts,
		SolarInput:  current.SolarInputWatts,
	}
	outcomes := e.executor.Execute(ctx, rule.Actions, device, tc)

	entry := automation.ExecutionLogEntry{
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		DeviceID:     device.ID,
		DeviceSerial: device.Serial,
		Matched:      result.Matched,
		Actions:      outcomes,
		Success:      true,
		Timestamp:    startedAt,
	}
	for _, outcome := range outcomes {
		metrics.IncActionExecuted(string(outcome.Type), outcome.Success)
		if !outcome.Success && entry.Success {
			entry.Success = false
			entry.ErrorMessage = outcome.Error
		}
	}
	entry.ExecutionTimeMs = e.clock.Now().Sub(startedAt).Milliseconds()
	if entry.ExecutionTimeMs < 0 {
		entry.ExecutionTimeMs = 0
	}
	metrics.IncRuleTriggered(entry.Success)
	metrics.ObserveExecution(entry.Success, time.Duration(entry.ExecutionTimeMs)*time.Millisecond)

	// The in-memory cooldown already holds; the store write is advisory so
	// a restart can re-seed, and failures only cost an earlier refire.
	if err := e.rules.UpdateLastTriggered(ctx, rule.ID, startedAt); err != nil {
		e.logger.Printf("engine: update last triggered for %s: %v", rule.ID, err)
	}
	if err := e.logs.Append(ctx, &entry); err != nil {
		e.logger.Printf("engine: append execution log for %s: %v", rule.ID, err)
	}
	if e.publisher != nil {
		e.publisher.Publish(entry)
	}
	if !entry.Success {
		e.logger.Printf("engine: rule %s (%s) on device %s: %s", rule.Name, rule.ID, device.ID, entry.ErrorMessage)
	}
}

// orderRules sorts by priority descending, then creation time ascending so
// ties resolve to the older rule.
func orderRules(rules []automation.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}
