package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"powerstation-cloud/internal/audit"
	"powerstation-cloud/internal/auth"
	automation "powerstation-cloud/internal/automation/domain"
)

// RuleRepository is a Postgres repository for automation rules. Condition
// trees and action lists live in JSONB columns so the recursive shape
// round-trips without a relational mapping.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, name, description, device_id, enabled, conditions, actions,
	cooldown_seconds, priority, last_triggered_at, created_at, updated_at`

// Create inserts a rule.
func (r *RuleRepository) Create(ctx context.Context, rule *automation.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO automation_rules (
	id, name, description, device_id, enabled, conditions, actions,
	cooldown_seconds, priority, last_triggered_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`, rule.ID, rule.Name, rule.Description, rule.DeviceID, rule.Enabled, conditions, actions,
		rule.CooldownSeconds, rule.Priority, rule.LastTriggeredAt, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return err
	}
	logRuleAudit(ctx, r.db, "rule.create", rule)
	return nil
}

// GetByID loads a rule by id. A missing rule returns (nil, nil).
func (r *RuleRepository) GetByID(ctx context.Context, ruleID string) (*automation.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if ruleID == "" {
		return nil, errors.New("rule repo: empty rule id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+ruleColumns+`
FROM automation_rules
WHERE id = $1
LIMIT 1`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// List returns all rules, highest priority first.
func (r *RuleRepository) List(ctx context.Context) ([]automation.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM automation_rules
ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListEnabledForDevice returns enabled rules scoped to the device plus
// global rules, in engine evaluation order.
func (r *RuleRepository) ListEnabledForDevice(ctx context.Context, deviceID string) ([]automation.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("rule repo: empty device id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM automation_rules
WHERE enabled = TRUE AND (device_id = $1 OR device_id = '')
ORDER BY priority DESC, created_at ASC`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// Update replaces a stored rule.
func (r *RuleRepository) Update(ctx context.Context, rule *automation.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil || rule.ID == "" {
		return errors.New("rule repo: invalid rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE automation_rules
SET name = $2, description = $3, device_id = $4, enabled = $5, conditions = $6,
	actions = $7, cooldown_seconds = $8, priority = $9, updated_at = $10
WHERE id = $1`,
		rule.ID, rule.Name, rule.Description, rule.DeviceID, rule.Enabled, conditions,
		actions, rule.CooldownSeconds, rule.Priority, rule.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return automation.ErrNotFound
	}
	logRuleAudit(ctx, r.db, "rule.update", rule)
	return nil
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, ruleID string) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if ruleID == "" {
		return errors.New("rule repo: empty rule id")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, ruleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return automation.ErrNotFound
	}
	logRuleAudit(ctx, r.db, "rule.delete", &automation.Rule{ID: ruleID})
	return nil
}

// UpdateLastTriggered records the latest trigger instant. A vanished rule
// is not an error; the engine races rule deletion by design.
func (r *RuleRepository) UpdateLastTriggered(ctx context.Context, ruleID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if ruleID == "" {
		return errors.New("rule repo: empty rule id")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE automation_rules SET last_triggered_at = $2 WHERE id = $1`, ruleID, at.UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*automation.Rule, error) {
	var rule automation.Rule
	var conditions, actions []byte
	var lastTriggered sql.NullTime
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.DeviceID,
		&rule.Enabled,
		&conditions,
		&actions,
		&rule.CooldownSeconds,
		&rule.Priority,
		&lastTriggered,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, err
	}
	if lastTriggered.Valid {
		at := lastTriggered.Time.UTC()
		rule.LastTriggeredAt = &at
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]automation.Rule, error) {
	var out []automation.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func encodeRule(rule *automation.Rule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, err
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, err
	}
	return conditions, actions, nil
}

func logRuleAudit(ctx context.Context, db *sql.DB, action string, rule *automation.Rule) {
	if db == nil || rule == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"name":             rule.Name,
		"device_id":        rule.DeviceID,
		"enabled":          rule.Enabled,
		"cooldown_seconds": rule.CooldownSeconds,
		"priority":         rule.Priority,
	})
	repo := audit.NewRepository(db)
	if repo == nil {
		return
	}
	_ = repo.Log(ctx, audit.Entry{
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: "automation_rule",
		ResourceID:   rule.ID,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	})
}
