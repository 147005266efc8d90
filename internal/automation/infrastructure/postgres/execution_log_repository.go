package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
)

const defaultLogLimit = 100

// ExecutionLogRepository is a Postgres repository for rule execution logs.
type ExecutionLogRepository struct {
	db *sql.DB
}

// NewExecutionLogRepository constructs a repository.
func NewExecutionLogRepository(db *sql.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

// Append inserts an execution log entry, assigning an id when absent.
func (r *ExecutionLogRepository) Append(ctx context.Context, entry *automation.ExecutionLogEntry) error {
	if r == nil || r.db == nil {
		return errors.New("execution log repo: nil db")
	}
	if entry == nil {
		return errors.New("execution log repo: nil entry")
	}
	if entry.RuleID == "" || entry.DeviceID == "" {
		return errors.New("execution log repo: missing rule/device id")
	}
	if entry.ID == "" {
		entry.ID = newLogID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	matched, err := json.Marshal(entry.Matched)
	if err != nil {
		return err
	}
	failed, err := json.Marshal(entry.Failed)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(entry.Actions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO automation_execution_logs (
	id, rule_id, rule_name, device_id, device_serial, matched_conditions,
	failed_conditions, actions, success, error_message, execution_time_ms, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12
)`, entry.ID, entry.RuleID, entry.RuleName, entry.DeviceID, entry.DeviceSerial, matched,
		failed, actions, entry.Success, entry.ErrorMessage, entry.ExecutionTimeMs, entry.Timestamp)
	return err
}

// List returns entries matching the filter, newest first.
func (r *ExecutionLogRepository) List(ctx context.Context, filter automation.ExecutionLogFilter) ([]automation.ExecutionLogEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("execution log repo: nil db")
	}
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.RuleID != "" {
		clauses = append(clauses, "rule_id = "+arg(filter.RuleID))
	}
	if filter.DeviceID != "" {
		clauses = append(clauses, "device_id = "+arg(filter.DeviceID))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "created_at <= "+arg(filter.Until))
	}
	if filter.OnlyFail {
		clauses = append(clauses, "success = FALSE")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultLogLimit
	}

	query := fmt.Sprintf(`
SELECT id, rule_id, rule_name, device_id, device_serial, matched_conditions,
	failed_conditions, actions, success, error_message, execution_time_ms, created_at
FROM automation_execution_logs
%s
ORDER BY created_at DESC
LIMIT %s`, where, arg(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.ExecutionLogEntry
	for rows.Next() {
		var entry automation.ExecutionLogEntry
		var matched, failed, actions []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.RuleID,
			&entry.RuleName,
			&entry.DeviceID,
			&entry.DeviceSerial,
			&matched,
			&failed,
			&actions,
			&entry.Success,
			&entry.ErrorMessage,
			&entry.ExecutionTimeMs,
			&entry.Timestamp,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(matched, &entry.Matched); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(failed, &entry.Failed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(actions, &entry.Actions); err != nil {
			return nil, err
		}
		entry.Timestamp = entry.Timestamp.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention horizon.
func (r *ExecutionLogRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("execution log repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
DELETE FROM automation_execution_logs WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func newLogID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "exec-" + hex.EncodeToString(buf)
}
