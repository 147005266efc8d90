package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
)

// HistoryRepository stores telemetry readings for dashboard charts.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record inserts one reading.
func (r *HistoryRepository) Record(ctx context.Context, m devices.Metrics) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	if m.DeviceID == "" {
		return errors.New("history repo: empty device id")
	}
	collectedAt := m.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO telemetry_history (
	device_id, online, soc, temperature, ac_input_watts, ac_output_watts,
	solar_input_watts, dc_output_watts, total_input_watts, total_output_watts,
	has_error, collected_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10,
	$11, $12
)`, m.DeviceID, m.Online, m.SOC, m.Temperature, m.ACInputWatts, m.ACOutputWatts,
		m.SolarInputWatts, m.DCOutputWatts, m.TotalInputWatts, m.TotalOutputWatts,
		m.HasError, collectedAt)
	return err
}

// Range returns readings for a device between from and to, oldest first.
func (r *HistoryRepository) Range(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]devices.Metrics, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("history repo: empty device id")
	}
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_id, online, soc, temperature, ac_input_watts, ac_output_watts,
	solar_input_watts, dc_output_watts, total_input_watts, total_output_watts,
	has_error, collected_at
FROM telemetry_history
WHERE device_id = $1 AND collected_at >= $2 AND collected_at <= $3
ORDER BY collected_at ASC
LIMIT $4`, deviceID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []devices.Metrics
	for rows.Next() {
		var m devices.Metrics
		if err := rows.Scan(
			&m.DeviceID,
			&m.Online,
			&m.SOC,
			&m.Temperature,
			&m.ACInputWatts,
			&m.ACOutputWatts,
			&m.SolarInputWatts,
			&m.DCOutputWatts,
			&m.TotalInputWatts,
			&m.TotalOutputWatts,
			&m.HasError,
			&m.CollectedAt,
		); err != nil {
			return nil, err
		}
		m.CollectedAt = m.CollectedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Prune deletes readings older than the retention horizon.
func (r *HistoryRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("history repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
DELETE FROM telemetry_history WHERE collected_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
