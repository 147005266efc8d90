package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
)

// DeviceRepository is a Postgres repository for the device registry.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get loads a device by id. A missing device returns (nil, nil).
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, serial, name, model, online, last_seen_at, created_at, updated_at
FROM devices
WHERE id = $1
LIMIT 1`, id)
	var d devices.Device
	if err := row.Scan(
		&d.ID,
		&d.Serial,
		&d.Name,
		&d.Model,
		&d.Online,
		&d.LastSeenAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.LastSeenAt = d.LastSeenAt.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

// List returns all registered devices ordered by name.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, serial, name, model, online, last_seen_at, created_at, updated_at
FROM devices
ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []devices.Device
	for rows.Next() {
		var d devices.Device
		if err := rows.Scan(
			&d.ID,
			&d.Serial,
			&d.Name,
			&d.Model,
			&d.Online,
			&d.LastSeenAt,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Upsert inserts or refreshes a device row keyed by id.
func (r *DeviceRepository) Upsert(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (id, serial, name, model, online, last_seen_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	serial = EXCLUDED.serial,
	name = EXCLUDED.name,
	model = EXCLUDED.model,
	online = EXCLUDED.online,
	last_seen_at = EXCLUDED.last_seen_at,
	updated_at = EXCLUDED.updated_at`,
		device.ID, device.Serial, device.Name, device.Model, device.Online,
		device.LastSeenAt, device.CreatedAt, device.UpdatedAt)
	return err
}
