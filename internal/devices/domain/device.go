package devices

import (
	"context"
	"errors"
	"time"
)

// Device represents a registered power station.
type Device struct {
	ID         string    `json:"id"`
	Serial     string    `json:"serial"`
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.Serial == "" {
		return errors.New("device: empty serial")
	}
	return nil
}

// Repository manages device persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	Upsert(ctx context.Context, device *Device) error
}
