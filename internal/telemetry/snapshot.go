package telemetry

import (
	"sync"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
)

const defaultSnapshotTTL = 10 * time.Minute

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type snapshotPair struct {
	latest   devices.Metrics
	previous *devices.Metrics
	storedAt time.Time
}

// SnapshotStore keeps the latest and previous telemetry snapshot per device.
// Entries expire after a TTL so devices that vanish from the cloud account
// do not pin memory; the store is deliberately the only snapshot cache in
// the process.
type SnapshotStore struct {
	mu    sync.Mutex
	pairs map[string]snapshotPair
	ttl   time.Duration
	clock Clock
}

// SnapshotOption configures the store.
type SnapshotOption func(*SnapshotStore)

// WithSnapshotTTL overrides the entry TTL.
func WithSnapshotTTL(ttl time.Duration) SnapshotOption {
	return func(s *SnapshotStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSnapshotClock overrides the clock.
func WithSnapshotClock(clock Clock) SnapshotOption {
	return func(s *SnapshotStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSnapshotStore constructs an empty store.
func NewSnapshotStore(opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{
		pairs: make(map[string]snapshotPair),
		ttl:   defaultSnapshotTTL,
		clock: systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put records a new snapshot, rotating the old latest into previous.
func (s *SnapshotStore) Put(m devices.Metrics) {
	if m.DeviceID == "" {
		return
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[m.DeviceID]
	if ok && now.Sub(pair.storedAt) <= s.ttl {
		prev := pair.latest
		pair.previous = &prev
	} else {
		pair.previous = nil
	}
	pair.latest = m
	pair.storedAt = now
	s.pairs[m.DeviceID] = pair
}

// Latest returns the freshest snapshot for the device, if not expired.
func (s *SnapshotStore) Latest(deviceID string) (devices.Metrics, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[deviceID]
	if !ok || now.Sub(pair.storedAt) > s.ttl {
		delete(s.pairs, deviceID)
		return devices.Metrics{}, false
	}
	return pair.latest, true
}

// Previous returns the snapshot before the latest one, if any.
func (s *SnapshotStore) Previous(deviceID string) (devices.Metrics, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[deviceID]
	if !ok || now.Sub(pair.storedAt) > s.ttl || pair.previous == nil {
		return devices.Metrics{}, false
	}
	return *pair.previous, true
}

// Len reports how many devices hold a live snapshot. Expired entries are
// pruned on the way.
func (s *SnapshotStore) Len() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pair := range s.pairs {
		if now.Sub(pair.storedAt) > s.ttl {
			delete(s.pairs, id)
		}
	}
	return len(s.pairs)
}
