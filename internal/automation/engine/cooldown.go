package engine

import (
	"sync"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
)

// CooldownStore tracks the last trigger instant per (rule, device) pair.
// TryAcquire must be atomic so two concurrent ticks cannot both fire the
// same rule for the same device inside one cooldown window.
type CooldownStore interface {
	Last(ruleID, deviceID string) (time.Time, bool)
	Mark(ruleID, deviceID string, at time.Time)
	TryAcquire(ruleID, deviceID string, cooldown time.Duration, now time.Time) bool
}

// MemoryCooldownStore is the in-process CooldownStore.
type MemoryCooldownStore struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

type cooldownKey struct {
	ruleID   string
	deviceID string
}

// NewMemoryCooldownStore constructs an empty store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{last: make(map[cooldownKey]time.Time)}
}

// Seed primes cooldown state from persisted rules so a restart does not
// immediately refire rules that triggered just before shutdown. Device-scoped
// rules seed their own device; global rules have no single device to seed and
// are skipped.
func (s *MemoryCooldownStore) Seed(rules []automation.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rule := range rules {
		if rule.LastTriggeredAt == nil || rule.DeviceID == "" {
			continue
		}
		s.last[cooldownKey{ruleID: rule.ID, deviceID: rule.DeviceID}] = rule.LastTriggeredAt.UTC()
	}
}

// Last returns the most recent trigger time for the pair.
func (s *MemoryCooldownStore) Last(ruleID, deviceID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.last[cooldownKey{ruleID: ruleID, deviceID: deviceID}]
	return at, ok
}

// Mark records a trigger instant.
func (s *MemoryCooldownStore) Mark(ruleID, deviceID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[cooldownKey{ruleID: ruleID, deviceID: deviceID}] = at.UTC()
}

// TryAcquire marks the pair as triggered at now unless it is still cooling
// down. A pair that never triggered acquires immediately.
func (s *MemoryCooldownStore) TryAcquire(ruleID, deviceID string, cooldown time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cooldownKey{ruleID: ruleID, deviceID: deviceID}
	if at, ok := s.last[key]; ok && cooldown > 0 {
		if now.Sub(at) < cooldown {
			return false
		}
	}
	s.last[key] = now.UTC()
	return true
}

// Forget drops all state for a rule, for use when the rule is deleted.
func (s *MemoryCooldownStore) Forget(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.last {
		if key.ruleID == ruleID {
			delete(s.last, key)
		}
	}
}

// Remaining reports how much cooldown is left for the pair at now; zero
// means the rule may fire.
func Remaining(store CooldownStore, rule automation.Rule, deviceID string, now time.Time) time.Duration {
	if store == nil || rule.CooldownSeconds <= 0 {
		return 0
	}
	at, ok := store.Last(rule.ID, deviceID)
	if !ok {
		return 0
	}
	left := rule.Cooldown() - now.Sub(at)
	if left < 0 {
		return 0
	}
	return left
}
