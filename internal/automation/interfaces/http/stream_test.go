package http

import (
	"encoding/json"
	"testing"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	broker.Publish(automation.ExecutionLogEntry{RuleID: "rule-1", Success: true})

	select {
	case payload := <-ch:
		var entry automation.ExecutionLogEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if entry.RuleID != "rule-1" || !entry.Success {
			t.Fatalf("entry = %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
}

func TestBrokerDropsWhenSubscriberStalls(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	// Fill the buffer and then some. Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			broker.Publish(automation.ExecutionLogEntry{RuleID: "rule-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	broker.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	// A publish after unsubscribe must not panic.
	broker.Publish(automation.ExecutionLogEntry{RuleID: "rule-1"})
}
