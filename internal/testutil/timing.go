package testutil

import (
	"sync"
	"testing"
	"time"
)

// MessageTracker records sent and received message ids for end-to-end
// scenarios so a test can assert delivery and ordering without each
// scenario re-implementing bookkeeping.
type MessageTracker struct {
	mu       sync.Mutex
	sent     []string
	received []string
}

func NewMessageTracker() *MessageTracker {
	return &MessageTracker{}
}

func (mt *MessageTracker) MarkSent(id string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.sent = append(mt.sent, id)
}

func (mt *MessageTracker) MarkReceived(id string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.received = append(mt.received, id)
}

func (mt *MessageTracker) Received() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	out := make([]string, len(mt.received))
	copy(out, mt.received)
	return out
}

// VerifyInOrderDelivery fails t unless every sent id was received, in
// the order it was sent, with no duplicates.
func (mt *MessageTracker) VerifyInOrderDelivery(t testing.TB) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if len(mt.sent) != len(mt.received) {
		t.Fatalf("delivery mismatch: sent %d, received %d", len(mt.sent), len(mt.received))
	}
	for i, id := range mt.sent {
		if mt.received[i] != id {
			t.Fatalf("out-of-order delivery at index %d: sent %q, received %q", i, id, mt.received[i])
		}
	}
}

// WaitWithTimeout polls condition until it returns true or timeout elapses.
func WaitWithTimeout(t testing.TB, condition func() bool, timeout, checkInterval time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(checkInterval)
	}
	t.Fatalf("timed out after %v waiting for condition", timeout)
}
