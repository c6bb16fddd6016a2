package mock

import (
	"context"
	"sync"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

// MockNotifier implements settlement.Notifier by recording events.
type MockNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (n *MockNotifier) Notify(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

// SetError makes every following Notify call fail with err; nil resets.
func (n *MockNotifier) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Events returns a copy of the recorded events.
func (n *MockNotifier) Events() []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Event(nil), n.events...)
}

// Kinds lists the recorded event kinds in order.
func (n *MockNotifier) Kinds() []domain.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]domain.EventKind, len(n.events))
	for i, ev := range n.events {
		kinds[i] = ev.Kind
	}
	return kinds
}
