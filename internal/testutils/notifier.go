package testutils

import (
	"context"
	"sync"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var _ ports.Notifier = (*RecordingNotifier)(nil)

// RecordingNotifier keeps every event it is handed. It is safe for
// concurrent use.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

// Notify records event.
func (n *RecordingNotifier) Notify(_ context.Context, event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

// Events returns a copy of the recorded events.
func (n *RecordingNotifier) Events() []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Event(nil), n.events...)
}

// OfType returns the recorded events of type t.
func (n *RecordingNotifier) OfType(t domain.EventType) []domain.Event {
	out := make([]domain.Event, 0)
	for _, e := range n.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops every recorded event.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}
