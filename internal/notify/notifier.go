package notify

import (
	"sync"

	"github.com/gwon-omega/server/internal/domain"
)

type EventType string

const (
	EventCartUpdated EventType = "cart.updated"
	EventCartFailed  EventType = "cart.failed"
)

// Event is one converged-state notification. View is set for cart.updated,
// Reason for cart.failed.
type Event struct {
	Type   EventType        `json:"type"`
	UserID string           `json:"userId"`
	View   *domain.CartView `json:"view,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// Notifier is an in-process pub/sub fan-out. Every subscriber sees every
// event; per-user filtering happens at the transport edge (the SSE handler
// knows which user its connection belongs to).
type Notifier struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be called on
// disconnect; it closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans ev out without blocking: a subscriber that cannot keep up
// loses the event and reconciles by re-fetching.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
