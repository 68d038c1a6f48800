// ABOUTME: Synchronous fan-out notifier for domain events emitted by tool handlers
// ABOUTME: Listener failures are logged and isolated; never used for control flow

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Domain event names emitted by the gateway.
const (
	TaskRequested = "task.requested"
	TaskAccepted  = "task.accepted"
	TaskCompleted = "task.completed"
	PRReviewed    = "pr.reviewed"
	PRGated       = "pr.gated"
	PRMerged      = "pr.merged"
)

// Event is one observability record. Events are append-only from the
// gateway's perspective; listeners observe them in emission order.
type Event struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Timestamp     time.Time      `json:"timestamp"`
	Data          map[string]any `json:"data"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Listener receives events synchronously. A returned error is recorded but
// never propagates to the emitter or to other listeners.
type Listener func(Event) error

type subscription struct {
	id string
	fn Listener
}

// Notifier broadcasts domain events to subscribed listeners. Emission is
// fire-and-forget: a failing or panicking listener never affects the
// emitter or the remaining listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners []subscription
	logger    *slog.Logger
}

// NewNotifier creates a notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger.With("component", "notifier"),
	}
}

// Subscribe registers a listener and returns a function that removes exactly
// that listener. Listeners are invoked in subscription order.
func (n *Notifier) Subscribe(fn Listener) func() {
	subID := uuid.New().String()

	n.mu.Lock()
	n.listeners = append(n.listeners, subscription{id: subID, fn: fn})
	n.mu.Unlock()

	n.logger.Debug("listener subscribed", "sub_id", subID)

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, sub := range n.listeners {
			if sub.id == subID {
				n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
				n.logger.Debug("listener unsubscribed", "sub_id", subID)
				return
			}
		}
	}
}

// Emit stamps the event with the current time and a fresh identifier, then
// invokes every subscribed listener synchronously.
func (n *Notifier) Emit(name string, data map[string]any, correlationID string) Event {
	event := Event{
		ID:            uuid.New().String(),
		Name:          name,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		CorrelationID: correlationID,
	}

	// Copy under read lock so listener bodies run unlocked
	n.mu.RLock()
	targets := make([]subscription, len(n.listeners))
	copy(targets, n.listeners)
	n.mu.RUnlock()

	for _, sub := range targets {
		n.dispatch(sub, event)
	}

	return event
}

// dispatch invokes one listener, isolating errors and panics.
func (n *Notifier) dispatch(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("event listener panicked",
				"sub_id", sub.id,
				"event", event.Name,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()

	if err := sub.fn(event); err != nil {
		n.logger.Warn("event listener failed",
			"sub_id", sub.id,
			"event", event.Name,
			"event_id", event.ID,
			"error", err,
		)
	}
}
