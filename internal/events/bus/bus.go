// Package bus provides in-process event fanout for the bridge: inbound chat
// messages and AFK transitions are published so interested parties (waiters,
// diagnostics) can react without polling. Correctness never depends on the
// bus; the store remains the source of truth.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

// Well-known subjects.
const (
	SubjectInboundMessage = "zulip.events.message"
	SubjectAFKTransition  = "afk.transition"
	SubjectRequestUpdate  = "requests.update"
)

// Event is one message on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler consumes an event. Handler errors are logged, never propagated to
// the publisher.
type Handler func(ctx context.Context, event *Event) error

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus fans events out to subscribers.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
}

// New selects the backend: NATS when a URL is configured, in-memory
// otherwise.
func New(natsURL string, log *logger.Logger) (Bus, error) {
	if natsURL == "" {
		return NewMemoryBus(log), nil
	}
	return NewNATSBus(natsURL, log)
}
