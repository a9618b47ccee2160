package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus dispatches Events to registered Handlers in priority order and, when
// a JetStream context is attached, mirrors every event onto a subject for
// cross-machine fanout. Adapted from the teacher's
// internal/eventbus/bus.go: Register/Unregister/Dispatch/PublishRaw carry
// over essentially unchanged, only the EventType domain changed.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	js       nats.JetStreamContext
}

// New returns an empty Bus with no JetStream attached (publishes are then
// local-only, useful for tests).
func New() *Bus { return &Bus{} }

// SetJetStream attaches a JetStream context; subsequent Dispatch calls also
// publish the event for peer consumption.
func (b *Bus) SetJetStream(js nats.JetStreamContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.js = js
}

// Register adds a handler. Handlers are re-sorted by priority on every
// registration so Dispatch never needs to sort on the hot path.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	sort.SliceStable(b.handlers, func(i, j int) bool {
		return b.handlers[i].Priority() < b.handlers[j].Priority()
	})
}

// Unregister removes the handler with the given id, reporting whether one
// was found.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID() == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch runs every handler matching event.Type in priority order,
// aggregating into a single Result. A handler returning an error logs a
// warning but does not stop the chain — mirrors the teacher's behavior.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	result := &Result{}
	for _, h := range b.matchingHandlers(event.Type) {
		if err := h.Handle(ctx, event, result); err != nil {
			log.Printf("eventbus: handler %s returned error for %s: %v", h.ID(), event.Type, err)
			result.Warnings = append(result.Warnings, err.Error())
		}
		if result.Reject {
			break
		}
	}

	if js := b.jetStream(); js != nil {
		b.publishToJetStream(js, event)
	}
	return result, nil
}

func (b *Bus) jetStream() nats.JetStreamContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.js
}

func (b *Bus) publishToJetStream(js nats.JetStreamContext, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("eventbus: marshal event %s: %v", event.Type, err)
		return
	}
	subject := subjectFor(event)
	if _, err := js.Publish(subject, data); err != nil {
		log.Printf("eventbus: publish %s to %s: %v", event.Type, subject, err)
	}
}

func subjectFor(event *Event) string {
	switch event.Type {
	case EventMemoryCreate, EventMemoryUpdate, EventMemoryDelete, EventMemoryRecover:
		return "collective.sync.change." + event.MachineID
	case EventBroadcast, EventDiscovery:
		return "collective.coord.broadcast"
	case EventTask, EventTaskAck, EventTaskCancel:
		return "collective.coord.task"
	case EventPeerHeartbeat:
		return "collective.sync.heartbeat." + event.MachineID
	default:
		return "collective.coord.misc"
	}
}

// PublishRaw publishes data to subject directly, bypassing handler
// dispatch — used for digest/request-response traffic that doesn't need
// local handler processing.
func (b *Bus) PublishRaw(subject string, data []byte) {
	js := b.jetStream()
	if js == nil {
		return
	}
	if _, err := js.Publish(subject, data); err != nil {
		log.Printf("eventbus: publish raw to %s: %v", subject, err)
	}
}

// matchingHandlers returns handlers interested in t, already sorted by
// priority (Register maintains the invariant).
func (b *Bus) matchingHandlers(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		for _, want := range h.Handles() {
			if want == t {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
