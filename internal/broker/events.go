package broker

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names one of the change-event bus's notification kinds.
type EventType string

const (
	EventEnqueue    EventType = "enqueue"
	EventAcknowledge EventType = "acknowledge"
	EventDelete     EventType = "delete"
	EventUpdate     EventType = "update"
	EventMove       EventType = "move"
	EventMoveToDLQ  EventType = "move_to_dlq"
	EventRequeue    EventType = "requeue"
)

// Event is the envelope published for every mutation.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp int64       `json:"timestamp_ms"`
	Payload   interface{} `json:"payload"`
}

// publish serialises and publishes evt. A publish failure is logged and
// swallowed — the bus is best-effort, per spec.md §4.9.
func (b *Broker) publish(ctx context.Context, evt Event) {
	raw, err := json.Marshal(evt)
	if err != nil {
		b.logger.Warn("failed to marshal change event", "type", evt.Type, "error", err)
		return
	}
	if err := b.sub.Publish(ctx, b.cfg.EventsChannel, string(raw)); err != nil {
		b.logger.Warn("failed to publish change event", "type", evt.Type, "error", err)
	}
}

func (b *Broker) emit(ctx context.Context, typ EventType, payload interface{}) {
	b.publish(ctx, Event{Type: typ, Timestamp: time.Now().UnixMilli(), Payload: payload})
}

// Subscribe opens a subscription to the change-event bus. The returned
// channel carries raw published payloads (already-marshalled Event
// JSON); it is closed when the context is cancelled or the underlying
// subscription errors out. Callers must not block on the channel past
// ctx's lifetime.
func (b *Broker) Subscribe(ctx context.Context) <-chan string {
	out := make(chan string)
	pubsub := b.sub.Subscribe(ctx, b.cfg.EventsChannel)

	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
