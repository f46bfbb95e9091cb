package broker

import (
	"context"
	"errors"
	"time"

	"streamq/pkg/id"
)

// ErrEnqueueFailed wraps a substrate append failure during enqueue.
var ErrEnqueueFailed = errors.New("broker: enqueue failed")

// forceRefreshThreshold is the batch-size boundary past which the
// enqueue event carries only a count instead of the materialised
// message list. A UX optimisation, not a correctness boundary.
const forceRefreshThreshold = 50

// Enqueue assigns an id and created_at if missing, clamps priority,
// serialises msg, and appends it to the appropriate band.
func (b *Broker) Enqueue(ctx context.Context, msg Message) (Message, error) {
	prepared := b.prepare(msg)

	raw, err := b.codec.Encode(prepared)
	if err != nil {
		return Message{}, ErrCodecError
	}

	stream := b.layout.Band(prepared.Priority)
	_, err = b.sub.Append(ctx, stream, map[string]interface{}{"data": raw})
	if err != nil {
		return Message{}, ErrEnqueueFailed
	}

	b.addEnqueued(1)
	b.emit(ctx, EventEnqueue, map[string]interface{}{"count": 1, "message": prepared})

	return prepared, nil
}

// EnqueueBatch pipelines the appends for msgs and returns the number of
// successes. Above forceRefreshThreshold the emitted event carries only
// a count and a force_refresh flag, to avoid an oversized payload.
func (b *Broker) EnqueueBatch(ctx context.Context, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	byBand := make(map[string][]map[string]interface{})
	prepared := make([]Message, 0, len(msgs))

	for _, msg := range msgs {
		p := b.prepare(msg)
		raw, err := b.codec.Encode(p)
		if err != nil {
			continue
		}
		stream := b.layout.Band(p.Priority)
		byBand[stream] = append(byBand[stream], map[string]interface{}{"data": raw})
		prepared = append(prepared, p)
	}

	succeeded := 0
	for stream, entries := range byBand {
		ids, err := b.sub.AppendBatch(ctx, stream, entries)
		if err != nil {
			continue
		}
		for _, sid := range ids {
			if sid != "" {
				succeeded++
			}
		}
	}

	if succeeded == 0 {
		return 0, nil
	}

	b.addEnqueued(int64(succeeded))

	if succeeded <= forceRefreshThreshold {
		b.emit(ctx, EventEnqueue, map[string]interface{}{"count": succeeded, "messages": prepared})
	} else {
		b.emit(ctx, EventEnqueue, map[string]interface{}{"count": succeeded, "force_refresh": true})
	}

	return succeeded, nil
}

func (b *Broker) prepare(msg Message) Message {
	if msg.ID == "" {
		msg.ID = id.New()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = float64(time.Now().Unix())
	}
	msg.Priority = b.layout.ClampPriority(msg.Priority)
	msg.StreamID = ""
	msg.StreamName = ""
	return msg
}
