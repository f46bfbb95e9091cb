package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"streamq/internal/infrastructure/streams"
)

const (
	dequeueBackoffStart = 50 * time.Millisecond
	dequeueBackoffCap   = 250 * time.Millisecond
)

// Dequeue reads the next available message across the manual stream and
// the priority bands, strict high-to-low, honouring ackTimeoutOverride
// if non-nil. It blocks, backing off with exponential delay, until
// timeout elapses, at which point it returns (Message{}, false, nil).
func (b *Broker) Dequeue(ctx context.Context, timeout time.Duration, ackTimeoutOverride *int) (Message, bool, error) {
	deadline := time.Now().Add(timeout)
	backoff := dequeueBackoffStart

	for {
		for _, stream := range b.layout.DequeueOrder() {
			msg, ok, err := b.tryReadOne(ctx, stream, ackTimeoutOverride)
			if err != nil {
				return Message{}, false, err
			}
			if ok {
				return msg, true, nil
			}
		}

		if time.Now().After(deadline) {
			return Message{}, false, nil
		}

		select {
		case <-ctx.Done():
			return Message{}, false, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > dequeueBackoffCap {
			backoff = dequeueBackoffCap
		}
	}
}

// tryReadOne attempts a single COUNT-1 consumer-group read against
// stream, self-healing on NOGROUP by creating the group and retrying
// once. A malformed entry (missing data field, or codec failure) is
// ACKed+DELed and treated as absent.
func (b *Broker) tryReadOne(ctx context.Context, stream string, ackTimeoutOverride *int) (Message, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		msgs, err := b.sub.GroupRead(ctx, b.cfg.ConsumerGroupName, b.cfg.ConsumerName, stream, ">", 1, 0)
		if err != nil {
			if streams.IsNoGroup(err) {
				if ensureErr := b.sub.EnsureGroup(ctx, stream, b.cfg.ConsumerGroupName, "0"); ensureErr != nil {
					return Message{}, false, ensureErr
				}
				continue
			}
			return Message{}, false, err
		}
		if len(msgs) == 0 {
			return Message{}, false, nil
		}
		return b.handleRead(ctx, stream, msgs[0], ackTimeoutOverride)
	}
	return Message{}, false, nil
}

func (b *Broker) handleRead(ctx context.Context, stream string, raw redis.XMessage, ackTimeoutOverride *int) (Message, bool, error) {
	data, ok := raw.Values["data"].(string)
	if !ok || data == "" {
		b.discard(ctx, stream, raw.ID)
		return Message{}, false, nil
	}

	var msg Message
	if err := b.codec.Decode(data, &msg); err != nil {
		b.discard(ctx, stream, raw.ID)
		return Message{}, false, nil
	}

	msg.StreamID = raw.ID
	msg.StreamName = stream

	if err := b.upsertDequeueMetadata(ctx, msg, ackTimeoutOverride); err != nil {
		return Message{}, false, err
	}

	b.addDequeued(1)
	return msg, true, nil
}

// discard ACKs and deletes a malformed entry so it is never redelivered.
func (b *Broker) discard(ctx context.Context, stream, streamID string) {
	_, _ = b.sub.Ack(ctx, stream, b.cfg.ConsumerGroupName, streamID)
	_, _ = b.sub.Delete(ctx, stream, streamID)
}

// upsertDequeueMetadata loads or initialises the metadata record for a
// delivered message. AttemptCount is only bumped here on a message's
// very first delivery (no existing record); a redelivery always finds
// an existing record because reclaim's requeue already incremented
// AttemptCount when it put the message back on the stream, so counting
// again here would double-count the same retry cycle.
func (b *Broker) upsertDequeueMetadata(ctx context.Context, msg Message, paramOverride *int) error {
	existing, err := b.loadMetadata(ctx, msg.ID)
	if err != nil {
		return err
	}

	meta := Metadata{CreatedAt: msg.CreatedAt}
	if existing != nil {
		meta = *existing
	}

	var existingAckOverride *int
	if existing != nil {
		existingAckOverride = existing.CustomAckTimeout
	}
	ackTimeout := b.effectiveAckTimeout(paramOverride, msg.CustomAckTimeout, existingAckOverride)

	if existing == nil {
		meta.AttemptCount++
	}
	meta.DequeuedAt = float64(time.Now().Unix())
	meta.CustomAckTimeout = &ackTimeout
	if msg.CustomMaxAttempts != nil {
		meta.CustomMaxAttempts = msg.CustomMaxAttempts
	}
	original := msg
	meta.OriginalMessage = &original

	return b.saveMetadata(ctx, msg.ID, meta)
}
