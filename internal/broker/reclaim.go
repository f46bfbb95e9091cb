package broker

import (
	"context"
	"time"

	"streamq/pkg/id"
)

// reclaimLeaseTTL is the fixed lifetime of the distributed lease
// guarding a sweep.
const reclaimLeaseTTL = 30 * time.Second

const reclaimFreshThreshold = 1 * time.Second

// ReclaimResult summarises one sweep.
type ReclaimResult struct {
	Requeued int
	DeadLettered int
}

// Reclaim runs one pending-entries sweep across every band and the
// manual stream, gated by a short-lived substrate-backed lease. Losing
// the race for the lease is silent success (a zero ReclaimResult).
func (b *Broker) Reclaim(ctx context.Context) (ReclaimResult, error) {
	token := id.New()
	acquired, err := b.sub.AcquireLease(ctx, b.layout.ReclaimLeaseKey(), token, reclaimLeaseTTL)
	if err != nil {
		return ReclaimResult{}, err
	}
	if !acquired {
		return ReclaimResult{}, nil
	}
	defer func() {
		if releaseErr := b.sub.ReleaseLease(ctx, b.layout.ReclaimLeaseKey(), token); releaseErr != nil {
			b.logger.Warn("reclaim: failed to release lease", "error", releaseErr)
		}
	}()

	var result ReclaimResult
	for _, stream := range append([]string{b.layout.Manual()}, b.layout.AllBands()...) {
		swept, err := b.sweepStream(ctx, stream)
		if err != nil {
			b.logger.Warn("reclaim: sweep failed", "stream", stream, "error", err)
			continue
		}
		result.Requeued += swept.Requeued
		result.DeadLettered += swept.DeadLettered
	}

	if result.DeadLettered > 0 {
		b.emit(ctx, EventMoveToDLQ, map[string]interface{}{"count": result.DeadLettered})
	}
	if result.Requeued > 0 {
		b.emit(ctx, EventRequeue, map[string]interface{}{"count": result.Requeued})
	}

	return result, nil
}

func (b *Broker) sweepStream(ctx context.Context, stream string) (ReclaimResult, error) {
	var result ReclaimResult

	pending, err := b.sub.Pending(ctx, stream, b.cfg.ConsumerGroupName, 0, "-", "+", int64(b.cfg.BatchSize), "")
	if err != nil {
		return result, err
	}

	for _, entry := range pending {
		idle := entry.Idle
		if idle < reclaimFreshThreshold {
			continue
		}

		msg, meta, err := b.loadPendingMessage(ctx, stream, entry.ID)
		if err != nil || msg == nil {
			continue
		}

		ackTimeout := b.effectiveAckTimeoutReclaim(meta.CustomAckTimeout, msg.CustomAckTimeout)
		if idle < time.Duration(ackTimeout)*time.Second {
			continue
		}

		maxAttempts := b.effectiveMaxAttemptsReclaim(meta.CustomMaxAttempts, msg.CustomMaxAttempts)

		if meta.AttemptCount < maxAttempts {
			if err := b.requeue(ctx, stream, entry.ID, *msg, *meta); err != nil {
				b.logger.Warn("reclaim: requeue failed", "id", msg.ID, "error", err)
				continue
			}
			result.Requeued++
		} else {
			if err := b.deadLetter(ctx, stream, entry.ID, *msg); err != nil {
				b.logger.Warn("reclaim: dead-letter failed", "id", msg.ID, "error", err)
				continue
			}
			result.DeadLettered++
		}
	}

	return result, nil
}

// loadPendingMessage recovers the message body for a PEL entry from its
// stream entry, along with its metadata record (an empty record when
// none exists).
func (b *Broker) loadPendingMessage(ctx context.Context, stream, streamID string) (*Message, *Metadata, error) {
	msgs, err := b.sub.RangeForward(ctx, stream, streamID, streamID, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(msgs) == 0 {
		return nil, nil, nil
	}
	data, _ := msgs[0].Values["data"].(string)
	var msg Message
	if err := b.codec.Decode(data, &msg); err != nil {
		return nil, nil, nil
	}
	msg.StreamID = streamID
	msg.StreamName = stream

	meta, err := b.loadMetadata(ctx, msg.ID)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		meta = &Metadata{}
	}
	return &msg, meta, nil
}

// requeue re-appends msg to stream and increments its attempt count in
// the metadata record, so the retry is observable immediately after
// this sweep rather than only on the next Dequeue.
func (b *Broker) requeue(ctx context.Context, stream, streamID string, msg Message, meta Metadata) error {
	msg.StreamID = ""
	msg.StreamName = ""
	raw, err := b.codec.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := b.sub.Append(ctx, stream, map[string]interface{}{"data": raw}); err != nil {
		return err
	}
	if _, err := b.sub.Ack(ctx, stream, b.cfg.ConsumerGroupName, streamID); err != nil {
		b.logger.Warn("reclaim: failed to ack old entry on requeue", "id", msg.ID, "error", err)
	}
	if _, err := b.sub.Delete(ctx, stream, streamID); err != nil {
		b.logger.Warn("reclaim: failed to delete old entry on requeue", "id", msg.ID, "error", err)
	}

	meta.AttemptCount++
	if err := b.saveMetadata(ctx, msg.ID, meta); err != nil {
		b.logger.Warn("reclaim: failed to save metadata on requeue", "id", msg.ID, "error", err)
	}

	b.addRequeued(1)
	return nil
}

func (b *Broker) deadLetter(ctx context.Context, stream, streamID string, msg Message) error {
	msg.StreamID = ""
	msg.StreamName = ""

	dead := struct {
		Message
		FailedAt  float64 `json:"failed_at"`
		LastError string  `json:"last_error"`
	}{
		Message:   msg,
		FailedAt:  float64(time.Now().Unix()),
		LastError: "Max attempts exceeded",
	}

	raw, err := b.codec.Encode(dead)
	if err != nil {
		return err
	}
	if _, err := b.sub.Append(ctx, b.layout.Dead(), map[string]interface{}{"data": raw}); err != nil {
		return err
	}
	if _, err := b.sub.Ack(ctx, stream, b.cfg.ConsumerGroupName, streamID); err != nil {
		b.logger.Warn("reclaim: failed to ack old entry on dead-letter", "id", msg.ID, "error", err)
	}
	if _, err := b.sub.Delete(ctx, stream, streamID); err != nil {
		b.logger.Warn("reclaim: failed to delete old entry on dead-letter", "id", msg.ID, "error", err)
	}
	if err := b.purgeMetadata(ctx, msg.ID); err != nil {
		b.logger.Warn("reclaim: failed to purge metadata on dead-letter", "id", msg.ID, "error", err)
	}
	b.addFailed(1)
	return nil
}
