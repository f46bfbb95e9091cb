package broker

import (
	"context"
	"errors"
	"time"
)

// ErrMissingLock signals an ack attempt without the stream_id/stream_name
// lock fields.
var ErrMissingLock = errors.New("broker: ack requires a dequeue lock")

// Ack verifies the lock embedded in envelope, recovers the original
// message body if the caller did not provide type/payload, and
// completes the acknowledgement: XACK+XDEL the source entry, append to
// ack history (trimmed), increment the total-ack counter, and purge
// metadata.
//
// A second ack against an already-acknowledged lock is a no-op: XACK
// reports zero affected entries and nothing further is mutated.
func (b *Broker) Ack(ctx context.Context, envelope Message) error {
	if envelope.ID == "" || !envelope.HasLock() {
		return ErrMissingLock
	}

	full, err := b.recoverBody(ctx, envelope)
	if err != nil {
		return err
	}

	acked, err := b.sub.Ack(ctx, envelope.StreamName, b.cfg.ConsumerGroupName, envelope.StreamID)
	if err != nil {
		return err
	}
	if acked == 0 {
		// Already acknowledged by a prior call; idempotent no-op.
		return nil
	}

	if _, err := b.sub.Delete(ctx, envelope.StreamName, envelope.StreamID); err != nil {
		b.logger.Warn("ack: failed to delete source entry", "id", envelope.ID, "error", err)
	}

	entry := AckHistoryEntry{Message: full, AcknowledgedAt: float64(time.Now().Unix())}
	entry.StreamID = ""
	entry.StreamName = ""

	raw, err := b.codec.Encode(entry)
	if err != nil {
		b.logger.Warn("ack: failed to encode ack history entry", "id", envelope.ID, "error", err)
	} else if _, err := b.sub.AppendTrimmed(ctx, b.layout.Acknowledged(), map[string]interface{}{"data": raw}, b.cfg.MaxAcknowledgedHistory); err != nil {
		b.logger.Warn("ack: failed to append ack history", "id", envelope.ID, "error", err)
	}

	if _, err := b.sub.Incr(ctx, b.layout.TotalAckKey()); err != nil {
		b.logger.Warn("ack: failed to increment total-ack counter", "id", envelope.ID, "error", err)
	}

	if err := b.purgeMetadata(ctx, envelope.ID); err != nil {
		b.logger.Warn("ack: failed to purge metadata", "id", envelope.ID, "error", err)
	}

	b.addAcknowledged(1)
	b.emit(ctx, EventAcknowledge, map[string]interface{}{"id": envelope.ID})

	return nil
}

// recoverBody fills in type/payload from metadata's original-message
// snapshot, then, failing that, from a direct range read against the
// lock's stream entry.
func (b *Broker) recoverBody(ctx context.Context, envelope Message) (Message, error) {
	if envelope.Type != "" && envelope.Payload != nil {
		return envelope, nil
	}

	meta, err := b.loadMetadata(ctx, envelope.ID)
	if err != nil {
		return Message{}, err
	}
	if meta != nil && meta.OriginalMessage != nil {
		recovered := *meta.OriginalMessage
		recovered.ID = envelope.ID
		recovered.StreamID = envelope.StreamID
		recovered.StreamName = envelope.StreamName
		return recovered, nil
	}

	msgs, err := b.sub.RangeForward(ctx, envelope.StreamName, envelope.StreamID, envelope.StreamID, 1)
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return envelope, nil
	}
	data, _ := msgs[0].Values["data"].(string)
	var recovered Message
	if err := b.codec.Decode(data, &recovered); err != nil {
		return envelope, nil
	}
	recovered.ID = envelope.ID
	recovered.StreamID = envelope.StreamID
	recovered.StreamName = envelope.StreamName
	return recovered, nil
}
