package broker

import (
	"context"
	"errors"
	"time"

	"streamq/internal/infrastructure/streams"
)

// ErrInvalidQueueType signals an unrecognized QueueType value.
var ErrInvalidQueueType = errors.New("broker: invalid queue type")

// ErrNotFound signals an edit/delete target that is not present in the
// named queue.
var ErrNotFound = errors.New("broker: message not found")

// ErrConflict signals a move whose destination already holds the id.
var ErrConflict = errors.New("broker: destination conflict")

// moveProcessingBudgetSlack is added to the target count to bound the
// move-to-processing scan loop.
const moveProcessingBudgetSlack = 200

// Move relocates the given ids from the "from" queue to the "to" queue,
// deduplicating by id. errorReason, if set, becomes the dead-letter
// entry's last_error when to == QueueDead.
func (b *Broker) Move(ctx context.Context, ids []string, from, to QueueType, errorReason string) (int, error) {
	idSet := dedupe(ids)
	if len(idSet) == 0 {
		return 0, nil
	}

	found, err := b.locateByType(ctx, from, idSet)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, nil
	}

	if to == QueueProcessing {
		return b.moveToProcessing(ctx, found)
	}

	moved := 0
	for id, loc := range found {
		if err := b.relocate(ctx, loc, to, errorReason); err != nil {
			b.logger.Warn("move: relocate failed", "id", id, "error", err)
			continue
		}
		moved++
	}

	if moved > 0 {
		b.emit(ctx, EventMove, map[string]interface{}{"from": from, "to": to, "count": moved})
	}

	return moved, nil
}

// relocate ACKs the source entry when it is pending in a consumer
// group, DELs it, and appends the message to its destination with
// per-destination shaping.
func (b *Broker) relocate(ctx context.Context, loc located, to QueueType, errorReason string) error {
	msg := loc.msg

	if loc.inPEL {
		if _, err := b.sub.Ack(ctx, loc.stream, b.cfg.ConsumerGroupName, loc.streamID); err != nil {
			b.logger.Warn("move: failed to ack source entry", "id", msg.ID, "error", err)
		}
	}
	if _, err := b.sub.Delete(ctx, loc.stream, loc.streamID); err != nil {
		b.logger.Warn("move: failed to delete source entry", "id", msg.ID, "error", err)
	}

	msg.StreamID = ""
	msg.StreamName = ""

	switch to {
	case QueueMain:
		target := b.layout.Band(msg.Priority)
		raw, err := b.codec.Encode(msg)
		if err != nil {
			return err
		}
		_, err = b.sub.Append(ctx, target, map[string]interface{}{"data": raw})
		return err

	case QueueAck:
		entry := AckHistoryEntry{Message: msg, AcknowledgedAt: float64(time.Now().Unix())}
		raw, err := b.codec.Encode(entry)
		if err != nil {
			return err
		}
		if _, err := b.sub.AppendTrimmed(ctx, b.layout.Acknowledged(), map[string]interface{}{"data": raw}, b.cfg.MaxAcknowledgedHistory); err != nil {
			return err
		}
		if _, err := b.sub.Incr(ctx, b.layout.TotalAckKey()); err != nil {
			b.logger.Warn("move: failed to increment total-ack counter", "id", msg.ID, "error", err)
		}
		b.addAcknowledged(1)
		return b.purgeMetadata(ctx, msg.ID)

	case QueueDead:
		reason := errorReason
		if reason == "" {
			reason = "Manually moved to DLQ"
		}
		dead := struct {
			Message
			FailedAt  float64 `json:"failed_at"`
			LastError string  `json:"last_error"`
		}{Message: msg, FailedAt: float64(time.Now().Unix()), LastError: reason}
		raw, err := b.codec.Encode(dead)
		if err != nil {
			return err
		}
		_, err = b.sub.Append(ctx, b.layout.Dead(), map[string]interface{}{"data": raw})
		return err

	default:
		return ErrInvalidQueueType
	}
}

// moveToProcessing appends each target message to the manual isolation
// stream, then performs bounded consumer-group reads against that
// stream only, marking each delivered entry in the PEL and upserting
// metadata exactly as Dequeue would. A foreign entry encountered along
// the way (not one of the targets) is returned to its natural band and
// ACK+DELed from the manual stream.
func (b *Broker) moveToProcessing(ctx context.Context, found map[string]located) (int, error) {
	manual := b.layout.Manual()

	for id, loc := range found {
		msg := loc.msg
		if loc.inPEL {
			if _, err := b.sub.Ack(ctx, loc.stream, b.cfg.ConsumerGroupName, loc.streamID); err != nil {
				b.logger.Warn("move-to-processing: failed to ack source entry", "id", id, "error", err)
			}
		}
		if _, err := b.sub.Delete(ctx, loc.stream, loc.streamID); err != nil {
			b.logger.Warn("move-to-processing: failed to delete source entry", "id", id, "error", err)
		}
		msg.StreamID = ""
		msg.StreamName = ""
		raw, err := b.codec.Encode(msg)
		if err != nil {
			b.logger.Warn("move-to-processing: failed to encode target", "id", id, "error", err)
			continue
		}
		if _, err := b.sub.Append(ctx, manual, map[string]interface{}{"data": raw}); err != nil {
			b.logger.Warn("move-to-processing: failed to append target", "id", id, "error", err)
		}
	}

	remaining := make(map[string]bool, len(found))
	for id := range found {
		remaining[id] = true
	}

	budget := len(found) + moveProcessingBudgetSlack
	moved := 0

	for budget > 0 && len(remaining) > 0 {
		budget--

		msgs, err := b.sub.GroupRead(ctx, b.cfg.ConsumerGroupName, b.cfg.ConsumerName, manual, ">", 1, 0)
		if err != nil {
			if streams.IsNoGroup(err) {
				if ensureErr := b.sub.EnsureGroup(ctx, manual, b.cfg.ConsumerGroupName, "0"); ensureErr != nil {
					return moved, ensureErr
				}
				continue
			}
			return moved, err
		}
		if len(msgs) == 0 {
			break
		}

		raw := msgs[0]
		data, _ := raw.Values["data"].(string)
		var msg Message
		if err := b.codec.Decode(data, &msg); err != nil {
			_, _ = b.sub.Ack(ctx, manual, b.cfg.ConsumerGroupName, raw.ID)
			_, _ = b.sub.Delete(ctx, manual, raw.ID)
			continue
		}

		if !remaining[msg.ID] {
			// Stale foreign entry: return it to its natural band.
			home := b.layout.Band(msg.Priority)
			msg.StreamID = ""
			msg.StreamName = ""
			if encoded, err := b.codec.Encode(msg); err == nil {
				_, _ = b.sub.Append(ctx, home, map[string]interface{}{"data": encoded})
			}
			_, _ = b.sub.Ack(ctx, manual, b.cfg.ConsumerGroupName, raw.ID)
			_, _ = b.sub.Delete(ctx, manual, raw.ID)
			continue
		}

		msg.StreamID = raw.ID
		msg.StreamName = manual
		if err := b.upsertDequeueMetadata(ctx, msg, nil); err != nil {
			b.logger.Warn("move-to-processing: failed to upsert metadata", "id", msg.ID, "error", err)
		}
		delete(remaining, msg.ID)
		moved++
	}

	if moved > 0 {
		b.emit(ctx, EventMove, map[string]interface{}{"from": "main", "to": "processing", "count": moved})
	}

	return moved, nil
}

// Edit updates a message's mutable fields. For main/dead, the existing
// entry is removed and a new one appended: for main, to the band of the
// message's (possibly updated) priority; for dead, to the dead-letter
// stream (this shifts FIFO order — a deliberate, documented behaviour). priority is
// a pointer so an omitted field leaves the message's existing priority
// untouched instead of resetting it to band 0. For processing, only
// custom_ack_timeout is writable, and it is applied to the metadata
// record; any other field is silently ignored.
func (b *Broker) Edit(ctx context.Context, qt QueueType, id string, updates Message, priority, customAckTimeout *int) error {
	switch qt {
	case QueueMain, QueueDead:
		found, err := b.locateByType(ctx, qt, map[string]bool{id: true})
		if err != nil {
			return err
		}
		loc, ok := found[id]
		if !ok {
			return ErrNotFound
		}

		merged := loc.msg
		if updates.Type != "" {
			merged.Type = updates.Type
		}
		if updates.Payload != nil {
			merged.Payload = updates.Payload
		}
		if priority != nil {
			merged.Priority = b.layout.ClampPriority(*priority)
		}
		merged.StreamID = ""
		merged.StreamName = ""

		if _, err := b.sub.Delete(ctx, loc.stream, loc.streamID); err != nil {
			return err
		}

		stream := loc.stream
		if qt == QueueMain {
			stream = b.layout.Band(merged.Priority)
		}
		raw, err := b.codec.Encode(merged)
		if err != nil {
			return err
		}
		if _, err := b.sub.Append(ctx, stream, map[string]interface{}{"data": raw}); err != nil {
			return err
		}

		b.emit(ctx, EventUpdate, map[string]interface{}{"id": id, "queue": qt, "updates": updates})
		return nil

	case QueueProcessing:
		if customAckTimeout == nil {
			return nil
		}
		meta, err := b.loadMetadata(ctx, id)
		if err != nil {
			return err
		}
		if meta == nil {
			return ErrNotFound
		}
		meta.CustomAckTimeout = customAckTimeout
		if err := b.saveMetadata(ctx, id, *meta); err != nil {
			return err
		}
		b.emit(ctx, EventUpdate, map[string]interface{}{"id": id, "queue": qt, "updates": map[string]interface{}{"custom_ack_timeout": *customAckTimeout}})
		return nil

	default:
		return ErrInvalidQueueType
	}
}

// Delete removes id from the named queue, ACKing the PEL entry where a
// consumer group applies, then purging any metadata record.
func (b *Broker) Delete(ctx context.Context, qt QueueType, id string) error {
	found, err := b.locateByType(ctx, qt, map[string]bool{id: true})
	if err != nil {
		return err
	}
	loc, ok := found[id]
	if !ok {
		return ErrNotFound
	}

	if loc.inPEL {
		if _, err := b.sub.Ack(ctx, loc.stream, b.cfg.ConsumerGroupName, loc.streamID); err != nil {
			b.logger.Warn("delete: failed to ack entry", "id", id, "error", err)
		}
	}
	if _, err := b.sub.Delete(ctx, loc.stream, loc.streamID); err != nil {
		return err
	}
	if err := b.purgeMetadata(ctx, id); err != nil {
		b.logger.Warn("delete: failed to purge metadata", "id", id, "error", err)
	}

	b.emit(ctx, EventDelete, map[string]interface{}{"id": id, "queue": qt})
	return nil
}

// BulkDelete deletes every id in ids from the named queue, returning the
// count actually removed.
func (b *Broker) BulkDelete(ctx context.Context, qt QueueType, ids []string) (int, error) {
	idSet := dedupe(ids)
	if len(idSet) == 0 {
		return 0, nil
	}

	found, err := b.locateByType(ctx, qt, idSet)
	if err != nil {
		return 0, err
	}

	deleted := 0
	deletedIDs := make([]string, 0, len(found))
	for id, loc := range found {
		if loc.inPEL {
			if _, err := b.sub.Ack(ctx, loc.stream, b.cfg.ConsumerGroupName, loc.streamID); err != nil {
				b.logger.Warn("bulk delete: failed to ack entry", "id", id, "error", err)
			}
		}
		if _, err := b.sub.Delete(ctx, loc.stream, loc.streamID); err != nil {
			b.logger.Warn("bulk delete: failed to delete entry", "id", id, "error", err)
			continue
		}
		if err := b.purgeMetadata(ctx, id); err != nil {
			b.logger.Warn("bulk delete: failed to purge metadata", "id", id, "error", err)
		}
		deleted++
		deletedIDs = append(deletedIDs, id)
	}

	if deleted > 0 {
		b.emit(ctx, EventDelete, map[string]interface{}{"ids": deletedIDs, "count": deleted})
	}

	return deleted, nil
}

func dedupe(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}
