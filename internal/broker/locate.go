package broker

import "context"

// located is a message found by id together with the stream coordinates
// it currently occupies.
type located struct {
	msg        Message
	stream     string
	streamID   string
	inPEL      bool // true if the entry is also a pending (processing) entry
}

// findInBands forward-scans every priority band for ids, decoding each
// entry to read its logical id. Ids are user-visible
// and distinct from stream-ids, so a scan is unavoidable without an
// auxiliary index (spec.md §9 "Scanning for ids").
func (b *Broker) findInBands(ctx context.Context, ids map[string]bool) (map[string]located, error) {
	found := make(map[string]located, len(ids))
	for _, stream := range b.layout.AllBands() {
		if len(found) == len(ids) {
			break
		}
		msgs, err := b.sub.RangeForward(ctx, stream, "-", "+", 0)
		if err != nil {
			return nil, err
		}
		for _, raw := range msgs {
			data, _ := raw.Values["data"].(string)
			var msg Message
			if err := b.codec.Decode(data, &msg); err != nil {
				continue
			}
			if !ids[msg.ID] {
				continue
			}
			msg.StreamID = raw.ID
			msg.StreamName = stream
			found[msg.ID] = located{msg: msg, stream: stream, streamID: raw.ID}
		}
	}
	return found, nil
}

// findInStream forward-scans a single stream (dead or acknowledged) for ids.
func (b *Broker) findInStream(ctx context.Context, stream string, ids map[string]bool) (map[string]located, error) {
	found := make(map[string]located, len(ids))
	msgs, err := b.sub.RangeForward(ctx, stream, "-", "+", 0)
	if err != nil {
		return nil, err
	}
	for _, raw := range msgs {
		data, _ := raw.Values["data"].(string)
		var msg Message
		if err := b.codec.Decode(data, &msg); err != nil {
			continue
		}
		if !ids[msg.ID] {
			continue
		}
		msg.StreamID = raw.ID
		msg.StreamName = stream
		found[msg.ID] = located{msg: msg, stream: stream, streamID: raw.ID}
	}
	return found, nil
}

// findInProcessing scans the PELs of every band and the manual stream
// for ids, decoding each hit's body from its stream entry.
func (b *Broker) findInProcessing(ctx context.Context, ids map[string]bool) (map[string]located, error) {
	found := make(map[string]located, len(ids))
	streamsToScan := append([]string{b.layout.Manual()}, b.layout.AllBands()...)

	for _, stream := range streamsToScan {
		if len(found) == len(ids) {
			break
		}
		pending, err := b.sub.Pending(ctx, stream, b.cfg.ConsumerGroupName, 0, "-", "+", int64(b.cfg.BatchSize)+200, "")
		if err != nil {
			return nil, err
		}
		for _, entry := range pending {
			msg, _, err := b.loadPendingMessage(ctx, stream, entry.ID)
			if err != nil || msg == nil {
				continue
			}
			if !ids[msg.ID] {
				continue
			}
			found[msg.ID] = located{msg: *msg, stream: stream, streamID: entry.ID, inPEL: true}
		}
	}
	return found, nil
}

// locateByType finds ids within the logical queue named by qt.
func (b *Broker) locateByType(ctx context.Context, qt QueueType, ids map[string]bool) (map[string]located, error) {
	switch qt {
	case QueueMain:
		return b.findInBands(ctx, ids)
	case QueueProcessing:
		return b.findInProcessing(ctx, ids)
	case QueueDead:
		return b.findInStream(ctx, b.layout.Dead(), ids)
	case QueueAck:
		return b.findInStream(ctx, b.layout.Acknowledged(), ids)
	default:
		return nil, ErrInvalidQueueType
	}
}
