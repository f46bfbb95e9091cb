package broker

import "context"

// ClearQueue deletes every message currently visible in qt, reusing the
// same materialise+locate path Query and BulkDelete already walk.
func (b *Broker) ClearQueue(ctx context.Context, qt QueueType) (int, error) {
	candidates, err := b.materialise(ctx, qt, 0)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]string, len(candidates))
	for i, msg := range candidates {
		ids[i] = msg.ID
	}
	return b.BulkDelete(ctx, qt, ids)
}

// ClearAll clears every queue type, returning the per-type counts, and
// resets the in-memory stats counters to match the now-empty broker.
func (b *Broker) ClearAll(ctx context.Context) (map[QueueType]int, error) {
	counts := make(map[QueueType]int, 4)
	for _, qt := range []QueueType{QueueMain, QueueProcessing, QueueDead, QueueAck} {
		n, err := b.ClearQueue(ctx, qt)
		if err != nil {
			return counts, err
		}
		counts[qt] = n
	}
	b.ResetStats()
	return counts, nil
}
