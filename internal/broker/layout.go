package broker

import "fmt"

// Layout names the streams and keys derived from a queue name and band
// count. It holds no connection and no state; it is pure naming.
type Layout struct {
	QueueName   string
	Bands       int // MAX_PRIORITY_LEVELS
	GroupName   string
}

// NewLayout builds a Layout for queueName with the given number of
// priority bands (clamped to at least 1).
func NewLayout(queueName, groupName string, bands int) Layout {
	if bands < 1 {
		bands = 1
	}
	return Layout{QueueName: queueName, Bands: bands, GroupName: groupName}
}

// Band returns the stream name for priority level p (already clamped to
// [0, Bands-1] by the caller). Priority 0 is the base queue name itself.
func (l Layout) Band(p int) string {
	if p <= 0 {
		return l.QueueName
	}
	return fmt.Sprintf("%s_p%d", l.QueueName, p)
}

// AllBands returns every band stream name, highest priority first — the
// order dequeue and query must honour.
func (l Layout) AllBands() []string {
	bands := make([]string, l.Bands)
	for p := 0; p < l.Bands; p++ {
		bands[l.Bands-1-p] = l.Band(p)
	}
	return bands
}

// Manual is the isolation stream used for manual moves into processing.
func (l Layout) Manual() string {
	return l.QueueName + "_manual"
}

// Dead is the dead-letter stream.
func (l Layout) Dead() string {
	return l.QueueName + "_dlq"
}

// Acknowledged is the bounded ack-history stream.
func (l Layout) Acknowledged() string {
	return l.QueueName + "_acknowledged"
}

// MetadataKey is the hash key holding the metadata record for id.
func (l Layout) MetadataKey(id string) string {
	return fmt.Sprintf("%s:meta:%s", l.QueueName, id)
}

// TotalAckKey is the counter key for total acknowledgements.
func (l Layout) TotalAckKey() string {
	return l.QueueName + ":total_ack"
}

// ReclaimLeaseKey is the distributed-lease key the reclaimer guards its
// sweep with.
func (l Layout) ReclaimLeaseKey() string {
	return l.QueueName + ":reclaim:lease"
}

// ClampPriority clamps p into [0, Bands-1].
func (l Layout) ClampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > l.Bands-1 {
		return l.Bands - 1
	}
	return p
}

// DequeueOrder returns the stream order a dequeue attempt walks: the
// manual stream first, then bands strictly high-to-low.
func (l Layout) DequeueOrder() []string {
	order := make([]string, 0, l.Bands+1)
	order = append(order, l.Manual())
	order = append(order, l.AllBands()...)
	return order
}

// IsBand reports whether stream is one of the priority bands (not
// manual, dead, or acknowledged).
func (l Layout) IsBand(stream string) bool {
	for _, b := range l.AllBands() {
		if b == stream {
			return true
		}
	}
	return false
}
