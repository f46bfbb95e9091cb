// Package broker implements the priority-stream message broker engine:
// enqueue, dequeue, acknowledgement, reclaim, move/edit/delete, query,
// and the change-event bus, all built on top of the stream substrate.
package broker

import "encoding/json"

// QueueType names one of the logical queues a client can address.
// "processing" is virtual — it has no backing stream, only PEL entries
// across the priority bands and the manual stream.
type QueueType string

const (
	QueueMain       QueueType = "main"
	QueueProcessing QueueType = "processing"
	QueueDead       QueueType = "dead"
	QueueAck        QueueType = "acknowledged"
)

// ParseQueueType maps a URL path segment to a QueueType.
func ParseQueueType(s string) (QueueType, bool) {
	switch QueueType(s) {
	case QueueMain, QueueProcessing, QueueDead, QueueAck:
		return QueueType(s), true
	default:
		return "", false
	}
}

// Message is the wire-level record a producer submits and a consumer
// receives. Payload is kept as a raw JSON value; the core never
// interprets it beyond serialisation and substring search.
type Message struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	Priority          int             `json:"priority"`
	CreatedAt         float64         `json:"created_at"`
	CustomAckTimeout  *int            `json:"custom_ack_timeout,omitempty"`
	CustomMaxAttempts *int            `json:"custom_max_attempts,omitempty"`

	// Lock fields, populated only on a dequeued envelope. Never part of
	// the serialised stream payload.
	StreamID   string `json:"_stream_id,omitempty"`
	StreamName string `json:"_stream_name,omitempty"`

	// View-enrichment fields, populated only by Query/status materialisation.
	// Never part of the serialised stream payload.
	AttemptCount        *int     `json:"attempt_count,omitempty"`
	LastError           string   `json:"last_error,omitempty"`
	ProcessingStartedAt *float64 `json:"processing_started_at,omitempty"`
	AcknowledgedAt      *float64 `json:"acknowledged_at,omitempty"`
	FailedAt            *float64 `json:"failed_at,omitempty"`
}

// Lock is the sole proof of ownership returned by dequeue and required
// by ack. It is carried inline on Message (StreamID/StreamName), never
// stored in a table of its own.
type Lock struct {
	StreamName string
	StreamID   string
}

func (m Message) Lock() Lock {
	return Lock{StreamName: m.StreamName, StreamID: m.StreamID}
}

// HasLock reports whether m carries both halves of a dequeue lock.
func (m Message) HasLock() bool {
	return m.StreamID != "" && m.StreamName != ""
}

// Metadata is the per-message hash record consulted by ack and reclaim.
// It exists whenever a message has been dequeued at least once and has
// not yet terminated.
type Metadata struct {
	AttemptCount      int      `json:"attempt_count"`
	DequeuedAt        float64  `json:"dequeued_at"`
	CreatedAt         float64  `json:"created_at"`
	LastError         string   `json:"last_error,omitempty"`
	CustomAckTimeout  *int     `json:"custom_ack_timeout,omitempty"`
	CustomMaxAttempts *int     `json:"custom_max_attempts,omitempty"`
	OriginalMessage   *Message `json:"_original_message,omitempty"`
}

// AckHistoryEntry is an append-only snapshot of an acknowledged message.
type AckHistoryEntry struct {
	Message
	AcknowledgedAt float64 `json:"acknowledged_at"`
}

// Stats is the per-process, in-memory counter bundle. It resets on a
// full clear and is never made durable.
type Stats struct {
	Enqueued     int64 `json:"enqueued"`
	Dequeued     int64 `json:"dequeued"`
	Acknowledged int64 `json:"acknowledged"`
	Failed       int64 `json:"failed"`
	Requeued     int64 `json:"requeued"`
}

// Pagination describes a single page of a Query result.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// QueryParams shapes a Query call: filters, sort, and pagination.
type QueryParams struct {
	Page           int
	Limit          int
	SortBy         string
	SortOrder      string
	FilterType     string
	FilterPriority *int
	MinAttempts    *int
	StartDate      *float64
	EndDate        *float64
	Search         string
}

// QueryResult is the materialised view a Query call returns.
type QueryResult struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// StatusView is the richer per-queue summary the status endpoint
// returns: counts plus a bounded recent preview.
type StatusView struct {
	Counts   map[QueueType]int64    `json:"counts"`
	Previews map[QueueType][]Message `json:"previews,omitempty"`
}
