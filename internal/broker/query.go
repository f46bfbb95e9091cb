package broker

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"
)

const statusPreviewLimit = 100

// Query materialises a filtered, sorted, paginated view of qt.
func (b *Broker) Query(ctx context.Context, qt QueueType, params QueryParams) (QueryResult, error) {
	candidates, err := b.materialise(ctx, qt, 0)
	if err != nil {
		return QueryResult{}, err
	}

	filtered := b.filter(candidates, qt, params)
	b.sortMessages(filtered, params.SortBy, params.SortOrder)

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = b.cfg.BatchSize
	}

	total := int64(len(filtered))
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	if totalPages < 1 {
		totalPages = 1
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(filtered) {
		start = len(filtered)
	}
	if end > len(filtered) {
		end = len(filtered)
	}

	return QueryResult{
		Messages: filtered[start:end],
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

// Status returns per-queue counts and a bounded preview of the most
// recently created messages (newest first).
func (b *Broker) Status(ctx context.Context, includeMessages bool) (StatusView, error) {
	view := StatusView{Counts: make(map[QueueType]int64)}
	if includeMessages {
		view.Previews = make(map[QueueType][]Message)
	}

	for _, qt := range []QueueType{QueueMain, QueueProcessing, QueueDead, QueueAck} {
		candidates, err := b.materialise(ctx, qt, statusPreviewLimit)
		if err != nil {
			return StatusView{}, err
		}
		view.Counts[qt] = int64(len(candidates))
		if includeMessages {
			preview := candidates
			b.sortMessages(preview, "created_at", "desc")
			if len(preview) > statusPreviewLimit {
				preview = preview[:statusPreviewLimit]
			}
			view.Previews[qt] = preview
		}
	}

	return view, nil
}

// materialise builds the enriched candidate set for qt. previewLimit is
// accepted but not read by any path: every queue type is materialised
// in full.
func (b *Broker) materialise(ctx context.Context, qt QueueType, previewLimit int) ([]Message, error) {
	switch qt {
	case QueueMain:
		return b.materialiseMain(ctx)
	case QueueProcessing:
		return b.materialiseProcessing(ctx)
	case QueueDead:
		return b.materialiseRange(ctx, b.layout.Dead())
	case QueueAck:
		return b.materialiseAck(ctx)
	default:
		return nil, ErrInvalidQueueType
	}
}

// materialiseMain unions every band's entries, excluding any stream-id
// that also appears in that band's PEL (the "processing" split).
func (b *Broker) materialiseMain(ctx context.Context) ([]Message, error) {
	var out []Message
	for _, stream := range b.layout.AllBands() {
		pelIDs, err := b.pendingIDs(ctx, stream)
		if err != nil {
			return nil, err
		}
		msgs, err := b.sub.RangeForward(ctx, stream, "-", "+", 0)
		if err != nil {
			return nil, err
		}
		for _, raw := range msgs {
			if pelIDs[raw.ID] {
				continue
			}
			msg, ok := b.decodeCandidate(raw.Values, raw.ID, stream)
			if !ok {
				continue
			}
			b.enrich(ctx, &msg)
			out = append(out, msg)
		}
	}
	return out, nil
}

// materialiseProcessing unions the PELs of every band and the manual
// stream.
func (b *Broker) materialiseProcessing(ctx context.Context) ([]Message, error) {
	var out []Message
	streamsToScan := append([]string{b.layout.Manual()}, b.layout.AllBands()...)
	for _, stream := range streamsToScan {
		pending, err := b.sub.Pending(ctx, stream, b.cfg.ConsumerGroupName, 0, "-", "+", int64(b.cfg.BatchSize)+200, "")
		if err != nil {
			return nil, err
		}
		for _, entry := range pending {
			msgs, err := b.sub.RangeForward(ctx, stream, entry.ID, entry.ID, 1)
			if err != nil || len(msgs) == 0 {
				continue
			}
			msg, ok := b.decodeCandidate(msgs[0].Values, entry.ID, stream)
			if !ok {
				continue
			}
			startedAt := float64(time.Now().Add(-entry.Idle).Unix())
			msg.ProcessingStartedAt = &startedAt
			b.enrich(ctx, &msg)
			out = append(out, msg)
		}
	}
	return out, nil
}

func (b *Broker) materialiseRange(ctx context.Context, stream string) ([]Message, error) {
	msgs, err := b.sub.RangeForward(ctx, stream, "-", "+", 0)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, raw := range msgs {
		msg, ok := b.decodeCandidate(raw.Values, raw.ID, stream)
		if !ok {
			continue
		}
		b.enrich(ctx, &msg)
		out = append(out, msg)
	}
	return out, nil
}

func (b *Broker) materialiseAck(ctx context.Context) ([]Message, error) {
	msgs, err := b.sub.RangeForward(ctx, b.layout.Acknowledged(), "-", "+", 0)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, raw := range msgs {
		data, _ := raw.Values["data"].(string)
		var entry AckHistoryEntry
		if err := b.codec.Decode(data, &entry); err != nil {
			continue
		}
		msg := entry.Message
		ackedAt := entry.AcknowledgedAt
		msg.AcknowledgedAt = &ackedAt
		out = append(out, msg)
	}
	return out, nil
}

func (b *Broker) decodeCandidate(values map[string]interface{}, streamID, stream string) (Message, bool) {
	data, ok := values["data"].(string)
	if !ok || data == "" {
		return Message{}, false
	}
	var msg Message
	if err := b.codec.Decode(data, &msg); err != nil {
		return Message{}, false
	}
	msg.StreamID = streamID
	msg.StreamName = stream
	return msg, true
}

// enrich attaches metadata-derived fields (attempt_count, last_error,
// customs) to msg, where present. Failures are swallowed — enrichment
// is best-effort.
func (b *Broker) enrich(ctx context.Context, msg *Message) {
	meta, err := b.loadMetadata(ctx, msg.ID)
	if err != nil || meta == nil {
		return
	}
	attempts := meta.AttemptCount
	msg.AttemptCount = &attempts
	msg.LastError = meta.LastError
	if meta.CustomAckTimeout != nil {
		msg.CustomAckTimeout = meta.CustomAckTimeout
	}
	if meta.CustomMaxAttempts != nil {
		msg.CustomMaxAttempts = meta.CustomMaxAttempts
	}
}

func (b *Broker) pendingIDs(ctx context.Context, stream string) (map[string]bool, error) {
	pending, err := b.sub.Pending(ctx, stream, b.cfg.ConsumerGroupName, 0, "-", "+", int64(b.cfg.BatchSize)+200, "")
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(pending))
	for _, entry := range pending {
		ids[entry.ID] = true
	}
	return ids, nil
}

func (b *Broker) filter(candidates []Message, qt QueueType, params QueryParams) []Message {
	out := candidates[:0:0]
	for _, msg := range candidates {
		if params.FilterType != "" && !strings.EqualFold(msg.Type, params.FilterType) {
			continue
		}
		if params.FilterPriority != nil && msg.Priority != *params.FilterPriority {
			continue
		}
		if params.MinAttempts != nil {
			attempts := 0
			if msg.AttemptCount != nil {
				attempts = *msg.AttemptCount
			}
			if attempts < *params.MinAttempts {
				continue
			}
		}
		if ts := dateField(msg, qt); ts != nil {
			if params.StartDate != nil && *ts < *params.StartDate {
				continue
			}
			if params.EndDate != nil && *ts > *params.EndDate {
				continue
			}
		}
		if params.Search != "" && !matchesSearch(msg, params.Search) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func dateField(msg Message, qt QueueType) *float64 {
	switch qt {
	case QueueProcessing:
		return msg.ProcessingStartedAt
	case QueueAck:
		return msg.AcknowledgedAt
	default:
		created := msg.CreatedAt
		return &created
	}
}

func matchesSearch(msg Message, search string) bool {
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(msg.ID), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(string(msg.Payload)), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(msg.LastError), needle) {
		return true
	}
	return false
}

func (b *Broker) sortMessages(msgs []Message, sortBy, sortOrder string) {
	if sortBy == "" {
		sortBy = "created_at"
	}
	desc := strings.EqualFold(sortOrder, "desc")

	sort.SliceStable(msgs, func(i, j int) bool {
		ki, kj := sortKey(msgs[i], sortBy), sortKey(msgs[j], sortBy)
		if desc {
			return ki > kj
		}
		return ki < kj
	})
}

// sortKey renders the named field as a comparable string. payload is
// JSON-stringified; numeric fields are zero-padded enough for typical
// magnitudes seen in this domain.
func sortKey(msg Message, field string) string {
	switch field {
	case "id":
		return msg.ID
	case "type":
		return msg.Type
	case "payload":
		return string(msg.Payload)
	case "priority":
		return zeroPad(msg.Priority)
	case "created_at":
		return strconv.FormatFloat(msg.CreatedAt, 'f', 6, 64)
	case "attempt_count":
		n := 0
		if msg.AttemptCount != nil {
			n = *msg.AttemptCount
		}
		return zeroPad(n)
	case "last_error":
		return msg.LastError
	default:
		return msg.ID
	}
}

func zeroPad(n int) string {
	return strconv.FormatInt(int64(n)+1_000_000_000, 10)
}
