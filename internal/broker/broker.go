package broker

import (
	"log/slog"
	"sync"

	"streamq/internal/config"
	"streamq/internal/infrastructure/streams"
)

// Broker is the explicit container the core operations are built
// against: substrate client, codec, stream layout, and config, passed
// into every operation rather than reached for via a package global.
type Broker struct {
	sub    *streams.Substrate
	codec  Codec
	layout Layout
	cfg    config.QueueConfig
	logger *slog.Logger

	statsMu sync.Mutex
	stats   Stats
}

// New builds a Broker over an already-connected Substrate.
func New(sub *streams.Substrate, cfg config.QueueConfig, sec config.SecurityConfig, logger *slog.Logger) *Broker {
	layout := NewLayout(cfg.QueueName, cfg.ConsumerGroupName, cfg.MaxPriorityLevels)
	codec := NewCodec(sec.EnableMessageEncryption, sec.SecretKey)
	return &Broker{
		sub:    sub,
		codec:  codec,
		layout: layout,
		cfg:    cfg,
		logger: logger.With("component", "broker"),
	}
}

// Stats returns a snapshot of the in-memory per-process counters.
func (b *Broker) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// ResetStats zeroes the in-memory counters (used by full clear).
func (b *Broker) ResetStats() {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats = Stats{}
}

func (b *Broker) addEnqueued(n int64)     { b.bump(&b.stats.Enqueued, n) }
func (b *Broker) addDequeued(n int64)     { b.bump(&b.stats.Dequeued, n) }
func (b *Broker) addAcknowledged(n int64) { b.bump(&b.stats.Acknowledged, n) }
func (b *Broker) addFailed(n int64)       { b.bump(&b.stats.Failed, n) }
func (b *Broker) addRequeued(n int64)     { b.bump(&b.stats.Requeued, n) }

func (b *Broker) bump(field *int64, n int64) {
	b.statsMu.Lock()
	*field += n
	b.statsMu.Unlock()
}

// effectiveAckTimeout resolves the precedence param > msg > existing > global.
func (b *Broker) effectiveAckTimeout(paramOverride, msgOverride, metaOverride *int) int {
	if paramOverride != nil {
		return *paramOverride
	}
	if msgOverride != nil {
		return *msgOverride
	}
	if metaOverride != nil {
		return *metaOverride
	}
	return b.cfg.AckTimeoutSeconds
}

// effectiveAckTimeoutReclaim resolves the reclaim-path precedence
// metadata > message-embedded > global (note this differs from
// dequeue's param-first precedence above).
func (b *Broker) effectiveAckTimeoutReclaim(metaOverride, msgOverride *int) int {
	if metaOverride != nil {
		return *metaOverride
	}
	if msgOverride != nil {
		return *msgOverride
	}
	return b.cfg.AckTimeoutSeconds
}

// effectiveMaxAttemptsReclaim resolves the reclaim-path precedence
// metadata > message-embedded > global.
func (b *Broker) effectiveMaxAttemptsReclaim(metaOverride, msgOverride *int) int {
	if metaOverride != nil {
		return *metaOverride
	}
	if msgOverride != nil {
		return *msgOverride
	}
	return b.cfg.MaxAttempts
}
