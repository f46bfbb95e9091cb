// Package metrics exposes the broker's aggregated counters as
// Prometheus gauges, scraped via the HTTP transport's /metrics route.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"streamq/internal/broker"
)

// Collector bridges a broker.Broker snapshot into Prometheus gauges.
// Register attaches the gauges to a registry; Refresh updates them from
// a fresh snapshot, and the /metrics handler calls it before each scrape.
type Collector struct {
	b *broker.Broker

	bandLength   *prometheus.GaugeVec
	pendingCount *prometheus.GaugeVec
	deadLength   prometheus.Gauge
	ackHistory   prometheus.Gauge
	totalAck     prometheus.Gauge

	enqueued     prometheus.Gauge
	dequeued     prometheus.Gauge
	acknowledged prometheus.Gauge
	failed       prometheus.Gauge
	requeued     prometheus.Gauge
}

// NewCollector builds a Collector over b. Call Register to attach it to
// a prometheus.Registerer.
func NewCollector(b *broker.Broker) *Collector {
	return &Collector{
		b: b,
		bandLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamq_band_length",
			Help: "Number of entries currently in a priority-band stream.",
		}, []string{"stream"}),
		pendingCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamq_pending_count",
			Help: "Number of pending (undelivered-ack) entries in a priority-band stream.",
		}, []string{"stream"}),
		deadLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_dead_letter_length",
			Help: "Number of entries in the dead-letter stream.",
		}),
		ackHistory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_ack_history_length",
			Help: "Number of entries in the bounded ack-history stream.",
		}),
		totalAck: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_total_acknowledged",
			Help: "Monotonic total-acknowledgement counter.",
		}),
		enqueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_process_enqueued",
			Help: "Per-process enqueue count since last reset.",
		}),
		dequeued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_process_dequeued",
			Help: "Per-process dequeue count since last reset.",
		}),
		acknowledged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_process_acknowledged",
			Help: "Per-process acknowledge count since last reset.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_process_failed",
			Help: "Per-process dead-letter count since last reset.",
		}),
		requeued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamq_process_requeued",
			Help: "Per-process requeue count since last reset.",
		}),
	}
}

// Register attaches every gauge in c to reg.
func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.bandLength, c.pendingCount, c.deadLength, c.ackHistory, c.totalAck,
		c.enqueued, c.dequeued, c.acknowledged, c.failed, c.requeued,
	)
}

// Refresh pulls a fresh snapshot from the broker and updates every
// gauge. Intended to be called right before a scrape, or on a timer.
func (c *Collector) Refresh(ctx context.Context) error {
	snap, err := c.b.Metrics(ctx)
	if err != nil {
		return err
	}

	for stream, length := range snap.BandLengths {
		c.bandLength.WithLabelValues(stream).Set(float64(length))
	}
	for stream, count := range snap.PendingCounts {
		c.pendingCount.WithLabelValues(stream).Set(float64(count))
	}
	c.deadLength.Set(float64(snap.DeadLength))
	c.ackHistory.Set(float64(snap.AckHistoryLen))
	c.totalAck.Set(float64(snap.TotalAck))

	c.enqueued.Set(float64(snap.Stats.Enqueued))
	c.dequeued.Set(float64(snap.Stats.Dequeued))
	c.acknowledged.Set(float64(snap.Stats.Acknowledged))
	c.failed.Set(float64(snap.Stats.Failed))
	c.requeued.Set(float64(snap.Stats.Requeued))

	return nil
}
