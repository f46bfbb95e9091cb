// Package workers runs the broker's background maintenance loops.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streamq/internal/broker"
)

// ReclaimWorker periodically sweeps every priority-band stream for
// pending entries whose ack timeout has elapsed, requeueing them (or
// diverting to the dead-letter stream once max attempts is exceeded).
type ReclaimWorker struct {
	logger   *slog.Logger
	broker   *broker.Broker
	interval time.Duration
	quit     chan struct{}
	wg       sync.WaitGroup
	ticker   *time.Ticker
}

// NewReclaimWorker builds a ReclaimWorker sweeping at the configured interval.
func NewReclaimWorker(b *broker.Broker, interval time.Duration, logger *slog.Logger) *ReclaimWorker {
	return &ReclaimWorker{
		logger:   logger,
		broker:   b,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine.
func (w *ReclaimWorker) Start() {
	w.logger.Info("starting reclaim worker", "interval", w.interval)
	w.wg.Add(1)
	go w.mainLoop()
}

// Stop signals the loop to exit and waits for it to finish.
func (w *ReclaimWorker) Stop() {
	w.logger.Info("stopping reclaim worker")
	close(w.quit)
	w.wg.Wait()
}

func (w *ReclaimWorker) mainLoop() {
	defer w.wg.Done()

	w.run()

	w.ticker = time.NewTicker(w.interval)
	for {
		select {
		case <-w.ticker.C:
			w.run()
		case <-w.quit:
			w.ticker.Stop()
			w.logger.Info("reclaim worker stopped")
			return
		}
	}
}

func (w *ReclaimWorker) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := w.broker.Reclaim(ctx)
	if err != nil {
		w.logger.Error("reclaim sweep failed", "error", err)
		return
	}

	if result.Requeued > 0 || result.DeadLettered > 0 {
		w.logger.Info("reclaim sweep completed",
			"requeued", result.Requeued,
			"dead_lettered", result.DeadLettered,
		)
	}
}
