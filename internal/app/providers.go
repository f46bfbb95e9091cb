package app

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"streamq/internal/broker"
	"streamq/internal/config"
	"streamq/internal/infrastructure/database"
	"streamq/internal/infrastructure/streams"
	"streamq/internal/metrics"
	httptransport "streamq/internal/transport/http"
	"streamq/internal/transport/http/handlers"
	"streamq/internal/workers"
)

// Providers bundles every dependency either deployment mode needs:
// substrate connection, broker core, and whichever half (HTTP server or
// reclaim worker) the mode runs.
type Providers struct {
	RedisDB *database.RedisDB
	Broker  *broker.Broker

	HTTPServer *httptransport.Server
	serveErr   chan error

	Reclaim     *workers.ReclaimWorker
	stopReclaim chan struct{}
}

// ProvideServer builds the substrate connection, broker, and HTTP
// transport for a ModeServer process.
func ProvideServer(cfg *config.Config, logger *slog.Logger) (*Providers, error) {
	redisDB, b, err := provideCore(cfg, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(b)
	collector.Register(prometheus.DefaultRegisterer)

	h := handlers.New(b, collector, cfg, logger)
	server := httptransport.NewServer(cfg, logger, h)

	return &Providers{
		RedisDB:    redisDB,
		Broker:     b,
		HTTPServer: server,
		serveErr:   make(chan error, 1),
	}, nil
}

// ProvideWorker builds the substrate connection, broker, and reclaim
// loop for a ModeWorker process.
func ProvideWorker(cfg *config.Config, logger *slog.Logger) (*Providers, error) {
	redisDB, b, err := provideCore(cfg, logger)
	if err != nil {
		return nil, err
	}

	reclaim := workers.NewReclaimWorker(b, cfg.Queue.ReclaimInterval, logger)

	return &Providers{
		RedisDB:     redisDB,
		Broker:      b,
		Reclaim:     reclaim,
		stopReclaim: make(chan struct{}),
	}, nil
}

func provideCore(cfg *config.Config, logger *slog.Logger) (*database.RedisDB, *broker.Broker, error) {
	redisDB, err := database.NewRedisDB(cfg.Redis, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to substrate: %w", err)
	}

	substrate := streams.New(redisDB, logger)
	b := broker.New(substrate, cfg.Queue, cfg.Security, logger)

	return redisDB, b, nil
}

func (p *Providers) startReclaimLoop() {
	if p.Reclaim != nil {
		p.Reclaim.Start()
	}
}

func (p *Providers) stopReclaimLoop() {
	if p.Reclaim != nil {
		p.Reclaim.Stop()
	}
	close(p.stopReclaim)
}

// Close releases the substrate connection.
func (p *Providers) Close() error {
	if p.RedisDB != nil {
		return p.RedisDB.Close()
	}
	return nil
}
