// Package app wires the broker's core onto either an HTTP transport
// process or a background reclaim-loop worker process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamq/internal/config"
	"streamq/pkg/logging"
)

// DeploymentMode selects which half of the broker process this App runs.
type DeploymentMode string

const (
	ModeServer DeploymentMode = "server"
	ModeWorker DeploymentMode = "worker"
)

// App is the top-level process: one Config, one Broker, and either an
// HTTP server or a reclaim loop depending on mode.
type App struct {
	config       *config.Config
	logger       *slog.Logger
	providers    *Providers
	mode         DeploymentMode
	shutdownOnce sync.Once
}

// NewServer builds an App running the HTTP transport.
func NewServer(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	providers, err := ProvideServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server providers: %w", err)
	}

	return &App{mode: ModeServer, config: cfg, logger: logger, providers: providers}, nil
}

// NewWorker builds an App running the background reclaim loop.
func NewWorker(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	providers, err := ProvideWorker(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker providers: %w", err)
	}

	return &App{mode: ModeWorker, config: cfg, logger: logger, providers: providers}, nil
}

// Start runs the process's half of the broker until Shutdown is called.
func (a *App) Start() error {
	a.logger.Info("starting streamq", "mode", a.mode)

	switch a.mode {
	case ModeServer:
		go func() {
			if err := a.providers.HTTPServer.Start(); err != nil {
				a.providers.serveErr <- err
			}
		}()

		go func() {
			select {
			case err := <-a.providers.serveErr:
				a.logger.Error("http server failed unexpectedly", "error", err)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = a.Shutdown(ctx)
			case <-a.providers.stopReclaim:
			}
		}()

	case ModeWorker:
		a.providers.startReclaimLoop()
	}

	return nil
}

// Shutdown stops the running half of the broker, idempotently.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})
	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("shutting down streamq", "mode", a.mode)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		switch a.mode {
		case ModeServer:
			if a.providers.HTTPServer != nil {
				if err := a.providers.HTTPServer.Shutdown(ctx); err != nil {
					a.logger.Error("failed to shutdown http server", "error", err)
				}
			}
		case ModeWorker:
			a.providers.stopReclaimLoop()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout exceeded, forcing close")
	}

	if err := a.providers.Close(); err != nil {
		a.logger.Error("failed to close providers", "error", err)
	}

	a.logger.Info("streamq shutdown complete")
	return nil
}

// GetLogger returns the application logger.
func (a *App) GetLogger() *slog.Logger { return a.logger }

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config { return a.config }

// Health reports substrate reachability for readiness probes.
func (a *App) Health() map[string]string {
	status := a.providers.Broker.Health(context.Background())
	if status.Healthy {
		return map[string]string{"status": "ok"}
	}
	return map[string]string{"status": "unhealthy"}
}
