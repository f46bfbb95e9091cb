// Package handlers binds the broker core to HTTP. Every handler decodes
// its request, calls exactly one internal/broker method, and writes the
// result through pkg/response — no business logic lives here.
package handlers

import (
	"errors"
	"log/slog"

	"streamq/internal/broker"
	"streamq/internal/config"
	"streamq/internal/metrics"
	appErrors "streamq/pkg/errors"
)

// Handlers bundles the dependencies every route handler needs.
type Handlers struct {
	Broker    *broker.Broker
	Collector *metrics.Collector
	Config    *config.Config
	Logger    *slog.Logger
}

// New builds a Handlers container.
func New(b *broker.Broker, collector *metrics.Collector, cfg *config.Config, logger *slog.Logger) *Handlers {
	return &Handlers{Broker: b, Collector: collector, Config: cfg, Logger: logger}
}

// mapBrokerErr translates a broker sentinel error into the matching
// pkg/errors.AppError so response.Error renders the right status code.
func mapBrokerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broker.ErrNotFound):
		return appErrors.NewNotFoundError("message")
	case errors.Is(err, broker.ErrConflict):
		return appErrors.NewConflictError(err.Error())
	case errors.Is(err, broker.ErrMissingLock):
		return appErrors.NewValidationError("missing dequeue lock", err.Error())
	case errors.Is(err, broker.ErrInvalidQueueType):
		return appErrors.NewBadRequestError("invalid queue type", err.Error())
	case errors.Is(err, broker.ErrEnqueueFailed):
		return appErrors.NewInternalError("enqueue failed", err)
	case errors.Is(err, broker.ErrCodecError), errors.Is(err, broker.ErrInvalidSignature):
		return appErrors.NewValidationError("malformed message envelope", err.Error())
	default:
		return appErrors.NewInternalError("broker operation failed", err)
	}
}
