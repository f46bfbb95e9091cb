package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamq/pkg/response"
)

// Healthz reports substrate reachability and an embedded metrics snapshot.
func (h *Handlers) Healthz(c *gin.Context) {
	status := h.Broker.Health(c.Request.Context())
	if !status.Healthy {
		response.ErrorWithStatus(c, 503, "SUBSTRATE_UNAVAILABLE", "substrate unreachable", "")
		return
	}
	response.Success(c, status)
}

// Metrics serves the Prometheus scrape endpoint, refreshing the
// collector's gauges from a fresh broker snapshot just beforehand.
func (h *Handlers) Metrics(c *gin.Context) {
	if err := h.Collector.Refresh(c.Request.Context()); err != nil {
		h.Logger.Warn("metrics: failed to refresh collector", "error", err)
	}
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
