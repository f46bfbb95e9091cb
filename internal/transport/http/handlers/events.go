package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
)

// Events streams the change-event bus to the caller as SSE, one
// "queue-update" event per published change, for the dashboard's live
// view.
func (h *Handlers) Events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	events := h.Broker.Subscribe(ctx)

	c.Stream(func(w io.Writer) bool {
		select {
		case payload, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("queue-update", payload)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
