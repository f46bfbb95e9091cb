package handlers

import (
	"bufio"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"streamq/internal/broker"
	appErrors "streamq/pkg/errors"
	"streamq/pkg/response"
)

func queueTypeParam(c *gin.Context) (broker.QueueType, bool) {
	qt, ok := broker.ParseQueueType(c.Param("type"))
	if !ok {
		response.Error(c, appErrors.NewBadRequestError("invalid queue type", c.Param("type")))
	}
	return qt, ok
}

// Config returns the process configuration fields spec.md's management
// surface exposes: ack timeout and retry policy.
func (h *Handlers) Config(c *gin.Context) {
	qc := h.Config.Queue
	response.Success(c, gin.H{
		"queue_name":               qc.QueueName,
		"max_priority_levels":      qc.MaxPriorityLevels,
		"ack_timeout_seconds":      qc.AckTimeoutSeconds,
		"max_attempts":             qc.MaxAttempts,
		"batch_size":               qc.BatchSize,
		"max_acknowledged_history": qc.MaxAcknowledgedHistory,
		"reclaim_interval_seconds": qc.ReclaimInterval.Seconds(),
	})
}

// Status returns per-queue counts and, on request, a bounded preview.
func (h *Handlers) Status(c *gin.Context) {
	includeMessages := c.Query("preview") == "true"
	view, err := h.Broker.Status(c.Request.Context(), includeMessages)
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.Success(c, view)
}

func parseQueryParams(c *gin.Context) broker.QueryParams {
	params := broker.QueryParams{
		Page:      1,
		Limit:     50,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
		Search:    c.Query("search"),
	}
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		params.Page = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		params.Limit = v
	}
	params.FilterType = c.Query("type")
	if v, err := strconv.Atoi(c.Query("priority")); err == nil {
		params.FilterPriority = &v
	}
	if v, err := strconv.Atoi(c.Query("min_attempts")); err == nil {
		params.MinAttempts = &v
	}
	if v, err := strconv.ParseFloat(c.Query("start_date"), 64); err == nil {
		params.StartDate = &v
	}
	if v, err := strconv.ParseFloat(c.Query("end_date"), 64); err == nil {
		params.EndDate = &v
	}
	return params
}

// Messages serves a filtered, sorted, paginated view of one queue.
func (h *Handlers) Messages(c *gin.Context) {
	qt, ok := queueTypeParam(c)
	if !ok {
		return
	}
	result, err := h.Broker.Query(c.Request.Context(), qt, parseQueryParams(c))
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.SuccessWithPagination(c, result.Messages, &response.Pagination{
		Page:       result.Pagination.Page,
		Limit:      result.Pagination.Limit,
		Total:      result.Pagination.Total,
		TotalPages: result.Pagination.TotalPages,
		HasNext:    result.Pagination.Page < result.Pagination.TotalPages,
		HasPrev:    result.Pagination.Page > 1,
	})
}

// Enqueue submits a new message. A priority-band and id are assigned by
// the broker when absent.
func (h *Handlers) Enqueue(c *gin.Context) {
	var msg broker.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		response.Error(c, appErrors.NewValidationError("invalid message body", err.Error()))
		return
	}
	enqueued, err := h.Broker.Enqueue(c.Request.Context(), msg)
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.Created(c, enqueued)
}

type editRequest struct {
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	Priority         *int            `json:"priority"`
	CustomAckTimeout *int            `json:"custom_ack_timeout"`
}

// EditMessage updates a message's mutable fields. Fields left
// out of the request body (priority included) are left untouched.
func (h *Handlers) EditMessage(c *gin.Context) {
	qt, ok := queueTypeParam(c)
	if !ok {
		return
	}
	id := c.Param("id")

	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewValidationError("invalid edit body", err.Error()))
		return
	}

	updates := broker.Message{Type: req.Type, Payload: req.Payload}
	if err := h.Broker.Edit(c.Request.Context(), qt, id, updates, req.Priority, req.CustomAckTimeout); err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.Success(c, gin.H{"id": id, "updated": true})
}

// DeleteMessage removes a single message from the named queue.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	qt, ok := queueTypeParam(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.Broker.Delete(c.Request.Context(), qt, id); err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.NoContent(c)
}

type bulkDeleteRequest struct {
	QueueType string   `json:"queue_type" binding:"required"`
	IDs       []string `json:"ids" binding:"required"`
}

// BulkDeleteMessages removes every listed id from one queue.
func (h *Handlers) BulkDeleteMessages(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewValidationError("invalid bulk delete body", err.Error()))
		return
	}
	qt, ok := broker.ParseQueueType(req.QueueType)
	if !ok {
		response.Error(c, appErrors.NewBadRequestError("invalid queue type", req.QueueType))
		return
	}
	deleted, err := h.Broker.BulkDelete(c.Request.Context(), qt, req.IDs)
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.Success(c, gin.H{"deleted": deleted})
}

type moveRequest struct {
	IDs         []string `json:"ids" binding:"required"`
	From        string   `json:"from" binding:"required"`
	To          string   `json:"to" binding:"required"`
	ErrorReason string   `json:"error_reason"`
}

// Move relocates messages between queues.
func (h *Handlers) Move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewValidationError("invalid move body", err.Error()))
		return
	}
	from, ok := broker.ParseQueueType(req.From)
	if !ok {
		response.Error(c, appErrors.NewBadRequestError("invalid source queue type", req.From))
		return
	}
	to, ok := broker.ParseQueueType(req.To)
	if !ok {
		response.Error(c, appErrors.NewBadRequestError("invalid destination queue type", req.To))
		return
	}
	moved, err := h.Broker.Move(c.Request.Context(), req.IDs, from, to, req.ErrorReason)
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.Success(c, gin.H{"moved": moved})
}

// ClearQueue empties a single queue.
func (h *Handlers) ClearQueue(c *gin.Context) {
	qt, ok := queueTypeParam(c)
	if !ok {
		return
	}
	cleared, err := h.Broker.ClearQueue(c.Request.Context(), qt)
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.Success(c, gin.H{"cleared": cleared})
}

// ClearAll empties every queue.
func (h *Handlers) ClearAll(c *gin.Context) {
	counts, err := h.Broker.ClearAll(c.Request.Context())
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}
	response.Success(c, counts)
}

// Export streams every message matching the query filters for qt as
// newline-delimited JSON, bypassing pagination.
func (h *Handlers) Export(c *gin.Context) {
	qt, ok := queueTypeParam(c)
	if !ok {
		return
	}
	params := parseQueryParams(c)
	params.Page = 1
	params.Limit = 1 << 30

	result, err := h.Broker.Query(c.Request.Context(), qt, params)
	if err != nil {
		response.Error(c, mapBrokerErr(err))
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", "attachment; filename=\""+string(qt)+"-export.ndjson\"")
	c.Status(200)
	for _, msg := range result.Messages {
		line, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		c.Writer.Write(line)
		c.Writer.Write([]byte("\n"))
	}
}

type importSummary struct {
	Accepted int      `json:"accepted"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Import reads a multipart file of newline-delimited message bodies and
// enqueues each line independently, collecting per-line failures instead
// of aborting the batch.
func (h *Handlers) Import(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.NewValidationError("missing upload", err.Error()))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.NewInternalError("failed to open upload", err))
		return
	}
	defer file.Close()

	summary := importSummary{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg broker.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		if _, err := h.Broker.Enqueue(c.Request.Context(), msg); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		summary.Accepted++
	}

	response.Success(c, summary)
}
