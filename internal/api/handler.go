package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/resumeforge/aiqueue/internal/queue"
	"github.com/resumeforge/aiqueue/internal/ratelimit"
	"github.com/resumeforge/aiqueue/internal/storage"
	"github.com/resumeforge/aiqueue/pkg/types"
)

type Handler struct {
	queue   *queue.Queue
	history storage.Store
}

func NewHandler(q *queue.Queue, history storage.Store) *Handler {
	return &Handler{
		queue:   q,
		history: history,
	}
}

// SubmitRequest handles POST /v1/requests. The call is synchronous:
// it blocks until the request reaches a terminal outcome.
func (h *Handler) SubmitRequest(c *fiber.Ctx) error {
	var req types.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Invalid request body"})
	}

	if req.OwnerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "owner_id is required"})
	}
	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "prompt is required"})
	}

	resp, err := h.queue.AddRequest(c.Context(), &req)
	if err != nil {
		var limitErr *ratelimit.LimitExceededError
		if errors.As(err, &limitErr) {
			reset := limitErr.ResetTime
			return c.Status(fiber.StatusTooManyRequests).JSON(types.ErrorResponse{
				Error:     limitErr.Error(),
				ResetTime: &reset,
			})
		}
		if errors.Is(err, queue.ErrQueueClosed) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(types.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(resp)
}

func (h *Handler) GetQueueStatus(c *fiber.Ctx) error {
	return c.JSON(h.queue.GetQueueStatus())
}

func (h *Handler) GetRateLimitStatus(c *fiber.Ctx) error {
	ownerID := c.Params("owner")
	if ownerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Owner is required"})
	}

	return c.JSON(h.queue.GetRateLimitStatus(c.Context(), ownerID))
}

func (h *Handler) ClearQueue(c *fiber.Ctx) error {
	h.queue.ClearQueue()
	return c.JSON(fiber.Map{"status": "cleared"})
}

func (h *Handler) ListProviders(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"providers": h.queue.Providers()})
}

func (h *Handler) GetProviderHealth(c *fiber.Ctx) error {
	return c.JSON(h.queue.ProviderHealth())
}

// GetRequestStats reports lifetime terminal-outcome counts from the
// history store, surviving restarts unlike the queue counters.
func (h *Handler) GetRequestStats(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(types.ErrorResponse{Error: "History storage disabled"})
	}

	counts, err := h.history.CountByStatus(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to count requests"})
	}

	return c.JSON(counts)
}

// GetRequest handles GET /v1/requests/:id against the history store.
func (h *Handler) GetRequest(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(types.ErrorResponse{Error: "History storage disabled"})
	}

	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "ID is required"})
	}

	rec, err := h.history.GetRecord(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to get request"})
	}
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(types.ErrorResponse{Error: "Request not found"})
	}

	return c.JSON(recordToEntry(rec))
}

func (h *Handler) ListRequests(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(types.ErrorResponse{Error: "History storage disabled"})
	}

	owner := c.Query("owner")
	status := c.Query("status")
	cursor := c.Query("cursor")
	limit := c.QueryInt("limit", 100)

	filter := storage.RecordFilter{
		Limit: limit,
	}

	if owner != "" {
		filter.OwnerID = &owner
	}
	if status != "" {
		s := types.RecordStatus(status)
		filter.Status = &s
	}
	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Invalid cursor format"})
		}
		filter.Cursor = &t
	}

	records, total, err := h.history.ListRecords(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Failed to list requests"})
	}

	entries := make([]types.RequestLogEntry, len(records))
	for i, rec := range records {
		entries[i] = recordToEntry(rec)
	}

	// Set next cursor from last item's completed_at if we have results
	var nextCursor *string
	if len(records) == limit {
		last := records[len(records)-1].CompletedAt.Format(time.RFC3339Nano)
		nextCursor = &last
	}

	return c.JSON(types.ListRequestLogResponse{
		Requests:   entries,
		Total:      total,
		Limit:      limit,
		NextCursor: nextCursor,
	})
}

func recordToEntry(rec *storage.RequestRecord) types.RequestLogEntry {
	entry := types.RequestLogEntry{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		Kind:         rec.Kind,
		Priority:     rec.Priority,
		Status:       rec.Status,
		Provider:     rec.Provider,
		Model:        rec.Model,
		Cached:       rec.Cached,
		Error:        rec.Error,
		SubmittedAt:  rec.SubmittedAt.Format(time.RFC3339),
		CompletedAt:  rec.CompletedAt.Format(time.RFC3339),
		DurationMs:   rec.DurationMs,
		AttemptsUsed: rec.Attempts,
	}

	if rec.Status == types.RecordCompleted {
		entry.Usage = &types.TokenUsage{
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			TotalTokens:  rec.TotalTokens,
		}
	}

	return entry
}
