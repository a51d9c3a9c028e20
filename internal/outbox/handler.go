package outbox

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
	"github.com/inkwell-notes/inkwell-sync/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrOperationNotFound, Status: http.StatusNotFound, Message: "operation not found"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict, Message: "operation is not in a requeueable state"},
}

// Handler handles HTTP requests for the operation queue.
type Handler struct {
	queue     *Queue
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{
		queue:     queue,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/operations", func(r chi.Router) {
		r.Post("/", h.EnqueueOperation)
		r.Get("/stats", h.GetStats)
		r.Get("/count", h.GetPendingCount)
		r.Delete("/pending", h.ClearPending)
		r.Get("/{id}", h.GetOperation)
		r.Post("/{id}/requeue", h.RequeueOperation)
	})
}

// EnqueueRequest represents request body for enqueueing an operation.
type EnqueueRequest struct {
	Type     string          `json:"type" validate:"required"`
	TargetID string          `json:"target_id" validate:"required"`
	Payload  json.RawMessage `json:"payload"`
}

// EnqueueOperation handles POST /operations.
func (h *Handler) EnqueueOperation(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	opType := domain.OperationType(req.Type)
	if !opType.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "unknown operation type")
		return
	}

	op, err := h.queue.Enqueue(r.Context(), opType, req.TargetID, req.Payload)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, op)
}

// GetOperation handles GET /operations/{id}.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, op)
}

// RequeueOperation handles POST /operations/{id}/requeue.
func (h *Handler) RequeueOperation(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.RequeueFailed(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// GetStats handles GET /operations/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// GetPendingCount handles GET /operations/count.
func (h *Handler) GetPendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.PendingCount(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int{"pending": count})
}

// ClearPending handles DELETE /operations/pending.
func (h *Handler) ClearPending(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.ClearPending(r.Context()); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "cleared"})
}
