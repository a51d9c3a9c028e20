package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell-notes/inkwell-sync/internal/pkg/httputil"
)

// Handler handles HTTP requests for the sync engine and coordinator.
type Handler struct {
	engine      *Engine
	coordinator *Coordinator

	// connectivity is the send side of the coordinator's signal channel.
	connectivity chan<- bool

	// runCtx outlives individual requests. Coordinator restarts launched
	// from the control API must not die with the request that asked for
	// them.
	runCtx context.Context
}

// NewHandler creates a new sync handler.
func NewHandler(runCtx context.Context, engine *Engine, coordinator *Coordinator, connectivity chan<- bool) *Handler {
	return &Handler{
		engine:       engine,
		coordinator:  coordinator,
		connectivity: connectivity,
		runCtx:       runCtx,
	}
}

// RegisterRoutes registers sync routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Post("/", h.TriggerSync)
		r.Post("/reconcile", h.ForceReconcile)
		r.Get("/status", h.GetStatus)
		r.Post("/start", h.StartCoordinator)
		r.Post("/stop", h.StopCoordinator)
	})
	r.Post("/connectivity", h.SetConnectivity)
}

// TriggerSync handles POST /sync. It runs a single drain cycle and returns
// the per-note report.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Drain(r.Context())
	h.respondDrain(w, r, result, err)
}

// ForceReconcile handles POST /sync/reconcile. It demotes stale processing
// operations and then drains.
func (h *Handler) ForceReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ForceFullReconcile(r.Context())
	h.respondDrain(w, r, result, err)
}

func (h *Handler) respondDrain(w http.ResponseWriter, r *http.Request, result *SyncResult, err error) {
	switch {
	case errors.Is(err, ErrAlreadySyncing):
		httputil.Error(w, http.StatusConflict, "sync already in progress")
	case errors.Is(err, ErrStorage):
		httputil.Error(w, http.StatusServiceUnavailable, "local store unavailable")
	case err != nil:
		httputil.HandleError(r.Context(), w, err, nil)
	default:
		httputil.Success(w, http.StatusOK, result)
	}
}

// GetStatus handles GET /sync/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]bool{
		"running": h.coordinator.Running(),
		"online":  h.coordinator.Online(),
	})
}

// StartCoordinator handles POST /sync/start.
func (h *Handler) StartCoordinator(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.Start(h.runCtx); err != nil {
		httputil.Error(w, http.StatusConflict, err.Error())
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "started"})
}

// StopCoordinator handles POST /sync/stop.
func (h *Handler) StopCoordinator(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Stop()
	httputil.Success(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// ConnectivityRequest represents request body for a connectivity signal.
type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// SetConnectivity handles POST /connectivity. The platform layer reports
// online/offline transitions here; the coordinator reacts to them.
func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	select {
	case h.connectivity <- req.Online:
		httputil.Success(w, http.StatusOK, map[string]bool{"online": req.Online})
	case <-r.Context().Done():
		httputil.Error(w, http.StatusServiceUnavailable, "coordinator is not accepting signals")
	}
}
