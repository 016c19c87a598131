package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hauke96/sigolo/v2"

	"poi-server/middleware"
	"poi-server/utils/errors"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store pinger
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewHealthHandler(store pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		sigolo.Warnf("Health check failed: %v", err)
		middleware.WriteError(w, errors.ErrUnavailable)
		return
	}
	writeJSON(w, "application/json", HealthResponse{Status: "ok"})
}
