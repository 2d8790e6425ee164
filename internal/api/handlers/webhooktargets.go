package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"omnirelay/internal/core"
	"omnirelay/internal/routing"
	"omnirelay/internal/types"
)

// TargetTester fires a synthetic connectivity check at one webhook target.
type TargetTester interface {
	TestTarget(ctx context.Context, targetID string) (*routing.TargetResult, error)
}

// TargetStore reads webhook target configuration and counters.
type TargetStore interface {
	GetByID(ctx context.Context, id string) (*types.WebhookTarget, error)
	ListActive(ctx context.Context) ([]*types.WebhookTarget, error)
}

// WebhookTargetHandler serves webhook target inspection and connectivity tests.
type WebhookTargetHandler struct {
	tester TargetTester
	store  TargetStore
	logger *slog.Logger
}

// NewWebhookTargetHandler creates a WebhookTargetHandler.
func NewWebhookTargetHandler(tester TargetTester, store TargetStore, logger *slog.Logger) *WebhookTargetHandler {
	return &WebhookTargetHandler{tester: tester, store: store, logger: logger}
}

// RegisterRoutes mounts the webhook target endpoints on the given router.
func (h *WebhookTargetHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook-targets", h.HandleList)
	r.Get("/webhook-targets/{id}", h.HandleGet)
	r.Post("/webhook-targets/{id}/test", h.HandleTest)
}

// HandleList returns all active webhook targets with their running counters.
func (h *WebhookTargetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	targets, err := h.store.ListActive(r.Context())
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	core.JSON(w, http.StatusOK, map[string]any{
		"targets": targets,
		"count":   len(targets),
	})
}

// HandleGet returns a single webhook target by ID.
func (h *WebhookTargetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	target, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}
	core.JSON(w, http.StatusOK, target)
}

// HandleTest delivers a synthetic test message to the target, applying its
// real retry policy, and reports the outcome. Counters update as on a normal
// delivery; no audit entry is written.
func (h *WebhookTargetHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	result, err := h.tester.TestTarget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	// The HTTP call succeeded even when the target did not; the outcome is
	// carried in the result body.
	core.JSON(w, http.StatusOK, result)
}
