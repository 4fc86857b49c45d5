package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/orchestrator"
	"github.com/mailmind/mailmind/types"
)

// =============================================================================
// Page handler
// =============================================================================

// PageHandler exposes the webmail page surface: context snapshots, direct
// action execution, and screenshots.
type PageHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewPageHandler creates a page handler.
func NewPageHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *PageHandler {
	return &PageHandler{orch: orch, logger: logger}
}

// ExecuteRequest is a direct page action, bypassing the model.
type ExecuteRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// HandleContext returns the current page snapshot.
//
// GET /v1/page/context
func (h *PageHandler) HandleContext(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.Route(r.Context(), types.Envelope{Action: types.EnvGetContext})
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleExecute runs one structured action against the page. Action faults
// come back inside the result with HTTP 200; only transport-level problems
// are HTTP errors.
//
// POST /v1/page/execute
func (h *PageHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.orch.Route(r.Context(), types.Envelope{
		Action:     types.EnvExecuteAction,
		PageAction: req.Action,
		Params:     req.Params,
	})
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleScreenshot captures the page as base64 PNG.
//
// GET /v1/screenshot
func (h *PageHandler) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.Route(r.Context(), types.Envelope{Action: types.EnvScreenshot})
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"image": res})
}
