package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/orchestrator"
	"github.com/mailmind/mailmind/types"
)

// =============================================================================
// Engine handler
// =============================================================================

// EngineHandler serves engine lifecycle endpoints.
type EngineHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewEngineHandler creates an engine handler.
func NewEngineHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *EngineHandler {
	return &EngineHandler{orch: orch, logger: logger}
}

// LoadRequest selects which engine to initialize.
type LoadRequest struct {
	Kind types.EngineKind `json:"kind"`
}

// HandleLoad initializes an engine, streaming progress as SSE events.
// Events are named "progress" while loading and end with either "ready"
// carrying the session snapshot or "error" carrying the error envelope.
// Concurrent loads of the same kind share one underlying initialization.
//
// POST /v1/engine/load
func (h *EngineHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req LoadRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Kind == "" {
		req.Kind = types.KindGeneration
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming unsupported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The progress callback runs on the loader goroutine; writes to the
	// response must not interleave.
	var mu sync.Mutex
	writeEvent := func(event string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	err := h.orch.LoadEngine(r.Context(), req.Kind, func(ev types.ProgressEvent) {
		writeEvent("progress", ev)
	})
	if err != nil {
		h.logger.Warn("engine load failed",
			zap.String("kind", string(req.Kind)), zap.Error(err))
		code := types.CodeOf(err)
		writeEvent("error", ErrorInfo{
			Code:    string(code),
			Message: types.UserMessage(err),
		})
		return
	}

	writeEvent("ready", h.orch.EngineSession(req.Kind))
}

// HandleStatus reports the engine session state without triggering a load.
// With ?kind= it returns one session; without it, the whole board.
//
// GET /v1/engine/status
func (h *EngineHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if kind := r.URL.Query().Get("kind"); kind != "" {
		WriteSuccess(w, h.orch.EngineSession(types.EngineKind(kind)))
		return
	}
	board := map[types.EngineKind]types.EngineSession{
		types.KindGeneration:     h.orch.EngineSession(types.KindGeneration),
		types.KindClassification: h.orch.EngineSession(types.KindClassification),
		types.KindOCR:            h.orch.EngineSession(types.KindOCR),
	}
	WriteSuccess(w, board)
}
