package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/orchestrator"
	"github.com/mailmind/mailmind/types"
)

// =============================================================================
// Chat handler
// =============================================================================

// ChatHandler serves the synchronous and streaming chat endpoints.
type ChatHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{orch: orch, logger: logger}
}

// HandleChat runs one synchronous chat turn.
//
// POST /v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req types.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	start := time.Now()
	resp := h.orch.HandleChat(r.Context(), req)

	h.logger.Info("chat turn",
		zap.Bool("success", resp.Success),
		zap.String("error_code", string(resp.ErrorCode)),
		zap.Duration("duration", time.Since(start)),
	)

	// The ChatResponse is itself the wire contract; errors ride in it with
	// a matching HTTP status so plain HTTP clients can branch early.
	status := http.StatusOK
	if !resp.Success {
		status = mapErrorCodeToHTTPStatus(resp.ErrorCode)
	}
	WriteJSON(w, status, resp)
}

// HandleChatStream upgrades to a WebSocket and relays chat frames.
//
// The client sends one ChatRequest; the server answers with chunk frames
// (each carrying the full accumulated text), at most one action frame, then
// a done or error frame, and closes.
//
// GET /v1/chat/stream
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

	ctx := r.Context()

	var req types.ChatRequest
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected a chat request")
		return
	}

	frames, err := h.orch.HandleChatStream(ctx, req)
	if err != nil {
		frame := types.Frame{Type: types.FrameError, Error: types.UserMessage(err)}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = wsjson.Write(writeCtx, conn, frame)
		cancel()
		conn.Close(websocket.StatusNormalClosure, string(types.CodeOf(err)))
		return
	}

	for frame := range frames {
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := wsjson.Write(writeCtx, conn, frame)
		cancel()
		if err != nil {
			h.logger.Debug("stream consumer went away", zap.Error(err))
			// Keep draining so the pipeline can release the engine.
			for range frames {
			}
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "done")
}
