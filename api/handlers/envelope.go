package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/orchestrator"
	"github.com/mailmind/mailmind/types"
)

// EnvelopeHandler serves the generic cross-context message endpoint. A
// browser-extension client posts the same envelopes it would pass between
// its own contexts; the daemon answers with the action-specific payload.
type EnvelopeHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewEnvelopeHandler creates an envelope handler.
func NewEnvelopeHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *EnvelopeHandler {
	return &EnvelopeHandler{orch: orch, logger: logger}
}

// HandleEnvelope routes one envelope.
//
// POST /v1/envelope
func (h *EnvelopeHandler) HandleEnvelope(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var env types.Envelope
	if err := DecodeJSONBody(w, r, &env, h.logger); err != nil {
		return
	}

	res, err := h.orch.Route(r.Context(), env)
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}
