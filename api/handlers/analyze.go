package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/orchestrator"
)

// =============================================================================
// Analysis handlers
// =============================================================================

// AnalyzeHandler serves the one-shot inference endpoints that bypass the
// chat transcript: classification, summarization and image analysis.
type AnalyzeHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewAnalyzeHandler creates an analysis handler.
func NewAnalyzeHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{orch: orch, logger: logger}
}

// TextRequest carries text for classification or summarization.
type TextRequest struct {
	Text string `json:"text"`
}

// ImageRequest carries a base64 image payload.
type ImageRequest struct {
	ImageData string `json:"imageData"`
}

// HandleClassify runs sentiment classification.
//
// POST /v1/classify
func (h *AnalyzeHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req TextRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.orch.Classify(r.Context(), req.Text)
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleSummarize summarizes arbitrary text.
//
// POST /v1/summarize
func (h *AnalyzeHandler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req TextRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	summary, err := h.orch.Summarize(r.Context(), req.Text)
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"summary": summary})
}

// HandleAnalyzeImage extracts text from a base64 image.
//
// POST /v1/analyze-image
func (h *AnalyzeHandler) HandleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req ImageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	text, err := h.orch.AnalyzeImage(r.Context(), req.ImageData)
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"text": text})
}
