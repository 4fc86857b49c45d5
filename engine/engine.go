package engine

import (
	"context"

	"github.com/mailmind/mailmind/types"
)

// ProgressFunc receives load progress events. It may be called from the
// loading goroutine at any rate; implementations must not block.
type ProgressFunc func(types.ProgressEvent)

// GenerateRequest is a single inference request. Prompt is used by the
// generation and classification kinds, ImageData (base64) by the OCR kind.
type GenerateRequest struct {
	Prompt    string `json:"prompt,omitempty"`
	ImageData string `json:"image_data,omitempty"`
}

// GenerateOptions are sampling parameters forwarded to the runtime.
// Zero values mean "runtime default".
type GenerateOptions struct {
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	DoSample          bool    `json:"do_sample,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

// Result is a completed non-streaming inference.
type Result struct {
	RawText string  `json:"raw_text,omitempty"`
	Label   string  `json:"label,omitempty"` // classification kinds only
	Score   float64 `json:"score,omitempty"`
}

// Chunk is one element of a streaming generation. The sequence is finite
// and not restartable: zero or more delta chunks, then exactly one chunk
// with Done or Err set.
type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

// Engine is the uniform capability interface over one inference model.
// Implementations must be safe for concurrent use; the Registry additionally
// serializes Generate/GenerateStream per engine.
type Engine interface {
	Kind() types.EngineKind

	// Load initializes the engine, reporting progress through onProgress
	// (which may be nil). Safe to call again after an error or expiry.
	Load(ctx context.Context, onProgress ProgressFunc) error

	// Status returns the current session state.
	Status() types.EngineState

	// Session returns the session snapshot including aggregate progress.
	Session() types.EngineSession

	// Generate runs a single non-streaming inference.
	Generate(ctx context.Context, req GenerateRequest, opts GenerateOptions) (*Result, error)

	// GenerateStream runs a streaming inference. The returned channel is
	// closed after the terminal chunk.
	GenerateStream(ctx context.Context, req GenerateRequest, opts GenerateOptions) (<-chan Chunk, error)
}
