package types

import "time"

// ChatRequest is a user intent sent to the orchestrator. Quick-action
// buttons and free-text input share this path.
type ChatRequest struct {
	UserMessage string `json:"userMessage"`
	SessionID   string `json:"sessionId,omitempty"`
}

// ChatResponse is the unified non-streaming response envelope.
type ChatResponse struct {
	Success      bool              `json:"success"`
	Response     string            `json:"response,omitempty"`
	Action       *StructuredAction `json:"action,omitempty"`
	ActionResult *ActionResult     `json:"actionResult,omitempty"`
	Notice       string            `json:"notice,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorCode    ErrorCode         `json:"errorCode,omitempty"`
}

// FrameType discriminates frames on the streaming channel.
type FrameType string

const (
	FrameChunk  FrameType = "chunk"
	FrameAction FrameType = "action"
	FrameDone   FrameType = "done"
	FrameError  FrameType = "error"
)

// Frame is one message on the streaming chat channel. Chunk frames carry
// the full accumulated text so far (not a delta); the surface replaces the
// in-progress message wholesale on each frame.
type Frame struct {
	Type         FrameType     `json:"type"`
	FullResponse string        `json:"fullResponse,omitempty"`
	ActionResult *ActionResult `json:"actionResult,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Envelope is the generic cross-context request message. Action selects the
// operation; the remaining fields are action specific and a Target tag lets
// multiplexed consumers ignore unrelated messages.
type Envelope struct {
	Action      string         `json:"action"`
	Target      string         `json:"target,omitempty"`
	UserMessage string         `json:"userMessage,omitempty"`
	Text        string         `json:"text,omitempty"`
	ImageData   string         `json:"imageData,omitempty"`
	PageAction  string         `json:"gmailAction,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	RequestID   string         `json:"requestId,omitempty"`
}

// Recognized top-level envelope actions.
const (
	EnvLoadModel      = "load_model"
	EnvCheckStatus    = "check_status"
	EnvChat           = "chat"
	EnvGetEmails      = "get_emails"
	EnvGetContext     = "get_email_context"
	EnvExecuteAction  = "execute_action"
	EnvClassify       = "classify"
	EnvScreenshot     = "screenshot"
	EnvAnalyzeImage   = "analyze-image"
	EnvSummarize      = "summarize"
	EnvGetPageContent = "getPageContent"
)

// ClassifyResult is the sentiment classification outcome.
type ClassifyResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ChatMessage is one persisted transcript entry.
type ChatMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
