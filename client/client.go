package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/types"
)

// =============================================================================
// Daemon client
// =============================================================================

// Config configures the daemon client.
type Config struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns settings for a locally running daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8790",
		Timeout: 120 * time.Second,
	}
}

// Client talks to the copilot daemon over its HTTP/WS contract.
type Client struct {
	cfg    Config
	client *http.Client
	// stream has no overall timeout: SSE model loads and WebSocket chat
	// hold a response open far longer than any single request budget.
	stream *http.Client
	logger *zap.Logger
}

// New creates a daemon client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8790"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		stream: &http.Client{},
		logger: logger.With(zap.String("component", "client")),
	}
}

// envelope mirrors the daemon's generic response wrapper.
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

type wireError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

func (e *wireError) typed() *types.Error {
	return &types.Error{
		Code:        types.ErrorCode(e.Code),
		Message:     e.Message,
		Remediation: e.Remediation,
		Retryable:   e.Retryable,
	}
}

func (c *Client) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
}

// postJSON posts body and decodes the envelope's data into out (when out is
// non-nil). Envelope-level errors come back as *types.Error.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.buildHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.buildHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			return env.Error.typed()
		}
		return types.NewError(types.ErrInternalError, fmt.Sprintf("request failed with status %d", resp.StatusCode))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// Chat runs one synchronous chat turn. The returned response may itself
// carry a failure (Success=false with an error code); transport problems
// are returned as errors.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.buildHeaders(httpReq)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	// The chat endpoint writes a ChatResponse at every status; decode
	// errors mean we hit a non-chat failure (bad request envelope).
	var resp types.ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode chat response (status %d): %w", httpResp.StatusCode, err)
	}
	if !resp.Success && resp.Error == "" && resp.ErrorCode == "" {
		return nil, types.NewError(types.ErrInternalError, fmt.Sprintf("chat failed with status %d", httpResp.StatusCode))
	}
	return &resp, nil
}

// ChatStream opens the streaming chat channel. The returned channel yields
// chunk frames carrying the full accumulated text, at most one action
// frame, then a terminal done or error frame, and closes. Cancelling ctx
// tears the stream down.
func (c *Client) ChatStream(ctx context.Context, req types.ChatRequest) (<-chan types.Frame, error) {
	wsURL := strings.Replace(c.cfg.BaseURL, "http", "ws", 1) + "/v1/chat/stream"

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.stream,
	})
	if err != nil {
		return nil, fmt.Errorf("dial chat stream: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = wsjson.Write(writeCtx, conn, req)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return nil, fmt.Errorf("send chat request: %w", err)
	}

	frames := make(chan types.Frame)
	go func() {
		defer close(frames)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			var frame types.Frame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				// The server closes after the terminal frame; a read
				// error past that point is the normal end of stream.
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
			if frame.Type == types.FrameDone || frame.Type == types.FrameError {
				return
			}
		}
	}()
	return frames, nil
}

// LoadEngine initializes an engine, relaying SSE progress events to
// onProgress (which may be nil). It returns the ready session snapshot or
// the typed load error.
func (c *Client) LoadEngine(ctx context.Context, kind types.EngineKind, onProgress func(types.ProgressEvent)) (*types.EngineSession, error) {
	payload, err := json.Marshal(map[string]types.EngineKind{"kind": kind})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/engine/load", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.buildHeaders(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
			return nil, env.Error.typed()
		}
		return nil, types.NewError(types.ErrInternalError, fmt.Sprintf("engine load failed with status %d", resp.StatusCode))
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case "progress":
				if onProgress != nil {
					var ev types.ProgressEvent
					if err := json.Unmarshal(data, &ev); err == nil {
						onProgress(ev)
					}
				}
			case "ready":
				var session types.EngineSession
				if err := json.Unmarshal(data, &session); err != nil {
					return nil, fmt.Errorf("decode ready event: %w", err)
				}
				return &session, nil
			case "error":
				var we wireError
				if err := json.Unmarshal(data, &we); err != nil {
					return nil, fmt.Errorf("decode error event: %w", err)
				}
				return nil, we.typed()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read load stream: %w", err)
	}
	return nil, types.NewError(types.ErrInternalError, "load stream ended without a terminal event")
}

// EngineStatus returns one engine's session snapshot.
func (c *Client) EngineStatus(ctx context.Context, kind types.EngineKind) (*types.EngineSession, error) {
	var session types.EngineSession
	if err := c.getJSON(ctx, "/v1/engine/status?kind="+string(kind), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// EngineStatusBoard returns the session snapshot for every engine kind.
func (c *Client) EngineStatusBoard(ctx context.Context) (map[types.EngineKind]types.EngineSession, error) {
	board := make(map[types.EngineKind]types.EngineSession)
	if err := c.getJSON(ctx, "/v1/engine/status", &board); err != nil {
		return nil, err
	}
	return board, nil
}

// PageContext returns the current webmail page snapshot.
func (c *Client) PageContext(ctx context.Context) (*types.PageContext, error) {
	var pc types.PageContext
	if err := c.getJSON(ctx, "/v1/page/context", &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

// Execute runs one structured action against the page, bypassing the model.
func (c *Client) Execute(ctx context.Context, action string, params map[string]any) (*types.ActionResult, error) {
	req := map[string]any{"action": action}
	if len(params) > 0 {
		req["params"] = params
	}
	var result types.ActionResult
	if err := c.postJSON(ctx, "/v1/page/execute", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Screenshot captures the page as base64 PNG.
func (c *Client) Screenshot(ctx context.Context) (string, error) {
	var out struct {
		Image string `json:"image"`
	}
	if err := c.getJSON(ctx, "/v1/screenshot", &out); err != nil {
		return "", err
	}
	return out.Image, nil
}

// Classify runs sentiment classification on text.
func (c *Client) Classify(ctx context.Context, text string) (*types.ClassifyResult, error) {
	var result types.ClassifyResult
	if err := c.postJSON(ctx, "/v1/classify", map[string]string{"text": text}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Summarize summarizes arbitrary text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.postJSON(ctx, "/v1/summarize", map[string]string{"text": text}, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// AnalyzeImage extracts text from a base64 image.
func (c *Client) AnalyzeImage(ctx context.Context, imageData string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.postJSON(ctx, "/v1/analyze-image", map[string]string{"imageData": imageData}, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Flag fetches a stored flag value. A missing key is not an error: the
// second return reports whether the key exists.
func (c *Client) Flag(ctx context.Context, key string) (string, bool, error) {
	var out struct {
		Value  string `json:"value"`
		Exists bool   `json:"exists"`
	}
	if err := c.getJSON(ctx, "/v1/flags/"+url.PathEscape(key), &out); err != nil {
		return "", false, err
	}
	return out.Value, out.Exists, nil
}

// SetFlag stores a flag value. A zero ttl uses the daemon's default.
func (c *Client) SetFlag(ctx context.Context, key, value string, ttl time.Duration) error {
	body := map[string]any{"value": value}
	if ttl > 0 {
		body["ttl_seconds"] = int(ttl / time.Second)
	}
	return c.doJSON(ctx, http.MethodPut, "/v1/flags/"+url.PathEscape(key), body, nil)
}

// SetFlagOnce raises a flag if nobody has yet, and reports whether this
// call was first. Gates one-time UX like the onboarding notice.
func (c *Client) SetFlagOnce(ctx context.Context, key string) (bool, error) {
	var out struct {
		First bool `json:"first"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/v1/flags/"+url.PathEscape(key), map[string]any{"once": true}, &out); err != nil {
		return false, err
	}
	return out.First, nil
}

// ClearFlag lowers a flag. Clearing an absent key succeeds.
func (c *Client) ClearFlag(ctx context.Context, key string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/flags/"+url.PathEscape(key), struct{}{}, nil)
}

// Healthz reports whether the daemon is up.
func (c *Client) Healthz(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
