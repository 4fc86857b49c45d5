package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/types"
)

// RuntimeConfig configures the connection to a local inference runtime
// speaking the pull/generate/classify/vision HTTP API.
type RuntimeConfig struct {
	// BaseURL of the runtime, e.g. "http://127.0.0.1:11434".
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Model name per engine kind.
	GenerationModel     string `yaml:"generation_model" json:"generation_model"`
	ClassificationModel string `yaml:"classification_model" json:"classification_model"`
	OCRModel            string `yaml:"ocr_model" json:"ocr_model"`

	// Timeout for a single non-streaming request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultRuntimeConfig returns sensible local-runtime defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		BaseURL:             "http://127.0.0.1:11434",
		GenerationModel:     "qwen2.5:3b",
		ClassificationModel: "sentiment-mini",
		OCRModel:            "minicpm-v",
		Timeout:             60 * time.Second,
	}
}

// Model returns the configured model name for a kind.
func (c RuntimeConfig) Model(kind types.EngineKind) string {
	switch kind {
	case types.KindClassification:
		return c.ClassificationModel
	case types.KindOCR:
		return c.OCRModel
	default:
		return c.GenerationModel
	}
}

// LocalEngine adapts one model hosted by a local inference runtime to the
// Engine interface. The session is process-wide: there is no explicit
// destroy path, only expiry when the runtime invalidates it.
type LocalEngine struct {
	kind   types.EngineKind
	model  string
	cfg    RuntimeConfig
	client *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	state types.EngineState
	agg   *types.ProgressAggregator
}

// NewLocalEngine creates an uninitialized local engine for kind.
func NewLocalEngine(kind types.EngineKind, cfg RuntimeConfig, logger *zap.Logger) *LocalEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &LocalEngine{
		kind:  kind,
		model: cfg.Model(kind),
		cfg:   cfg,
		// No client-level timeout: streaming pulls and generations are
		// bounded by the caller's context instead.
		client: &http.Client{},
		logger: logger.With(
			zap.String("component", "local_engine"),
			zap.String("kind", string(kind)),
		),
		state: types.StateUninitialized,
		agg:   types.NewProgressAggregator(),
	}
}

// Kind implements Engine.
func (e *LocalEngine) Kind() types.EngineKind { return e.kind }

// Status implements Engine.
func (e *LocalEngine) Status() types.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Session implements Engine.
func (e *LocalEngine) Session() types.EngineSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	progress := e.agg.Snapshot()
	return types.EngineSession{Kind: e.kind, State: e.state, Progress: &progress}
}

func (e *LocalEngine) setState(s types.EngineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != s && e.state.CanTransition(s) {
		e.state = s
	}
}

// pullLine is one NDJSON progress line from the runtime's pull endpoint.
type pullLine struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Load pulls the model, relaying per-file progress events. The registry
// guarantees single-flight; Load itself only manages state transitions.
func (e *LocalEngine) Load(ctx context.Context, onProgress ProgressFunc) error {
	e.setState(types.StateLoading)

	body, _ := json.Marshal(map[string]any{"name": e.model, "stream": true})
	endpoint := fmt.Sprintf("%s/api/pull", strings.TrimRight(e.cfg.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		e.setState(types.StateError)
		return types.NewError(types.ErrInternalError, "build pull request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.setState(types.StateError)
		return mapLoadError(0, fmt.Sprintf("runtime unreachable: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		e.setState(types.StateError)
		return mapLoadError(resp.StatusCode, msg, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var pl pullLine
		if err := json.Unmarshal(line, &pl); err != nil {
			continue // tolerate junk between progress lines
		}
		if pl.Error != "" {
			e.setState(types.StateError)
			return mapLoadError(resp.StatusCode, pl.Error, nil)
		}

		ev := e.toProgressEvent(pl)
		e.mu.Lock()
		e.agg.Observe(ev)
		e.mu.Unlock()
		if onProgress != nil {
			onProgress(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		e.setState(types.StateError)
		return mapLoadError(0, "download interrupted", err)
	}

	e.setState(types.StateReady)
	e.logger.Info("engine ready", zap.String("model", e.model))
	return nil
}

func (e *LocalEngine) toProgressEvent(pl pullLine) types.ProgressEvent {
	switch pl.Status {
	case "success":
		return types.ProgressEvent{Status: types.ProgressDone}
	case "pulling manifest":
		return types.ProgressEvent{Status: types.ProgressInitiate, File: pl.Digest}
	default:
		status := types.ProgressProgress
		if pl.Completed == 0 {
			status = types.ProgressDownload
		}
		return types.ProgressEvent{
			Status: status,
			File:   pl.Digest,
			Loaded: pl.Completed,
			Total:  pl.Total,
		}
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt,omitempty"`
	Text    string         `json:"text,omitempty"`
	Image   string         `json:"image,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateLine struct {
	Response string  `json:"response,omitempty"`
	Text     string  `json:"text,omitempty"`
	Label    string  `json:"label,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Done     bool    `json:"done,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func (e *LocalEngine) endpoint() string {
	base := strings.TrimRight(e.cfg.BaseURL, "/")
	switch e.kind {
	case types.KindClassification:
		return base + "/api/classify"
	case types.KindOCR:
		return base + "/api/vision"
	default:
		return base + "/api/generate"
	}
}

func (e *LocalEngine) buildBody(req GenerateRequest, opts GenerateOptions, stream bool) generateRequest {
	body := generateRequest{Model: e.model, Stream: stream}
	switch e.kind {
	case types.KindClassification:
		body.Text = req.Prompt
	case types.KindOCR:
		body.Image = req.ImageData
		body.Prompt = req.Prompt
	default:
		body.Prompt = req.Prompt
	}

	options := map[string]any{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.DoSample {
		options["temperature"] = opts.Temperature
	} else {
		options["temperature"] = 0
	}
	if opts.RepetitionPenalty > 0 {
		options["repeat_penalty"] = opts.RepetitionPenalty
	}
	body.Options = options
	return body
}

func (e *LocalEngine) post(ctx context.Context, req GenerateRequest, opts GenerateOptions, stream bool) (*http.Response, error) {
	if !e.Status().Usable() {
		return nil, types.NewError(types.ErrEngineNotReady, "engine not loaded").WithRetryable(true)
	}

	payload, _ := json.Marshal(e.buildBody(req, opts, stream))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build generate request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, mapGenerateError(0, err.Error(), err)
	}
	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		resp.Body.Close()
		genErr := mapGenerateError(resp.StatusCode, msg, nil)
		if genErr.Code == types.ErrSessionExpired {
			e.expire()
		}
		return nil, genErr
	}
	return resp, nil
}

// Generate implements Engine.
func (e *LocalEngine) Generate(ctx context.Context, req GenerateRequest, opts GenerateOptions) (*Result, error) {
	resp, err := e.post(ctx, req, opts, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var line generateLine
	if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
		return nil, types.NewError(types.ErrInternalError, "decode runtime response").WithCause(err)
	}
	if line.Error != "" {
		genErr := mapGenerateError(0, line.Error, nil)
		if genErr.Code == types.ErrSessionExpired {
			e.expire()
		}
		return nil, genErr
	}

	text := line.Response
	if text == "" {
		text = line.Text
	}
	return &Result{RawText: text, Label: line.Label, Score: line.Score}, nil
}

// GenerateStream implements Engine. Each NDJSON line yields one delta
// chunk; the line with done:true terminates the sequence.
func (e *LocalEngine) GenerateStream(ctx context.Context, req GenerateRequest, opts GenerateOptions) (<-chan Chunk, error) {
	resp, err := e.post(ctx, req, opts, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var gl generateLine
			if err := json.Unmarshal(line, &gl); err != nil {
				continue
			}
			if gl.Error != "" {
				genErr := mapGenerateError(0, gl.Error, nil)
				if genErr.Code == types.ErrSessionExpired {
					e.expire()
				}
				e.emit(ctx, ch, Chunk{Err: genErr})
				return
			}
			if gl.Response != "" {
				if !e.emit(ctx, ch, Chunk{Delta: gl.Response}) {
					return
				}
			}
			if gl.Done {
				e.emit(ctx, ch, Chunk{Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			e.emit(ctx, ch, Chunk{Err: mapGenerateError(0, "stream interrupted", err)})
			return
		}
		// Runtime closed the stream without a done marker; still terminal.
		e.emit(ctx, ch, Chunk{Done: true})
	}()
	return ch, nil
}

func (e *LocalEngine) emit(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// expire transitions to the expired state. The registry discards expired
// handles on the next acquire; generation is never retried on a dead one.
func (e *LocalEngine) expire() {
	e.logger.Warn("runtime invalidated session", zap.String("model", e.model))
	e.setState(types.StateExpired)
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 8*1024))
	var er struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(string(data))
}
