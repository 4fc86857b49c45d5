package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mailmind/mailmind/types"
)

// offscreenTarget tags every frame exchanged with the helper process.
// Frames carrying any other target are ignored by both sides.
const offscreenTarget = "offscreen"

// offscreenFrame is one response frame from the helper process.
type offscreenFrame struct {
	Target    string               `json:"target,omitempty"`
	RequestID string               `json:"requestId,omitempty"`
	Type      string               `json:"type"` // progress, chunk, result, status, done, error
	Progress  *types.ProgressEvent `json:"progress,omitempty"`
	Delta     string               `json:"delta,omitempty"`
	Text      string               `json:"text,omitempty"`
	Label     string               `json:"label,omitempty"`
	Score     float64              `json:"score,omitempty"`
	State     types.EngineState    `json:"state,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// OffscreenConfig configures the accelerated helper process connection.
type OffscreenConfig struct {
	// URL of the helper's WebSocket endpoint, e.g. "ws://127.0.0.1:7811/host".
	URL string `yaml:"url" json:"url"`

	// DialTimeout bounds helper provisioning.
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultOffscreenConfig returns helper connection defaults.
func DefaultOffscreenConfig() OffscreenConfig {
	return OffscreenConfig{
		URL:         "ws://127.0.0.1:7811/host",
		DialTimeout: 10 * time.Second,
	}
}

// OffscreenEngine proxies the Engine contract to a helper process that
// hosts a capability this process lacks (typically accelerated compute).
// Provisioning the helper connection is idempotent: concurrent attempts
// await a single in-flight dial.
type OffscreenEngine struct {
	kind   types.EngineKind
	cfg    OffscreenConfig
	logger *zap.Logger

	provision singleflight.Group

	// connMu serializes request/response exchanges on the socket. The
	// registry already serializes generations per kind; this additionally
	// keeps load/status exchanges from interleaving frames.
	connMu sync.Mutex

	mu    sync.RWMutex // guards conn pointer, state, agg
	conn  *websocket.Conn
	state types.EngineState
	agg   *types.ProgressAggregator
}

// NewOffscreenEngine creates an unprovisioned offscreen proxy for kind.
func NewOffscreenEngine(kind types.EngineKind, cfg OffscreenConfig, logger *zap.Logger) *OffscreenEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OffscreenEngine{
		kind: kind,
		cfg:  cfg,
		logger: logger.With(
			zap.String("component", "offscreen_engine"),
			zap.String("kind", string(kind)),
		),
		state: types.StateUninitialized,
		agg:   types.NewProgressAggregator(),
	}
}

// Kind implements Engine.
func (e *OffscreenEngine) Kind() types.EngineKind { return e.kind }

// Status implements Engine.
func (e *OffscreenEngine) Status() types.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Session implements Engine.
func (e *OffscreenEngine) Session() types.EngineSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	progress := e.agg.Snapshot()
	return types.EngineSession{Kind: e.kind, State: e.state, Progress: &progress}
}

// ensureConn provisions the helper connection exactly once even under
// concurrent demand.
func (e *OffscreenEngine) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()
	if conn != nil {
		return conn, nil
	}

	v, err, _ := e.provision.Do("dial", func() (any, error) {
		e.mu.RLock()
		existing := e.conn
		e.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		dialCtx := ctx
		if e.cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, e.cfg.DialTimeout)
			defer cancel()
		}
		c, _, err := websocket.Dial(dialCtx, e.cfg.URL, nil)
		if err != nil {
			return nil, types.NewError(types.ErrEngineNotReady,
				fmt.Sprintf("offscreen host unreachable: %v", err)).
				WithCause(err).WithRetryable(true)
		}
		c.SetReadLimit(16 * 1024 * 1024)
		e.mu.Lock()
		e.conn = c
		e.mu.Unlock()
		e.logger.Info("offscreen host provisioned", zap.String("url", e.cfg.URL))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*websocket.Conn), nil
}

// dropConn tears down a broken helper connection so the next call
// re-provisions.
func (e *OffscreenEngine) dropConn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		_ = e.conn.Close(websocket.StatusInternalError, "resetting")
		e.conn = nil
	}
}

func (e *OffscreenEngine) setState(s types.EngineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != s && e.state.CanTransition(s) {
		e.state = s
	}
}

// exchange sends one envelope and invokes onFrame for every matching
// response frame until onFrame reports done or an error frame arrives.
// Unrelated frames (foreign target or request id) are ignored.
func (e *OffscreenEngine) exchange(ctx context.Context, env types.Envelope, onFrame func(offscreenFrame) bool) error {
	conn, err := e.ensureConn(ctx)
	if err != nil {
		return err
	}

	e.connMu.Lock()
	defer e.connMu.Unlock()

	if err := wsjson.Write(ctx, conn, env); err != nil {
		e.dropConn()
		return types.NewError(types.ErrEngineNotReady, "offscreen host write failed").
			WithCause(err).WithRetryable(true)
	}

	for {
		var frame offscreenFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			e.dropConn()
			if ctx.Err() != nil {
				// The caller gave up; the helper may keep working. There is
				// no remote abort, so surface a distinct timeout.
				return types.NewError(types.ErrTimeout, "offscreen host timed out").WithCause(ctx.Err())
			}
			return types.NewError(types.ErrEngineNotReady, "offscreen host read failed").
				WithCause(err).WithRetryable(true)
		}
		if frame.Target != "" && frame.Target != offscreenTarget {
			continue
		}
		if frame.RequestID != "" && frame.RequestID != env.RequestID {
			continue
		}
		if frame.Type == "error" {
			genErr := mapGenerateError(0, frame.Error, nil)
			if genErr.Code == types.ErrSessionExpired {
				e.setState(types.StateExpired)
			}
			return genErr
		}
		if !onFrame(frame) {
			return nil
		}
	}
}

// Load implements Engine. The helper performs the heavy download; progress
// frames are relayed verbatim.
func (e *OffscreenEngine) Load(ctx context.Context, onProgress ProgressFunc) error {
	e.setState(types.StateLoading)

	env := types.Envelope{
		Action:    types.EnvLoadModel,
		Target:    offscreenTarget,
		RequestID: uuid.NewString(),
		Params:    map[string]any{"kind": string(e.kind)},
	}
	err := e.exchange(ctx, env, func(f offscreenFrame) bool {
		switch f.Type {
		case "progress":
			if f.Progress != nil {
				e.mu.Lock()
				e.agg.Observe(*f.Progress)
				e.mu.Unlock()
				if onProgress != nil {
					onProgress(*f.Progress)
				}
			}
			return true
		case "done":
			return false
		default:
			return true
		}
	})
	if err != nil {
		e.setState(types.StateError)
		return err
	}
	e.setState(types.StateReady)
	return nil
}

// Generate implements Engine.
func (e *OffscreenEngine) Generate(ctx context.Context, req GenerateRequest, opts GenerateOptions) (*Result, error) {
	if !e.Status().Usable() {
		return nil, types.NewError(types.ErrEngineNotReady, "engine not loaded").WithRetryable(true)
	}

	env := e.generateEnvelope(req, opts, false)
	var result Result
	err := e.exchange(ctx, env, func(f offscreenFrame) bool {
		if f.Type == "result" || f.Type == "done" {
			if f.Text != "" {
				result.RawText = f.Text
			}
			result.Label = f.Label
			result.Score = f.Score
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateStream implements Engine. The socket stays dedicated to this
// exchange until the terminal frame; a second request on the same socket
// mid-stream would corrupt the multiplexing, so it waits on the exchange
// lock instead.
func (e *OffscreenEngine) GenerateStream(ctx context.Context, req GenerateRequest, opts GenerateOptions) (<-chan Chunk, error) {
	if !e.Status().Usable() {
		return nil, types.NewError(types.ErrEngineNotReady, "engine not loaded").WithRetryable(true)
	}

	env := e.generateEnvelope(req, opts, true)
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		err := e.exchange(ctx, env, func(f offscreenFrame) bool {
			switch f.Type {
			case "chunk":
				select {
				case ch <- Chunk{Delta: f.Delta}:
					return true
				case <-ctx.Done():
					return false
				}
			case "done", "result":
				return false
			default:
				return true
			}
		})
		if err != nil {
			select {
			case ch <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case ch <- Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (e *OffscreenEngine) generateEnvelope(req GenerateRequest, opts GenerateOptions, stream bool) types.Envelope {
	return types.Envelope{
		Action:    "generate",
		Target:    offscreenTarget,
		RequestID: uuid.NewString(),
		Text:      req.Prompt,
		ImageData: req.ImageData,
		Params: map[string]any{
			"kind":               string(e.kind),
			"stream":             stream,
			"max_tokens":         opts.MaxTokens,
			"temperature":        opts.Temperature,
			"do_sample":          opts.DoSample,
			"repetition_penalty": opts.RepetitionPenalty,
		},
	}
}

// Close tears down the helper connection.
func (e *OffscreenEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close(websocket.StatusNormalClosure, "closing")
	e.conn = nil
	return err
}
