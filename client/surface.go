package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/types"
)

// =============================================================================
// Interaction surface
// =============================================================================

// Renderer receives display updates from the surface. RenderAssistant is
// called with the full accumulated text on every streaming frame; the
// implementation must replace the in-progress message wholesale, never
// append.
type Renderer interface {
	RenderUser(text string)
	RenderAssistant(text string)
	RenderAction(result *types.ActionResult)
	RenderNotice(text string)
	RenderError(message string)
	RenderProgress(progress types.LoadProgress)
}

// SurfaceConfig tunes input gating.
type SurfaceConfig struct {
	// DebounceWindow drops a resubmission of the same text arriving
	// within this window (double-click, double-Enter).
	DebounceWindow time.Duration `yaml:"debounce_window" json:"debounce_window"`

	// QuickActions maps button names to canned phrases. They ride the
	// same request path as free-text input.
	QuickActions map[string]string `yaml:"quick_actions" json:"quick_actions"`
}

// DefaultSurfaceConfig returns the stock gating and quick actions.
func DefaultSurfaceConfig() SurfaceConfig {
	return SurfaceConfig{
		DebounceWindow: 750 * time.Millisecond,
		QuickActions: map[string]string{
			"summarize":   "Summarize my inbox",
			"unread":      "Show me my unread emails",
			"search":      "Search my emails",
			"draft_reply": "Draft a reply to the open email",
			"sentiment":   "What is the tone of the open email?",
		},
	}
}

// Surface gates user input on two booleans: ready (engine usable) and busy
// (a request is in flight). Submissions while busy are rejected, never
// queued; duplicate submissions inside the debounce window are dropped.
type Surface struct {
	client    *Client
	renderer  Renderer
	cfg       SurfaceConfig
	sessionID string
	logger    *zap.Logger

	mu       sync.Mutex
	ready    bool
	busy     bool
	lastText string
	lastAt   time.Time
}

// NewSurface creates a surface bound to one chat session.
func NewSurface(c *Client, renderer Renderer, sessionID string, cfg SurfaceConfig, logger *zap.Logger) *Surface {
	if cfg.DebounceWindow == 0 {
		cfg.DebounceWindow = 750 * time.Millisecond
	}
	if cfg.QuickActions == nil {
		cfg.QuickActions = DefaultSurfaceConfig().QuickActions
	}
	return &Surface{
		client:    c,
		renderer:  renderer,
		cfg:       cfg,
		sessionID: sessionID,
		logger:    logger.With(zap.String("component", "surface")),
	}
}

// Ready reports whether the generation engine is usable.
func (s *Surface) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Busy reports whether a request is in flight.
func (s *Surface) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Refresh re-reads the generation engine state from the daemon.
func (s *Surface) Refresh(ctx context.Context) error {
	session, err := s.client.EngineStatus(ctx, types.KindGeneration)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ready = session.State.Usable()
	s.mu.Unlock()
	return nil
}

// EnsureReady loads the generation engine if it is not usable yet,
// rendering aggregated download progress while it loads.
func (s *Surface) EnsureReady(ctx context.Context) error {
	if s.Ready() {
		return nil
	}

	agg := types.NewProgressAggregator()
	_, err := s.client.LoadEngine(ctx, types.KindGeneration, func(ev types.ProgressEvent) {
		agg.Observe(ev)
		s.renderer.RenderProgress(agg.Snapshot())
	})
	if err != nil {
		s.renderer.RenderError(errorMessage(err))
		return err
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Submit runs one chat turn through the streaming path. Empty input and
// duplicates inside the debounce window are dropped silently; submissions
// while not ready or while busy come back as typed errors.
func (s *Surface) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return types.NewError(types.ErrEngineBusy, "a request is already in flight")
	}
	if !s.ready {
		s.mu.Unlock()
		return types.NewError(types.ErrEngineNotReady, "engine is not ready")
	}
	now := time.Now()
	if text == s.lastText && now.Sub(s.lastAt) < s.cfg.DebounceWindow {
		s.mu.Unlock()
		s.logger.Debug("dropped duplicate submission", zap.String("text", text))
		return nil
	}
	s.busy = true
	s.lastText = text
	s.lastAt = now
	s.mu.Unlock()

	defer s.release()

	s.renderer.RenderUser(text)

	req := types.ChatRequest{UserMessage: text, SessionID: s.sessionID}
	frames, err := s.client.ChatStream(ctx, req)
	if err != nil {
		s.logger.Debug("stream unavailable, falling back to synchronous chat", zap.Error(err))
		return s.submitSync(ctx, req)
	}

	for frame := range frames {
		switch frame.Type {
		case types.FrameChunk:
			s.renderer.RenderAssistant(frame.FullResponse)
		case types.FrameAction:
			s.renderer.RenderAction(frame.ActionResult)
		case types.FrameDone:
			return nil
		case types.FrameError:
			s.renderer.RenderError(frame.Error)
			return types.NewError(types.ErrInternalError, frame.Error)
		}
	}
	return nil
}

func (s *Surface) submitSync(ctx context.Context, req types.ChatRequest) error {
	resp, err := s.client.Chat(ctx, req)
	if err != nil {
		s.renderer.RenderError(errorMessage(err))
		return err
	}
	if resp.Notice != "" {
		s.renderer.RenderNotice(resp.Notice)
	}
	if !resp.Success {
		s.renderer.RenderError(resp.Error)
		return types.NewError(resp.ErrorCode, resp.Error)
	}
	s.renderer.RenderAssistant(resp.Response)
	if resp.ActionResult != nil {
		s.renderer.RenderAction(resp.ActionResult)
	}
	return nil
}

// QuickAction submits the canned phrase registered under name.
func (s *Surface) QuickAction(ctx context.Context, name string) error {
	phrase, ok := s.cfg.QuickActions[name]
	if !ok {
		return types.NewError(types.ErrInvalidRequest, "unknown quick action: "+name)
	}
	return s.Submit(ctx, phrase)
}

func (s *Surface) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func errorMessage(err error) string {
	if te, ok := err.(*types.Error); ok && te.Message != "" {
		return te.Message
	}
	return types.UserMessage(err)
}
