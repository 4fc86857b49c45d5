package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/action"
	"github.com/mailmind/mailmind/engine"
	"github.com/mailmind/mailmind/internal/metrics"
	"github.com/mailmind/mailmind/types"
)

// PageAgent is the webmail surface the orchestrator reads and drives.
type PageAgent interface {
	GetContext(ctx context.Context) (*types.PageContext, error)
	Execute(ctx context.Context, act *types.StructuredAction) types.ActionResult
	Screenshot(ctx context.Context) ([]byte, error)
}

// History persists chat transcripts per session.
type History interface {
	Append(ctx context.Context, sessionID string, msg types.ChatMessage) error
	Recent(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error)
}

// Config tunes the chat pipeline.
type Config struct {
	// PromptBudget caps the whole prompt in tokens.
	PromptBudget int `yaml:"prompt_budget" json:"prompt_budget"`

	// MaxOutputTokens caps the generation length.
	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens"`

	Temperature float64 `yaml:"temperature" json:"temperature"`

	// HistoryTurns is how many persisted messages feed back into the prompt.
	HistoryTurns int `yaml:"history_turns" json:"history_turns"`

	// RequestTimeout bounds one whole chat turn.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		PromptBudget:    3072,
		MaxOutputTokens: 512,
		Temperature:     0.7,
		HistoryTurns:    10,
		RequestTimeout:  120 * time.Second,
	}
}

// Orchestrator runs the context-fetch, generate, extract, dispatch sequence.
type Orchestrator struct {
	engines *engine.Registry
	page    PageAgent
	history History // optional
	prompts *PromptBuilder
	metrics *metrics.Collector // optional
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer

	// One in-flight chat turn per engine kind. Contending turns are
	// rejected, never queued.
	busyMu sync.Mutex
	busy   map[types.EngineKind]bool
}

// New creates an orchestrator. history and collector may be nil.
func New(engines *engine.Registry, page PageAgent, history History, collector *metrics.Collector, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = def.PromptBudget
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Orchestrator{
		engines: engines,
		page:    page,
		history: history,
		prompts: NewPromptBuilder(cfg.PromptBudget),
		metrics: collector,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "orchestrator")),
		tracer:  otel.Tracer("mailmind/orchestrator"),
		busy:    make(map[types.EngineKind]bool),
	}
}

// tryBusy claims the in-flight slot for kind. False means a turn is already
// running.
func (o *Orchestrator) tryBusy(kind types.EngineKind) bool {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	if o.busy[kind] {
		return false
	}
	o.busy[kind] = true
	return true
}

func (o *Orchestrator) releaseBusy(kind types.EngineKind) {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	o.busy[kind] = false
}

// Busy reports whether a chat turn is currently running on kind.
func (o *Orchestrator) Busy(kind types.EngineKind) bool {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	return o.busy[kind]
}

// HandleChat runs one synchronous chat turn.
func (o *Orchestrator) HandleChat(ctx context.Context, req types.ChatRequest) *types.ChatResponse {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "chat")
	defer span.End()

	if strings.TrimSpace(req.UserMessage) == "" {
		return o.failure("sync", start, types.NewError(types.ErrInvalidRequest, "empty user message"))
	}

	if !o.tryBusy(types.KindGeneration) {
		return o.failure("sync", start, types.NewError(types.ErrEngineBusy, "a chat turn is already in progress"))
	}
	defer o.releaseBusy(types.KindGeneration)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	pc, note := o.fetchContext(ctx)
	hist := o.recentHistory(ctx, req.SessionID)
	prompt := o.prompts.Build(req.UserMessage, pc, note, hist)

	raw, notice, err := o.generate(ctx, prompt)
	if err != nil {
		return o.failure("sync", start, err)
	}

	act, display := action.Extract(raw)
	resp := &types.ChatResponse{Success: true, Response: display, Notice: notice}

	if act != nil {
		span.SetAttributes(attribute.String("action", string(act.Name)))
		result := o.dispatch(ctx, act)
		resp.Action = act
		resp.ActionResult = &result
	}

	o.appendHistory(ctx, req.SessionID, "user", req.UserMessage)
	o.appendHistory(ctx, req.SessionID, "assistant", resp.Response)

	if o.metrics != nil {
		o.metrics.RecordChat("sync", "success", time.Since(start))
	}
	return resp
}

// fetchContext reads the page context best-effort. A failure never aborts
// the turn; it folds into the prompt as a note so the model knows the
// mailbox is not visible.
func (o *Orchestrator) fetchContext(ctx context.Context) (*types.PageContext, string) {
	ctx, span := o.tracer.Start(ctx, "page.context")
	defer span.End()

	pc, err := o.page.GetContext(ctx)
	if err != nil {
		o.logger.Warn("page context unavailable", zap.Error(err))
		return nil, "the mailbox page could not be read; answer from the conversation alone"
	}
	return pc, ""
}

func (o *Orchestrator) recentHistory(ctx context.Context, sessionID string) []types.ChatMessage {
	if o.history == nil || sessionID == "" {
		return nil
	}
	hist, err := o.history.Recent(ctx, sessionID, o.cfg.HistoryTurns)
	if err != nil {
		o.logger.Warn("history fetch failed", zap.Error(err))
		return nil
	}
	return hist
}

func (o *Orchestrator) appendHistory(ctx context.Context, sessionID, role, content string) {
	if o.history == nil || sessionID == "" || content == "" {
		return
	}
	msg := types.ChatMessage{Role: role, Content: content, CreatedAt: time.Now()}
	if err := o.history.Append(ctx, sessionID, msg); err != nil {
		o.logger.Warn("history append failed", zap.Error(err))
	}
}

func (o *Orchestrator) genOpts() engine.GenerateOptions {
	return engine.GenerateOptions{
		MaxTokens:   o.cfg.MaxOutputTokens,
		Temperature: o.cfg.Temperature,
		DoSample:    o.cfg.Temperature > 0,
	}
}

// generate runs the model once, recovering a single time from session
// expiry by discarding the handle and retrying. The returned notice is
// non-empty only when a recovery happened.
func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, string, error) {
	ctx, span := o.tracer.Start(ctx, "engine.generate")
	defer span.End()

	start := time.Now()
	req := engine.GenerateRequest{Prompt: prompt}

	res, err := o.engines.Generate(ctx, types.KindGeneration, req, o.genOpts())
	notice := ""
	if err != nil && types.IsCode(err, types.ErrSessionExpired) {
		o.logger.Warn("generation session expired, rebuilding")
		o.engines.Invalidate(types.KindGeneration)
		notice = "Reconnecting to the model..."
		res, err = o.engines.Generate(ctx, types.KindGeneration, req, o.genOpts())
	}
	if err != nil {
		return "", "", o.mapTimeout(ctx, err)
	}

	if o.metrics != nil {
		o.metrics.RecordGeneration(string(types.KindGeneration), o.prompts.CountTokens(prompt), time.Since(start))
	}
	return res.RawText, notice, nil
}

// dispatch executes an extracted action on the page. Action faults surface
// in the result, never as a pipeline error.
func (o *Orchestrator) dispatch(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	ctx, span := o.tracer.Start(ctx, "page.execute",
		trace.WithAttributes(attribute.String("action", string(act.Name))))
	defer span.End()

	result := o.page.Execute(ctx, act)
	if o.metrics != nil {
		o.metrics.RecordActionDispatch(string(act.Name), result.Success)
	}
	return result
}

// mapTimeout converts a context deadline into the user-visible timeout
// error; everything else passes through.
func (o *Orchestrator) mapTimeout(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		if types.IsCode(err, types.ErrTimeout) {
			return err
		}
		return types.NewError(types.ErrTimeout, "generation timed out").WithCause(err)
	}
	return err
}

func (o *Orchestrator) failure(mode string, start time.Time, err error) *types.ChatResponse {
	code := types.CodeOf(err)
	o.logger.Warn("chat turn failed", zap.String("code", string(code)), zap.Error(err))
	if o.metrics != nil {
		o.metrics.RecordChat(mode, string(code), time.Since(start))
	}
	return &types.ChatResponse{
		Success:   false,
		Error:     types.UserMessage(err),
		ErrorCode: code,
	}
}
