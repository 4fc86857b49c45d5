package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/mailmind/engine"
	"github.com/mailmind/mailmind/internal/metrics"
	"github.com/mailmind/mailmind/types"
)

// stubEngine is a scripted in-process engine.
type stubEngine struct {
	kind types.EngineKind

	mu    sync.Mutex
	state types.EngineState

	generate func(req engine.GenerateRequest) (*engine.Result, error)
	stream   []engine.Chunk
	gate     chan struct{} // when set, Generate blocks until closed
}

func (e *stubEngine) Kind() types.EngineKind { return e.kind }

func (e *stubEngine) Load(ctx context.Context, onProgress engine.ProgressFunc) error {
	e.mu.Lock()
	e.state = types.StateReady
	e.mu.Unlock()
	return nil
}

func (e *stubEngine) Status() types.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *stubEngine) Session() types.EngineSession {
	return types.EngineSession{Kind: e.kind, State: e.Status()}
}

func (e *stubEngine) Generate(ctx context.Context, req engine.GenerateRequest, _ engine.GenerateOptions) (*engine.Result, error) {
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.generate != nil {
		return e.generate(req)
	}
	return &engine.Result{RawText: "ok"}, nil
}

func (e *stubEngine) GenerateStream(ctx context.Context, req engine.GenerateRequest, _ engine.GenerateOptions) (<-chan engine.Chunk, error) {
	out := make(chan engine.Chunk, len(e.stream)+1)
	for _, c := range e.stream {
		out <- c
	}
	close(out)
	return out, nil
}

// stubPage is a scripted page agent.
type stubPage struct {
	pc      *types.PageContext
	ctxErr  error
	results map[types.ActionName]types.ActionResult
	calls   []types.ActionName
}

func (p *stubPage) GetContext(ctx context.Context) (*types.PageContext, error) {
	if p.ctxErr != nil {
		return nil, p.ctxErr
	}
	if p.pc == nil {
		return &types.PageContext{Items: []types.ItemSummary{}}, nil
	}
	return p.pc, nil
}

func (p *stubPage) Execute(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	p.calls = append(p.calls, act.Name)
	if r, ok := p.results[act.Name]; ok {
		return r
	}
	return types.ActionResult{Success: true, Message: "done"}
}

func (p *stubPage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{1, 2, 3}, nil
}

type memHistory struct {
	mu   sync.Mutex
	msgs map[string][]types.ChatMessage
}

func (h *memHistory) Append(ctx context.Context, sessionID string, msg types.ChatMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.msgs == nil {
		h.msgs = map[string][]types.ChatMessage{}
	}
	h.msgs[sessionID] = append(h.msgs[sessionID], msg)
	return nil
}

func (h *memHistory) Recent(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.msgs[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func newTestOrchestrator(t *testing.T, eng *stubEngine, page *stubPage) *Orchestrator {
	t.Helper()
	reg := engine.NewRegistry(nil)
	reg.Register(types.KindGeneration, func(types.EngineKind) (engine.Engine, error) {
		return eng, nil
	})
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	return New(reg, page, &memHistory{}, nil, cfg, nil)
}

func TestHandleChat_TextOnly(t *testing.T) {
	eng := &stubEngine{kind: types.KindGeneration, generate: func(engine.GenerateRequest) (*engine.Result, error) {
		return &engine.Result{RawText: "You have mail."}, nil
	}}
	page := &stubPage{}
	o := newTestOrchestrator(t, eng, page)

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "anything new?"})
	require.True(t, resp.Success)
	assert.Equal(t, "You have mail.", resp.Response)
	assert.Nil(t, resp.Action)
	assert.Empty(t, resp.Notice)
}

func TestHandleChat_ExtractsAndDispatchesAction(t *testing.T) {
	eng := &stubEngine{kind: types.KindGeneration, generate: func(engine.GenerateRequest) (*engine.Result, error) {
		return &engine.Result{RawText: `Opening it now. {"action":"open_item","params":{"index":1}}`}, nil
	}}
	page := &stubPage{results: map[types.ActionName]types.ActionResult{
		types.ActionOpenItem: {Success: true, Message: "Opened email 1"},
	}}
	o := newTestOrchestrator(t, eng, page)

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "open the second one"})
	require.True(t, resp.Success)
	assert.Equal(t, "Opening it now.", resp.Response)
	require.NotNil(t, resp.Action)
	assert.Equal(t, types.ActionOpenItem, resp.Action.Name)
	require.NotNil(t, resp.ActionResult)
	assert.Equal(t, "Opened email 1", resp.ActionResult.Message)
	assert.Equal(t, []types.ActionName{types.ActionOpenItem}, page.calls)
}

func TestHandleChat_EmptyMessage(t *testing.T) {
	o := newTestOrchestrator(t, &stubEngine{kind: types.KindGeneration}, &stubPage{})

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "   "})
	assert.False(t, resp.Success)
	assert.Equal(t, types.ErrInvalidRequest, resp.ErrorCode)
}

func TestHandleChat_BusyRejectsConcurrentTurn(t *testing.T) {
	gate := make(chan struct{})
	eng := &stubEngine{kind: types.KindGeneration, gate: gate}
	o := newTestOrchestrator(t, eng, &stubPage{})

	done := make(chan *types.ChatResponse, 1)
	go func() {
		done <- o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "slow one"})
	}()

	// Wait for the first turn to claim the engine.
	require.Eventually(t, func() bool {
		return o.Busy(types.KindGeneration)
	}, time.Second, 5*time.Millisecond)

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "second"})
	assert.False(t, resp.Success)
	assert.Equal(t, types.ErrEngineBusy, resp.ErrorCode)

	close(gate)
	first := <-done
	assert.True(t, first.Success)
	assert.False(t, o.Busy(types.KindGeneration))
}

func TestHandleChat_ContextFailureFoldsIntoPrompt(t *testing.T) {
	var seenPrompt string
	eng := &stubEngine{kind: types.KindGeneration, generate: func(req engine.GenerateRequest) (*engine.Result, error) {
		seenPrompt = req.Prompt
		return &engine.Result{RawText: "answered blind"}, nil
	}}
	page := &stubPage{ctxErr: types.NewError(types.ErrSurfaceUnavailable, "no tab")}
	o := newTestOrchestrator(t, eng, page)

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "summarize my inbox"})
	require.True(t, resp.Success, "context failure must not abort the turn")
	assert.Contains(t, seenPrompt, "could not be read")
}

func TestHandleChat_SessionExpiredRecoversOnce(t *testing.T) {
	built := 0
	reg := engine.NewRegistry(nil)
	reg.Register(types.KindGeneration, func(types.EngineKind) (engine.Engine, error) {
		built++
		n := built
		return &stubEngine{kind: types.KindGeneration, generate: func(engine.GenerateRequest) (*engine.Result, error) {
			if n == 1 {
				return nil, types.NewError(types.ErrSessionExpired, "model unloaded")
			}
			return &engine.Result{RawText: "back online"}, nil
		}}, nil
	})
	o := New(reg, &stubPage{}, nil, nil, DefaultConfig(), nil)

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "hello"})
	require.True(t, resp.Success)
	assert.Equal(t, "back online", resp.Response)
	assert.Equal(t, "Reconnecting to the model...", resp.Notice)
	assert.Equal(t, 2, built)
}

func TestHandleChat_GenerationFailure(t *testing.T) {
	eng := &stubEngine{kind: types.KindGeneration, generate: func(engine.GenerateRequest) (*engine.Result, error) {
		return nil, types.NewError(types.ErrEngineNotReady, "still downloading")
	}}
	o := newTestOrchestrator(t, eng, &stubPage{})

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "hi"})
	assert.False(t, resp.Success)
	assert.Equal(t, types.ErrEngineNotReady, resp.ErrorCode)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleChat_PersistsTranscript(t *testing.T) {
	eng := &stubEngine{kind: types.KindGeneration, generate: func(engine.GenerateRequest) (*engine.Result, error) {
		return &engine.Result{RawText: "hello back"}, nil
	}}
	hist := &memHistory{}
	reg := engine.NewRegistry(nil)
	reg.Register(types.KindGeneration, func(types.EngineKind) (engine.Engine, error) { return eng, nil })
	o := New(reg, &stubPage{}, hist, nil, DefaultConfig(), nil)

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "hello", SessionID: "s1"})
	require.True(t, resp.Success)

	msgs, err := hist.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "hello back", msgs[1].Content)
}

func TestHandleChat_ActionFaultSurfacesInResult(t *testing.T) {
	eng := &stubEngine{kind: types.KindGeneration, generate: func(engine.GenerateRequest) (*engine.Result, error) {
		return &engine.Result{RawText: `{"action":"open_item","params":{"index":99}}`}, nil
	}}
	page := &stubPage{results: map[types.ActionName]types.ActionResult{
		types.ActionOpenItem: {Success: false, Error: "email 99 not found"},
	}}
	o := newTestOrchestrator(t, eng, page)

	resp := o.HandleChat(context.Background(), types.ChatRequest{UserMessage: "open it"})
	require.True(t, resp.Success, "a failed page action is still a successful turn")
	require.NotNil(t, resp.ActionResult)
	assert.False(t, resp.ActionResult.Success)
	assert.Equal(t, "email 99 not found", resp.ActionResult.Error)
}

func TestMapTimeout(t *testing.T) {
	o := newTestOrchestrator(t, &stubEngine{kind: types.KindGeneration}, &stubPage{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err := o.mapTimeout(ctx, context.DeadlineExceeded)
	assert.True(t, types.IsCode(err, types.ErrTimeout))

	// A typed timeout (e.g. from the offscreen proxy) passes through with
	// its own message intact.
	typed := types.NewError(types.ErrTimeout, "helper may keep working")
	assert.Same(t, typed, o.mapTimeout(ctx, typed).(*types.Error))

	plain := errors.New("boom")
	assert.Equal(t, plain, o.mapTimeout(context.Background(), plain))
}

func TestLoadEngine_RecordsMetric(t *testing.T) {
	eng := &stubEngine{kind: types.KindGeneration}
	reg := engine.NewRegistry(nil)
	reg.Register(types.KindGeneration, func(types.EngineKind) (engine.Engine, error) {
		return eng, nil
	})
	collector := metrics.NewCollector("orchloadtest", nil)
	o := New(reg, &stubPage{}, nil, collector, DefaultConfig(), nil)

	require.NoError(t, o.LoadEngine(context.Background(), types.KindGeneration, nil))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var loads float64
	for _, mf := range families {
		if mf.GetName() != "orchloadtest_engine_loads_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" {
					assert.Equal(t, "generation", l.GetValue())
				}
				if l.GetName() == "status" {
					assert.Equal(t, "success", l.GetValue())
				}
			}
			loads += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, loads)
}
