package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/types"
)

// Factory constructs an engine for a kind. Called lazily, at most once per
// live handle; a discarded handle is rebuilt through the factory again.
type Factory func(kind types.EngineKind) (Engine, error)

// Registry maps engine kinds to lazily created singleton handles.
//
// Initialization is single-flight: concurrent callers of Acquire for the
// same kind share one underlying Load instead of racing duplicate
// multi-hundred-megabyte downloads. Generation is serialized per kind with
// a mutex; instance memoization alone does not order generate calls.
type Registry struct {
	factories map[types.EngineKind]Factory
	logger    *zap.Logger

	mu      sync.Mutex
	engines map[types.EngineKind]Engine

	loads map[types.EngineKind]*inflightLoad
	genMu map[types.EngineKind]*sync.Mutex
}

// inflightLoad is one in-progress engine load shared by every Acquire
// caller for that kind. The load runs on its own context, detached from
// any single caller: a caller that gives up abandons only its wait, and
// the download itself is canceled once the last waiter has left.
type inflightLoad struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[int]ProgressFunc
	nextID   int
	waiters  int
}

// join registers a waiter and its progress callback, returning the id to
// leave with.
func (fl *inflightLoad) join(onProgress ProgressFunc) int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	id := fl.nextID
	fl.nextID++
	fl.waiters++
	if onProgress != nil {
		fl.watchers[id] = onProgress
	}
	return id
}

// leave removes a waiter. When the last one goes the load is canceled;
// canceling a load that has already returned is a no-op.
func (fl *inflightLoad) leave(id int) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	delete(fl.watchers, id)
	fl.waiters--
	if fl.waiters == 0 {
		fl.cancel()
	}
}

// broadcast relays a progress event to every current waiter. Callbacks
// run under the lock so a waiter that has left is never invoked again;
// its response writer may already be gone.
func (fl *inflightLoad) broadcast(ev types.ProgressEvent) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for _, f := range fl.watchers {
		f(ev)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[types.EngineKind]Factory),
		engines:   make(map[types.EngineKind]Engine),
		loads:     make(map[types.EngineKind]*inflightLoad),
		genMu:     make(map[types.EngineKind]*sync.Mutex),
		logger:    logger.With(zap.String("component", "engine_registry")),
	}
}

// Register installs the factory for a kind, replacing any previous one.
// Does not touch an already created handle.
func (r *Registry) Register(kind types.EngineKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	if _, ok := r.genMu[kind]; !ok {
		r.genMu[kind] = &sync.Mutex{}
	}
}

// Acquire returns a ready engine handle for the kind, loading it if needed.
// Concurrent callers block on the same pending initialization and all
// receive the same handle. Handles in the error or expired state are
// discarded and rebuilt.
func (r *Registry) Acquire(ctx context.Context, kind types.EngineKind, onProgress ProgressFunc) (Engine, error) {
	eng, err := r.handle(kind)
	if err != nil {
		return nil, err
	}

	switch eng.Status() {
	case types.StateReady:
		return eng, nil
	case types.StateExpired, types.StateError:
		// A dead handle is never reused; rebuild before loading.
		r.Invalidate(kind)
		if eng, err = r.handle(kind); err != nil {
			return nil, err
		}
	}

	fl, id := r.joinLoad(kind, eng, onProgress)
	if fl == nil {
		// Finished between the status check and the join.
		return eng, nil
	}

	select {
	case <-fl.done:
		fl.leave(id)
		if fl.err != nil {
			return nil, fl.err
		}
		return eng, nil
	case <-ctx.Done():
		// Abandons only this caller's wait; the shared load keeps going
		// as long as anyone else is still waiting on it.
		fl.leave(id)
		return nil, ctx.Err()
	}
}

// joinLoad attaches the caller to the in-flight load for kind, starting
// one when none is running, or returns nil when the engine is already
// ready. The load runs detached from the callers so one disconnecting
// client cannot abort a download other callers are still waiting for.
func (r *Registry) joinLoad(kind types.EngineKind, eng Engine, onProgress ProgressFunc) (*inflightLoad, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fl, ok := r.loads[kind]; ok {
		return fl, fl.join(onProgress)
	}
	if eng.Status() == types.StateReady {
		return nil, 0
	}

	loadCtx, cancel := context.WithCancel(context.Background())
	fl := &inflightLoad{
		done:     make(chan struct{}),
		cancel:   cancel,
		watchers: make(map[int]ProgressFunc),
	}
	id := fl.join(onProgress)
	r.loads[kind] = fl

	go func() {
		r.logger.Info("loading engine", zap.String("kind", string(kind)))
		err := eng.Load(loadCtx, fl.broadcast)
		cancel()

		r.mu.Lock()
		delete(r.loads, kind)
		r.mu.Unlock()

		fl.err = err
		close(fl.done)
	}()
	return fl, id
}

// handle returns the memoized engine for kind, constructing it on first use.
func (r *Registry) handle(kind types.EngineKind) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eng, ok := r.engines[kind]; ok {
		return eng, nil
	}
	f, ok := r.factories[kind]
	if !ok {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("no engine registered for kind %q", kind))
	}
	eng, err := f(kind)
	if err != nil {
		return nil, err
	}
	r.engines[kind] = eng
	return eng, nil
}

// Invalidate discards the handle for kind. The next Acquire rebuilds and
// reloads it. Used after a session-invalidity signal.
func (r *Registry) Invalidate(kind types.EngineKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[kind]; ok {
		r.logger.Warn("discarding engine handle", zap.String("kind", string(kind)))
		delete(r.engines, kind)
	}
}

// Status reports the session state without triggering a load.
func (r *Registry) Status(kind types.EngineKind) types.EngineState {
	r.mu.Lock()
	eng, ok := r.engines[kind]
	r.mu.Unlock()
	if !ok {
		return types.StateUninitialized
	}
	return eng.Status()
}

// Session reports the session snapshot without triggering a load.
func (r *Registry) Session(kind types.EngineKind) types.EngineSession {
	r.mu.Lock()
	eng, ok := r.engines[kind]
	r.mu.Unlock()
	if !ok {
		return types.EngineSession{Kind: kind, State: types.StateUninitialized}
	}
	return eng.Session()
}

// Generate acquires the engine and runs a serialized non-streaming
// generation. Session-expiry errors pass through untouched so the caller
// can discard the handle and retry once.
func (r *Registry) Generate(ctx context.Context, kind types.EngineKind, req GenerateRequest, opts GenerateOptions) (*Result, error) {
	eng, err := r.Acquire(ctx, kind, nil)
	if err != nil {
		return nil, err
	}

	mu := r.generationMutex(kind)
	mu.Lock()
	defer mu.Unlock()
	return eng.Generate(ctx, req, opts)
}

// GenerateStream acquires the engine and runs a serialized streaming
// generation. The generation mutex is held until the stream terminates.
func (r *Registry) GenerateStream(ctx context.Context, kind types.EngineKind, req GenerateRequest, opts GenerateOptions) (<-chan Chunk, error) {
	eng, err := r.Acquire(ctx, kind, nil)
	if err != nil {
		return nil, err
	}

	mu := r.generationMutex(kind)
	mu.Lock()
	inner, err := eng.GenerateStream(ctx, req, opts)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer mu.Unlock()
		defer close(out)
		for c := range inner {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *Registry) generationMutex(kind types.EngineKind) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.genMu[kind]
	if !ok {
		mu = &sync.Mutex{}
		r.genMu[kind] = mu
	}
	return mu
}
