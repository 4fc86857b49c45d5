package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/types"
)

// fakeEngine counts loads and detects interleaved generations. When gate is
// set, Load blocks until the gate closes, letting tests pile up concurrent
// callers behind one pending initialization.
type fakeEngine struct {
	kind    types.EngineKind
	gate    chan struct{}
	loadErr error

	mu       sync.Mutex
	state    types.EngineState
	loads    atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func newFakeEngine(kind types.EngineKind) *fakeEngine {
	return &fakeEngine{kind: kind, state: types.StateUninitialized}
}

func (f *fakeEngine) Kind() types.EngineKind { return f.kind }

func (f *fakeEngine) Status() types.EngineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Session() types.EngineSession {
	return types.EngineSession{Kind: f.kind, State: f.Status()}
}

func (f *fakeEngine) setState(s types.EngineState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeEngine) Load(ctx context.Context, onProgress ProgressFunc) error {
	f.loads.Add(1)
	f.setState(types.StateLoading)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			f.setState(types.StateError)
			return ctx.Err()
		}
	}
	if f.loadErr != nil {
		f.setState(types.StateError)
		return f.loadErr
	}
	if onProgress != nil {
		onProgress(types.ProgressEvent{Status: types.ProgressDone})
	}
	f.setState(types.StateReady)
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, req GenerateRequest, opts GenerateOptions) (*Result, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	time.Sleep(5 * time.Millisecond)
	return &Result{RawText: "ok: " + req.Prompt}, nil
}

func (f *fakeEngine) GenerateStream(ctx context.Context, req GenerateRequest, opts GenerateOptions) (<-chan Chunk, error) {
	ch := make(chan Chunk, 2)
	ch <- Chunk{Delta: "ok"}
	ch <- Chunk{Done: true}
	close(ch)
	return ch, nil
}

func TestRegistry_SingleFlightLoad(t *testing.T) {
	fake := newFakeEngine(types.KindGeneration)
	fake.gate = make(chan struct{})

	r := NewRegistry(zap.NewNop())
	r.Register(types.KindGeneration, func(types.EngineKind) (Engine, error) {
		return fake, nil
	})

	const callers = 16
	var wg sync.WaitGroup
	handles := make([]Engine, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = r.Acquire(context.Background(), types.KindGeneration, nil)
		}(i)
	}
	// Let every caller reach the pending initialization, then release it.
	time.Sleep(50 * time.Millisecond)
	close(fake.gate)
	wg.Wait()

	// Exactly one underlying load; every caller got the same ready handle.
	assert.Equal(t, int32(1), fake.loads.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	assert.Equal(t, types.StateReady, r.Status(types.KindGeneration))
}

func TestRegistry_LoadSurvivesInitiatorCancel(t *testing.T) {
	fake := newFakeEngine(types.KindGeneration)
	fake.gate = make(chan struct{})

	r := NewRegistry(zap.NewNop())
	r.Register(types.KindGeneration, func(types.EngineKind) (Engine, error) {
		return fake, nil
	})

	// Caller A starts the load and will give up mid-download.
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	aErr := make(chan error, 1)
	go func() {
		_, err := r.Acquire(ctxA, types.KindGeneration, nil)
		aErr <- err
	}()
	require.Eventually(t, func() bool { return fake.loads.Load() == 1 },
		time.Second, time.Millisecond)

	// Caller B joins the same pending load.
	bRes := make(chan error, 1)
	go func() {
		eng, err := r.Acquire(context.Background(), types.KindGeneration, nil)
		if err == nil && eng.Status() != types.StateReady {
			err = types.NewError(types.ErrInternalError, "handle not ready")
		}
		bRes <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-aErr, context.Canceled)

	// A's departure must not abort the download B is still waiting for.
	close(fake.gate)
	require.NoError(t, <-bRes)
	assert.Equal(t, int32(1), fake.loads.Load())
	assert.Equal(t, types.StateReady, r.Status(types.KindGeneration))
}

func TestRegistry_LoadCanceledWhenLastWaiterLeaves(t *testing.T) {
	fake := newFakeEngine(types.KindGeneration)
	fake.gate = make(chan struct{})

	r := NewRegistry(zap.NewNop())
	r.Register(types.KindGeneration, func(types.EngineKind) (Engine, error) {
		return fake, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Acquire(ctx, types.KindGeneration, nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return fake.loads.Load() == 1 },
		time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// With nobody left waiting, the download itself is aborted instead of
	// running on unobserved.
	require.Eventually(t, func() bool { return fake.Status() == types.StateError },
		time.Second, time.Millisecond)
}

func TestRegistry_ProgressFansOutToAllWaiters(t *testing.T) {
	fake := newFakeEngine(types.KindGeneration)
	fake.gate = make(chan struct{})

	r := NewRegistry(zap.NewNop())
	r.Register(types.KindGeneration, func(types.EngineKind) (Engine, error) {
		return fake, nil
	})

	var aSeen, bSeen atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Acquire(context.Background(), types.KindGeneration,
			func(types.ProgressEvent) { aSeen.Add(1) })
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return fake.loads.Load() == 1 },
		time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Acquire(context.Background(), types.KindGeneration,
			func(types.ProgressEvent) { bSeen.Add(1) })
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)

	close(fake.gate)
	wg.Wait()

	// Both waiters observed progress, not only the one that started the
	// load.
	assert.GreaterOrEqual(t, aSeen.Load(), int32(1))
	assert.GreaterOrEqual(t, bSeen.Load(), int32(1))
}

func TestRegistry_AcquireUnknownKind(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	_, err := r.Acquire(context.Background(), types.KindOCR, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestRegistry_GenerationsSerialized(t *testing.T) {
	fake := newFakeEngine(types.KindGeneration)
	r := NewRegistry(zap.NewNop())
	r.Register(types.KindGeneration, func(types.EngineKind) (Engine, error) {
		return fake, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Generate(context.Background(), types.KindGeneration, GenerateRequest{Prompt: "x"}, GenerateOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, fake.overlap.Load(), "concurrent generations interleaved on one engine")
}

func TestRegistry_InvalidateRebuildsHandle(t *testing.T) {
	var built atomic.Int32
	r := NewRegistry(zap.NewNop())
	r.Register(types.KindGeneration, func(types.EngineKind) (Engine, error) {
		built.Add(1)
		return newFakeEngine(types.KindGeneration), nil
	})

	first, err := r.Acquire(context.Background(), types.KindGeneration, nil)
	require.NoError(t, err)

	r.Invalidate(types.KindGeneration)
	assert.Equal(t, types.StateUninitialized, r.Status(types.KindGeneration))

	second, err := r.Acquire(context.Background(), types.KindGeneration, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), built.Load())
}

func TestRegistry_ExpiredHandleDiscardedOnAcquire(t *testing.T) {
	var built atomic.Int32
	r := NewRegistry(zap.NewNop())
	r.Register(types.KindGeneration, func(types.EngineKind) (Engine, error) {
		built.Add(1)
		return newFakeEngine(types.KindGeneration), nil
	})

	first, err := r.Acquire(context.Background(), types.KindGeneration, nil)
	require.NoError(t, err)
	first.(*fakeEngine).setState(types.StateExpired)

	second, err := r.Acquire(context.Background(), types.KindGeneration, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, types.StateReady, second.Status())
	assert.Equal(t, int32(2), built.Load())
}

func TestRegistry_LoadErrorPropagatesToAllWaiters(t *testing.T) {
	fake := newFakeEngine(types.KindClassification)
	fake.gate = make(chan struct{})
	fake.loadErr = types.NewError(types.ErrEngineUnavailable, "no compatible device")

	r := NewRegistry(zap.NewNop())
	r.Register(types.KindClassification, func(types.EngineKind) (Engine, error) {
		return fake, nil
	})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Acquire(context.Background(), types.KindClassification, nil)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(fake.gate)
	wg.Wait()

	assert.Equal(t, int32(1), fake.loads.Load())
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrEngineUnavailable))
	}
}

func TestRegistry_StatusWithoutLoad(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register(types.KindOCR, func(types.EngineKind) (Engine, error) {
		return newFakeEngine(types.KindOCR), nil
	})

	// Status never triggers a lazy load.
	assert.Equal(t, types.StateUninitialized, r.Status(types.KindOCR))
	sess := r.Session(types.KindOCR)
	assert.Equal(t, types.KindOCR, sess.Kind)
	assert.Equal(t, types.StateUninitialized, sess.State)
}
