package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingHandler(mu *sync.Mutex, order *[]string, name string) Handler {
	return HandlerFunc(func(ctx context.Context, msg any) error {
		mu.Lock()
		defer mu.Unlock()
		*order = append(*order, name)
		return nil
	})
}

func TestExecutor_Success(t *testing.T) {
	e := NewExecutor()
	result := e.Execute(context.Background(), "msg", HandlerFunc(func(ctx context.Context, msg any) error {
		assert.Equal(t, "msg", msg)
		return nil
	}))

	assert.True(t, result.IsSuccess())
	assert.False(t, result.IsError())
	assert.False(t, result.IsPanic())
}

func TestExecutor_Error(t *testing.T) {
	boom := errors.New("boom")
	result := NewExecutor().Execute(context.Background(), nil, HandlerFunc(func(context.Context, any) error {
		return boom
	}))

	assert.False(t, result.IsSuccess())
	assert.True(t, result.IsError())
	assert.ErrorIs(t, result.Error, boom)
}

func TestExecutor_PanicRecovered(t *testing.T) {
	var reported atomic.Value
	e := NewExecutor(WithExecutorPanicHandler(func(msg any, v any, stack []byte) {
		reported.Store(v)
		// A panicking panic handler is contained too.
		panic("again")
	}))

	result := e.Execute(context.Background(), nil, HandlerFunc(func(context.Context, any) error {
		panic("kaboom")
	}))

	assert.True(t, result.IsPanic())
	assert.Equal(t, "kaboom", result.PanicValue)
	assert.NotEmpty(t, result.PanicStack)
	assert.Equal(t, "kaboom", reported.Load())
}

func TestExecutor_CancelledContextSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	result := NewExecutor().Execute(ctx, nil, HandlerFunc(func(context.Context, any) error {
		called = true
		return nil
	}))

	assert.False(t, called)
	assert.True(t, result.Skipped)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestExecutor_Timeout(t *testing.T) {
	result := NewExecutor().ExecuteWithTimeout(context.Background(), nil, HandlerFunc(func(ctx context.Context, _ any) error {
		<-ctx.Done()
		return ctx.Err()
	}), 10*time.Millisecond)

	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
}

func TestSyncDispatcher_DispatchUntilError(t *testing.T) {
	var mu sync.Mutex
	var order []string
	boom := errors.New("boom")

	handlers := []Handler{
		recordingHandler(&mu, &order, "a"),
		HandlerFunc(func(context.Context, any) error { return boom }),
		recordingHandler(&mu, &order, "c"),
	}

	d := NewSyncDispatcher()
	results := d.DispatchUntilError(context.Background(), nil, handlers)

	require.Len(t, results, 2)
	assert.True(t, results[0].IsSuccess())
	assert.ErrorIs(t, results[1].Error, boom)
	assert.Equal(t, []string{"a"}, order)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Dispatched)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestSyncDispatcher_WaitsForSlowHandler(t *testing.T) {
	var done atomic.Bool
	handlers := []Handler{
		HandlerFunc(func(context.Context, any) error { return nil }),
		HandlerFunc(func(context.Context, any) error {
			time.Sleep(20 * time.Millisecond)
			done.Store(true)
			return nil
		}),
	}

	results := NewSyncDispatcher().DispatchUntilError(context.Background(), nil, handlers)

	assert.Len(t, results, 2)
	assert.True(t, done.Load())
}

func TestSyncDispatcher_PanicStopsChain(t *testing.T) {
	var mu sync.Mutex
	var order []string
	handlers := []Handler{
		HandlerFunc(func(context.Context, any) error { panic("x") }),
		recordingHandler(&mu, &order, "b"),
	}

	d := NewSyncDispatcher()
	results := d.DispatchUntilError(context.Background(), nil, handlers)

	require.Len(t, results, 1)
	assert.True(t, results[0].IsPanic())
	assert.Empty(t, order)
	assert.Equal(t, uint64(1), d.Stats().Panicked)
}

func TestAsyncDispatcher_StartStop(t *testing.T) {
	d := NewAsyncDispatcher()
	require.NoError(t, d.Start())
	assert.True(t, d.IsRunning())
	assert.ErrorIs(t, d.Start(), ErrAlreadyRunning)

	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.IsRunning())
	assert.ErrorIs(t, d.Stop(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, d.Enqueue(context.Background(), nil, HandlerFunc(func(context.Context, any) error { return nil })), ErrNotRunning)
}

func TestAsyncDispatcher_RunsHandlersInOrder(t *testing.T) {
	d := NewAsyncDispatcher(WithWorkerCount(2))
	require.NoError(t, d.Start())

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(1)

	err := d.Enqueue(context.Background(), nil,
		recordingHandler(&mu, &order, "a"),
		recordingHandler(&mu, &order, "b"),
		HandlerFunc(func(context.Context, any) error {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			order = append(order, "c")
			return nil
		}),
	)
	require.NoError(t, err)

	wg.Wait()
	assert.Equal(t, []string{"a", "b", "c"}, order)
	require.NoError(t, d.Stop(context.Background()))
}

func TestAsyncDispatcher_IsolatesFailures(t *testing.T) {
	var reportedErr atomic.Value
	var panics atomic.Int32
	d := NewAsyncDispatcher(
		WithWorkerCount(1),
		WithAsyncErrorHandler(func(msg any, err error) { reportedErr.Store(err) }),
		WithAsyncPanicHandler(func(any, any, []byte) { panics.Add(1) }),
	)
	require.NoError(t, d.Start())

	boom := errors.New("boom")
	var reached atomic.Bool
	require.NoError(t, d.Enqueue(context.Background(), nil,
		HandlerFunc(func(context.Context, any) error { return boom }),
		HandlerFunc(func(context.Context, any) error { panic("p") }),
		HandlerFunc(func(context.Context, any) error { reached.Store(true); return nil }),
	))

	require.NoError(t, d.Stop(context.Background()))

	assert.True(t, reached.Load())
	assert.Equal(t, boom, reportedErr.Load())
	assert.Equal(t, int32(1), panics.Load())

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Panicked)
}

func TestAsyncDispatcher_DetachedFromCallerCancel(t *testing.T) {
	d := NewAsyncDispatcher(WithWorkerCount(1))
	require.NoError(t, d.Start())

	block := make(chan struct{})
	require.NoError(t, d.Enqueue(context.Background(), nil, HandlerFunc(func(context.Context, any) error {
		<-block
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	var delivered atomic.Bool
	require.NoError(t, d.Enqueue(ctx, nil, HandlerFunc(func(context.Context, any) error {
		delivered.Store(true)
		return nil
	})))
	cancel()
	close(block)

	require.NoError(t, d.Stop(context.Background()))
	assert.True(t, delivered.Load())
}

func TestAsyncDispatcher_QueueFull(t *testing.T) {
	d := NewAsyncDispatcher(WithWorkerCount(1), WithQueueSize(1))
	require.NoError(t, d.Start())

	block := make(chan struct{})
	started := make(chan struct{})
	h := HandlerFunc(func(context.Context, any) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	require.NoError(t, d.Enqueue(context.Background(), nil, h))
	<-started
	require.NoError(t, d.Enqueue(context.Background(), nil, h))
	assert.ErrorIs(t, d.Enqueue(context.Background(), nil, h), ErrQueueFull)
	assert.Equal(t, uint64(1), d.Stats().Dropped)

	close(block)
	require.NoError(t, d.Stop(context.Background()))
}
