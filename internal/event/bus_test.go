package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/keyweave/internal/event/topic"
)

func newRunningBus(t *testing.T, opts ...BusOption) Bus {
	t.Helper()
	b := NewBus(opts...)
	require.NoError(t, b.Start())
	t.Cleanup(func() {
		if b.IsRunning() {
			_ = b.Stop(context.Background())
		}
	})
	return b
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) HandlerFunc {
	return func(ctx context.Context, env Envelope) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return nil
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestBus_StartStop(t *testing.T) {
	b := NewBus()

	require.NoError(t, b.Start())
	assert.True(t, b.IsRunning())
	assert.ErrorIs(t, b.Start(), ErrBusAlreadyRunning)

	require.NoError(t, b.Stop(context.Background()))
	assert.False(t, b.IsRunning())
	assert.ErrorIs(t, b.Stop(context.Background()), ErrBusNotRunning)

	assert.ErrorIs(t, b.PublishSync(context.Background(), "a", nil), ErrBusNotRunning)
}

func TestBus_SubscribeValidation(t *testing.T) {
	b := newRunningBus(t)

	_, err := b.Subscribe("a", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	_, err = b.SubscribeFunc("a", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	_, err = b.SubscribeFunc("", func(context.Context, Envelope) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidTopic)

	assert.ErrorIs(t, b.Unsubscribe(nil), ErrInvalidSubscription)
	assert.ErrorIs(t, b.PublishSync(context.Background(), "a.*", nil), ErrWildcardPublish)
	assert.ErrorIs(t, b.PublishSync(context.Background(), "a..b", nil), ErrInvalidTopic)
}

func TestBus_SubscribeNeverInvokesHandler(t *testing.T) {
	b := newRunningBus(t)

	var calls atomic.Int32
	_, err := b.SubscribeFunc("profile.switched", func(context.Context, Envelope) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int32(0), calls.Load())
}

func TestBus_UnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	subA, err := b.SubscribeFunc("t", rec.handler("a"))
	require.NoError(t, err)
	_, err = b.SubscribeFunc("t", rec.handler("b"))
	require.NoError(t, err)
	before := b.SubscriberCount("t")

	subC, err := b.SubscribeFunc("t", rec.handler("c"))
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(subC))

	assert.Equal(t, before, b.SubscriberCount("t"))
	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"a", "b"}, rec.get())

	require.NoError(t, b.Unsubscribe(subA))
	assert.ErrorIs(t, b.Unsubscribe(subA), ErrSubscriptionNotFound)
	assert.Equal(t, SubscriptionStateCancelled, subA.State())
	assert.Equal(t, 1, b.SubscriberCount("t"))
}

func TestBus_DuplicateSubscriptionDeliversTwice(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}
	h := rec.handler("h")

	_, err := b.SubscribeFunc("t", h)
	require.NoError(t, err)
	_, err = b.SubscribeFunc("t", h)
	require.NoError(t, err)

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"h", "h"}, rec.get())
}

func TestBus_PublishSync_SubscriptionOrder(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	for _, name := range []string{"first", "second", "third"} {
		_, err := b.SubscribeFunc("t", rec.handler(name))
		require.NoError(t, err)
	}
	_, err := b.SubscribeFunc("*", rec.handler("wildcard"))
	require.NoError(t, err)

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"first", "second", "third", "wildcard"}, rec.get())
}

func TestBus_PublishSync_PriorityBeforeOrder(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	_, _ = b.SubscribeFunc("t", rec.handler("low"), WithPriority(PriorityLow))
	_, _ = b.SubscribeFunc("t", rec.handler("normal-1"))
	_, _ = b.SubscribeFunc("t", rec.handler("critical"), WithPriority(PriorityCritical))
	_, _ = b.SubscribeFunc("t", rec.handler("normal-2"))

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"critical", "normal-1", "normal-2", "low"}, rec.get())
}

func TestBus_PublishSync_BarrierWaitsForSlowHandler(t *testing.T) {
	b := newRunningBus(t)

	var mu sync.Mutex
	state := map[string]string{}

	_, _ = b.SubscribeFunc("t", func(context.Context, Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		state["a"] = "done"
		return nil
	})
	_, _ = b.SubscribeFunc("t", func(ctx context.Context, env Envelope) error {
		// Hand the work to another goroutine and wait on it.
		done := make(chan struct{})
		go func() {
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			state["b"] = env.Payload.(string)
			mu.Unlock()
			close(done)
		}()
		<-done
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "t", "written", Synchronous()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "done", state["a"])
	assert.Equal(t, "written", state["b"])
}

func TestBus_PublishSync_ErrorAbortsRemaining(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}
	boom := errors.New("boom")

	_, _ = b.SubscribeFunc("t", rec.handler("a"))
	failing, _ := b.SubscribeFunc("t", func(context.Context, Envelope) error { return boom })
	_, _ = b.SubscribeFunc("t", rec.handler("c"))

	err := b.PublishSync(context.Background(), "t", nil)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, failing.ID(), herr.SubscriptionID)
	assert.Equal(t, "t", herr.Topic)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, rec.get())
}

func TestBus_PublishSync_PanicPropagates(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	_, _ = b.SubscribeFunc("t", func(context.Context, Envelope) error { panic("kaboom") })
	_, _ = b.SubscribeFunc("t", rec.handler("after"))

	err := b.PublishSync(context.Background(), "t", nil)

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "kaboom", perr.Value)
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Empty(t, rec.get())
	assert.Equal(t, uint64(1), b.Stats().HandlerPanics)
}

func TestBus_PublishSync_NestedPublishIsDepthFirst(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	_, _ = b.SubscribeFunc("outer", func(ctx context.Context, env Envelope) error {
		rec.handler("outer-1")(ctx, env)
		return b.PublishSync(ctx, "inner", nil)
	})
	_, _ = b.SubscribeFunc("outer", rec.handler("outer-2"))
	_, _ = b.SubscribeFunc("inner", rec.handler("inner"))

	require.NoError(t, b.PublishSync(context.Background(), "outer", nil))
	assert.Equal(t, []string{"outer-1", "inner", "outer-2"}, rec.get())
}

func TestBus_UnsubscribeDuringDispatch(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	var later Subscription
	var self Subscription
	self, _ = b.SubscribeFunc("t", func(ctx context.Context, env Envelope) error {
		rec.handler("self")(ctx, env)
		require.NoError(t, b.Unsubscribe(self))
		return b.Unsubscribe(later)
	})
	later, _ = b.SubscribeFunc("t", rec.handler("later"))
	_, _ = b.SubscribeFunc("t", rec.handler("kept"))

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"self", "kept"}, rec.get())

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"self", "kept", "kept"}, rec.get())
}

func TestBus_ExactSkipsWildcards(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	_, _ = b.SubscribeFunc("**", rec.handler("all"))
	_, _ = b.SubscribeFunc("rpc.*.x", rec.handler("single"))
	_, _ = b.SubscribeFunc("rpc.call.x", rec.handler("exact"))

	assert.Equal(t, 3, b.SubscriberCount("rpc.call.x"))
	assert.Equal(t, 1, b.ExactSubscriberCount("rpc.call.x"))
	assert.Equal(t, 0, b.ExactSubscriberCount("rpc.call.y"))

	var n int
	require.NoError(t, b.PublishSync(context.Background(), "rpc.call.x", nil, Exact(), Delivered(&n)))
	assert.Equal(t, []string{"exact"}, rec.get())
	assert.Equal(t, 1, n)

	n = -1
	require.NoError(t, b.PublishSync(context.Background(), "rpc.call.y", nil, Exact(), Delivered(&n)))
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"exact"}, rec.get())
}

func TestBus_DeliveredSkipsRemovedHandlers(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	var later Subscription
	_, _ = b.SubscribeFunc("t", func(ctx context.Context, env Envelope) error {
		return b.Unsubscribe(later)
	})
	later, _ = b.SubscribeFunc("t", rec.handler("later"))
	_, _ = b.SubscribeFunc("t", rec.handler("kept"))

	var n int
	require.NoError(t, b.PublishSync(context.Background(), "t", nil, Delivered(&n)))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"kept"}, rec.get())
}

func TestBus_DeliveredAsync(t *testing.T) {
	b := newRunningBus(t)
	var wg sync.WaitGroup
	wg.Add(2)
	for range 2 {
		_, _ = b.SubscribeFunc("t", func(ctx context.Context, env Envelope) error {
			wg.Done()
			return nil
		})
	}

	var n int
	require.NoError(t, b.Publish(context.Background(), "t", nil, Delivered(&n)))
	assert.Equal(t, 2, n)
	wg.Wait()
}

func TestBus_Publish_AsyncDeliversInOrder(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}
	var wg sync.WaitGroup
	wg.Add(1)

	_, _ = b.SubscribeFunc("t", rec.handler("a"))
	_, _ = b.SubscribeFunc("t", rec.handler("b"))
	_, _ = b.SubscribeFunc("t", func(ctx context.Context, env Envelope) error {
		defer wg.Done()
		return rec.handler("c")(ctx, env)
	})

	require.NoError(t, b.Publish(context.Background(), "t", nil))
	wg.Wait()
	assert.Equal(t, []string{"a", "b", "c"}, rec.get())
}

func TestBus_Publish_AsyncIsolatesFailures(t *testing.T) {
	var reported []error
	var mu sync.Mutex
	b := newRunningBus(t, WithErrorHandler(func(env Envelope, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	}))

	boom := errors.New("boom")
	delivered := make(chan struct{})
	_, _ = b.SubscribeFunc("t", func(context.Context, Envelope) error { return boom })
	_, _ = b.SubscribeFunc("t", func(context.Context, Envelope) error { panic("p") })
	_, _ = b.SubscribeFunc("t", func(context.Context, Envelope) error {
		close(delivered)
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "t", nil))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("third handler was not reached")
	}
	require.NoError(t, b.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[0], boom)
	assert.ErrorIs(t, reported[1], ErrHandlerPanic)
}

func TestBus_Publish_DoesNotBlockOnSlowHandler(t *testing.T) {
	b := newRunningBus(t)
	release := make(chan struct{})
	defer close(release)

	_, _ = b.SubscribeFunc("t", func(context.Context, Envelope) error {
		<-release
		return nil
	})

	start := time.Now()
	require.NoError(t, b.Publish(context.Background(), "t", nil))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestBus_Once(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	_, err := b.SubscribeFunc("t", rec.handler("once"), WithOnce())
	require.NoError(t, err)

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	require.NoError(t, b.PublishSync(context.Background(), "t", nil))

	assert.Equal(t, []string{"once"}, rec.get())
	assert.False(t, b.HasSubscribers("t"))
}

func TestBus_Filter(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	_, _ = b.SubscribeFunc("t", rec.handler("alias-only"), WithFilter(func(env Envelope) bool {
		return env.Payload == "alias"
	}))

	require.NoError(t, b.PublishSync(context.Background(), "t", "space"))
	require.NoError(t, b.PublishSync(context.Background(), "t", "alias"))
	assert.Equal(t, []string{"alias-only"}, rec.get())
}

func TestBus_PauseResume(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}
	_, _ = b.SubscribeFunc("t", rec.handler("h"))

	b.Pause()
	assert.True(t, b.IsPaused())
	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Empty(t, rec.get())

	b.Resume()
	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"h"}, rec.get())
}

func TestBus_SubscriptionPause(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}
	sub, _ := b.SubscribeFunc("t", rec.handler("h"))

	sub.Pause()
	assert.False(t, b.HasSubscribers("t"))
	require.NoError(t, b.PublishSync(context.Background(), "t", nil))

	sub.Resume()
	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"h"}, rec.get())
}

func TestBus_EnvelopeMetadata(t *testing.T) {
	b := newRunningBus(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = time.Now }()

	var got Envelope
	_, _ = b.SubscribeFunc("profile.*", func(ctx context.Context, env Envelope) error {
		got = env
		return nil
	})

	require.NoError(t, b.PublishSync(context.Background(), "profile.switched", 42,
		WithSource("profiles"), WithCorrelationID("corr-1")))

	assert.Equal(t, topic.Topic("profile.switched"), got.Topic)
	assert.Equal(t, 42, got.Payload)
	assert.Equal(t, "profiles", got.Metadata.Source)
	assert.Equal(t, "corr-1", got.Metadata.CorrelationID)
	assert.Equal(t, fixed, got.Metadata.Timestamp)
	assert.NotEmpty(t, got.Metadata.ID)
}

func TestBus_Stats(t *testing.T) {
	b := newRunningBus(t)
	_, _ = b.SubscribeFunc("t", func(context.Context, Envelope) error { return nil })
	_, _ = b.SubscribeFunc("u", func(context.Context, Envelope) error { return errors.New("x") })

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	require.Error(t, b.PublishSync(context.Background(), "u", nil))
	require.NoError(t, b.PublishSync(context.Background(), "nobody", nil))

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.MessagesPublished)
	assert.Equal(t, uint64(2), stats.HandlersExecuted)
	assert.Equal(t, uint64(1), stats.HandlersSucceeded)
	assert.Equal(t, uint64(1), stats.HandlerErrors)
	assert.Equal(t, 2, stats.ActiveSubscriptions)
}
