package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriber_CloseRemovesOnlyOwnSubscriptions(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}

	mine := NewSubscriber(b)
	theirs := NewSubscriber(b)

	_, err := mine.SubscribeFunc("t", rec.handler("mine-1"))
	require.NoError(t, err)
	_, err = mine.SubscribeFunc("u", rec.handler("mine-2"))
	require.NoError(t, err)
	_, err = theirs.SubscribeFunc("t", rec.handler("theirs"))
	require.NoError(t, err)

	require.NoError(t, mine.Close())
	require.NoError(t, mine.Close())

	assert.True(t, mine.IsClosed())
	assert.Equal(t, 0, mine.Count())
	assert.Equal(t, 1, theirs.Count())

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	require.NoError(t, b.PublishSync(context.Background(), "u", nil))
	assert.Equal(t, []string{"theirs"}, rec.get())

	_, err = mine.SubscribeFunc("t", rec.handler("late"))
	assert.ErrorIs(t, err, ErrSubscriberClosed)
}

func TestSubscriber_UnsubscribeRejectsForeignSubscription(t *testing.T) {
	b := newRunningBus(t)
	mine := NewSubscriber(b)
	theirs := NewSubscriber(b)

	foreign, err := theirs.SubscribeFunc("t", func(context.Context, Envelope) error { return nil })
	require.NoError(t, err)

	assert.ErrorIs(t, mine.Unsubscribe(foreign), ErrSubscriptionNotFound)
	assert.ErrorIs(t, mine.Unsubscribe(nil), ErrInvalidSubscription)
	assert.True(t, theirs.Owns(foreign))
	assert.False(t, mine.Owns(foreign))
	assert.True(t, b.HasSubscribers("t"))

	require.NoError(t, theirs.Unsubscribe(foreign))
	assert.False(t, b.HasSubscribers("t"))
	assert.Equal(t, 0, theirs.Count())
}

func TestSubscriber_SubscribeOnce(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}
	s := NewSubscriber(b)

	_, err := s.SubscribeOnce("t", rec.handler("once"))
	require.NoError(t, err)

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	require.NoError(t, b.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, []string{"once"}, rec.get())

	// The bus already dropped it; Close must not trip over that.
	require.NoError(t, s.Close())
}

func TestSubscriber_CountForgetsFiredOnce(t *testing.T) {
	b := newRunningBus(t)
	rec := &recorder{}
	s := NewSubscriber(b)

	once, err := s.SubscribeOnce("t", rec.handler("once"))
	require.NoError(t, err)
	_, err = s.SubscribeFunc("u", rec.handler("keep"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())
	assert.True(t, s.Owns(once))

	require.NoError(t, b.PublishSync(context.Background(), "t", nil))

	assert.True(t, once.IsCancelled())
	assert.Equal(t, 1, s.Count())
	assert.False(t, s.Owns(once))
	assert.ErrorIs(t, s.Unsubscribe(once), ErrSubscriptionNotFound)
}

func TestPublisher_StampsSource(t *testing.T) {
	b := newRunningBus(t)
	p := NewPublisher(b, "profiles")
	assert.Equal(t, "profiles", p.Source())
	assert.Equal(t, b, p.Bus())

	var source string
	_, _ = b.SubscribeFunc("t", func(ctx context.Context, env Envelope) error {
		source = env.Metadata.Source
		return nil
	})

	require.NoError(t, p.PublishSync(context.Background(), "t", nil))
	assert.Equal(t, "profiles", source)

	require.NoError(t, p.PublishSync(context.Background(), "t", nil, WithSource("override")))
	assert.Equal(t, "override", source)
}
