package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type environmentChanged struct {
	Environment string
}

var testEnvironmentChanged = NewKey[environmentChanged]("environment.changed")

func TestKey_EmitAndOn(t *testing.T) {
	b := newRunningBus(t)
	sub := NewSubscriber(b)
	pub := NewPublisher(b, "test")

	var got string
	_, err := On(sub, testEnvironmentChanged, func(ctx context.Context, p environmentChanged) error {
		got = p.Environment
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, EmitSync(context.Background(), pub, testEnvironmentChanged, environmentChanged{Environment: "alias"}))
	assert.Equal(t, "alias", got)
	assert.Equal(t, "environment.changed", testEnvironmentChanged.String())
}

func TestKey_WrongPayloadType(t *testing.T) {
	b := newRunningBus(t)
	sub := NewSubscriber(b)

	_, err := On(sub, testEnvironmentChanged, func(context.Context, environmentChanged) error { return nil })
	require.NoError(t, err)

	err = b.PublishSync(context.Background(), testEnvironmentChanged.Topic(), "not a struct")
	assert.ErrorIs(t, err, ErrPayloadType)
}

func TestKey_OnNilHandler(t *testing.T) {
	b := newRunningBus(t)
	_, err := On[environmentChanged](NewSubscriber(b), testEnvironmentChanged, nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
