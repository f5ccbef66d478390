package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishContinuesPastPanic(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	var calls []string
	_, err := b.Subscribe("test.topic", func(context.Context, Event) error {
		calls = append(calls, "first")
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe("test.topic", func(context.Context, Event) error {
		calls = append(calls, "second")
		panic("subscriber exploded")
	})
	require.NoError(t, err)
	_, err = b.Subscribe("test.topic", func(context.Context, Event) error {
		calls = append(calls, "third")
		return nil
	})
	require.NoError(t, err)

	err = b.Publish(ctx, "test.topic", nil)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.ErrorIs(t, err, ErrHandlerPanic)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, uint64(2), herr.SubscriptionID)
}

func TestPublishOrderAndPayload(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	b := NewBus(WithClock(func() time.Time { return fixed }))

	var got []Event
	for i := 0; i < 3; i++ {
		_, err := b.Subscribe("plugin.*", func(_ context.Context, ev Event) error {
			got = append(got, ev)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), TopicPluginInstalled, "com.example.app"))
	require.Len(t, got, 3)
	for _, ev := range got {
		assert.Equal(t, TopicPluginInstalled, ev.Topic)
		assert.Equal(t, "com.example.app", ev.Payload)
		assert.Equal(t, fixed, ev.Time)
	}
}

func TestPublishJoinsErrors(t *testing.T) {
	b := NewBus()
	errA := errors.New("a failed")

	calls := 0
	_, _ = b.Subscribe("x", func(context.Context, Event) error { calls++; return errA })
	_, _ = b.Subscribe("x", func(context.Context, Event) error { calls++; return nil })

	err := b.Publish(context.Background(), "x", nil)
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 2, calls)
}

func TestPublishNoMatch(t *testing.T) {
	b := NewBus()
	called := false
	_, _ = b.Subscribe("plugin.*", func(context.Context, Event) error { called = true; return nil })

	require.NoError(t, b.Publish(context.Background(), TopicBootCompleted, nil))
	assert.False(t, called)
}

func TestPublishRejectsPatterns(t *testing.T) {
	b := NewBus()
	assert.ErrorIs(t, b.Publish(context.Background(), "plugin.*", nil), ErrInvalidTopic)
	assert.ErrorIs(t, b.Publish(context.Background(), "", nil), ErrInvalidTopic)
}

func TestSubscribeValidation(t *testing.T) {
	b := NewBus()
	_, err := b.Subscribe("", func(context.Context, Event) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidTopic)

	_, err = b.Subscribe("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestCancel(t *testing.T) {
	b := NewBus()
	calls := 0
	sub, err := b.Subscribe("x", func(context.Context, Event) error { calls++; return nil })
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "x", nil))
	sub.Cancel()
	sub.Cancel()
	require.NoError(t, b.Publish(context.Background(), "x", nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Len())
}

func TestSubscribeOnce(t *testing.T) {
	b := NewBus()
	calls := 0
	_, err := b.SubscribeOnce("x", func(context.Context, Event) error { calls++; return nil })
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "x", nil))
	require.NoError(t, b.Publish(context.Background(), "x", nil))
	assert.Equal(t, 1, calls)
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	b := NewBus()
	_, err := b.Subscribe("x", func(context.Context, Event) error {
		_, err := b.Subscribe("y", func(context.Context, Event) error { return nil })
		return err
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, b.Publish(context.Background(), "x", nil))
	})
	assert.Equal(t, 2, b.Len())
}
