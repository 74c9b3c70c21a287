package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	received := make(chan *Event, 1)
	_, err := b.Subscribe(SubjectInboundMessage, func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	event := NewEvent("message", "listener", map[string]any{"content": "hi"})
	require.NoError(t, b.Publish(context.Background(), SubjectInboundMessage, event))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, "hi", got.Data["content"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryBusWildcards(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	star := make(chan string, 2)
	_, err := b.Subscribe("zulip.events.*", func(ctx context.Context, e *Event) error {
		star <- e.Type
		return nil
	})
	require.NoError(t, err)

	rest := make(chan string, 2)
	_, err = b.Subscribe("zulip.>", func(ctx context.Context, e *Event) error {
		rest <- e.Type
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "zulip.events.message", NewEvent("m", "t", nil)))

	for _, ch := range []chan string{star, rest} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("wildcard subscription missed event")
		}
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	received := make(chan *Event, 1)
	sub, err := b.Subscribe("subject", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, b.Publish(context.Background(), "subject", NewEvent("m", "t", nil)))
	select {
	case <-received:
		t.Fatal("unsubscribed handler still invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusClosedPublish(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	b.Close()
	err := b.Publish(context.Background(), "subject", NewEvent("m", "t", nil))
	assert.Error(t, err)
}
