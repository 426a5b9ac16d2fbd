package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenCmd_ReceivesEvent(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)
	broker.Publish(LogEntryEvent, "hello world")

	msg := ListenCmd(ctx, ch)()

	event, ok := msg.(Event[string])
	require.True(t, ok, "msg should be Event[string]")
	require.Equal(t, "hello world", event.Payload)
	require.Equal(t, LogEntryEvent, event.Type)
}

func TestListenCmd_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan Event[string])
	require.Nil(t, ListenCmd(ctx, ch)(), "should return nil when context cancelled")
}

func TestListenCmd_ChannelClosed(t *testing.T) {
	ch := make(chan Event[string])
	close(ch)

	require.Nil(t, ListenCmd(context.Background(), ch)(), "should return nil when channel closed")
}

func TestContinuousListener_Listen(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewContinuousListener[int](ctx, broker)

	broker.Publish(ChangedEvent, 1)
	broker.Publish(ForwardedEvent, 2)

	event, ok := listener.Listen()().(Event[int])
	require.True(t, ok)
	require.Equal(t, 1, event.Payload)
	require.Equal(t, ChangedEvent, event.Type)

	event, ok = listener.Listen()().(Event[int])
	require.True(t, ok)
	require.Equal(t, 2, event.Payload)
	require.Equal(t, ForwardedEvent, event.Type)
}

func TestContinuousListener_NilIsSafe(t *testing.T) {
	var listener *ContinuousListener[int]
	require.Nil(t, listener.Listen())
}
