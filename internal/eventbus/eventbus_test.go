package eventbus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPublish_InvokesHandlersInSubscriptionOrder(t *testing.T) {
	b := New()
	var calls []string

	b.Subscribe("e", func(any) { calls = append(calls, "a") })
	b.Subscribe("e", func(any) { calls = append(calls, "b") })
	b.Subscribe("e", func(any) { calls = append(calls, "c") })
	b.Subscribe("other", func(any) { calls = append(calls, "other") })

	n := b.Publish("e", nil)

	require.Equal(t, 3, n)
	require.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestPublish_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := New()
	var calls []string

	b.Subscribe("e", func(any) { calls = append(calls, "first") })
	b.Subscribe("e", func(any) { panic("handler exploded") })
	b.Subscribe("e", func(any) { calls = append(calls, "third") })

	var delivered int
	require.NotPanics(t, func() { delivered = b.Publish("e", "payload") })

	require.Equal(t, []string{"first", "third"}, calls)
	require.Equal(t, 2, delivered)
}

func TestPublish_PassesPayloadByReference(t *testing.T) {
	b := New()
	payload := &struct{ N int }{N: 1}

	var got any
	b.Subscribe("e", func(p any) { got = p })
	b.Publish("e", payload)

	require.Same(t, payload, got)
}

func TestPublish_NotReplayedToLateSubscribers(t *testing.T) {
	b := New()
	b.Publish("e", "early")

	fired := false
	b.Subscribe("e", func(any) { fired = true })

	require.False(t, fired)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	b := New()
	count := 0
	keep := b.Subscribe("e", func(any) { count += 10 })
	sub := b.Subscribe("e", func(any) { count++ })

	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Unsubscribe(sub)

	b.Publish("e", nil)

	require.Equal(t, 10, count, "only the remaining handler should run")
	require.True(t, keep.Active())
	require.False(t, sub.Active())
	require.Equal(t, 1, b.SubscriberCount("e"))
}

func TestUnsubscribe_DuringPublishSkipsLaterHandler(t *testing.T) {
	b := New()
	var calls []string

	var second *Subscription
	b.Subscribe("e", func(any) {
		calls = append(calls, "first")
		second.Unsubscribe()
	})
	second = b.Subscribe("e", func(any) { calls = append(calls, "second") })

	b.Publish("e", nil)

	require.Equal(t, []string{"first"}, calls)
}

func TestSubscribe_DuringPublishNotInvokedForCurrentEvent(t *testing.T) {
	b := New()
	var calls []string

	b.Subscribe("e", func(any) {
		calls = append(calls, "first")
		b.Subscribe("e", func(any) { calls = append(calls, "late") })
	})

	b.Publish("e", nil)
	require.Equal(t, []string{"first"}, calls)
}

func TestClose_DropsEverything(t *testing.T) {
	b := New()
	fired := false
	sub := b.Subscribe("e", func(any) { fired = true })

	b.Close()
	b.Close()

	require.Equal(t, 0, b.Publish("e", nil))
	require.False(t, fired)
	require.False(t, sub.Active())
	require.False(t, b.Subscribe("e", func(any) {}).Active())
}

func TestOn_TypedHandler(t *testing.T) {
	b := New()
	var got []int
	b.Subscribe("n", On(func(n int) { got = append(got, n) }))

	b.Publish("n", 7)
	b.Publish("n", "not an int")

	require.Equal(t, []int{7}, got)
}

func TestScope_CloseReleasesOwnerSubscriptions(t *testing.T) {
	b := New()
	scope := b.Scope("orders")
	fired := 0

	sub := scope.Subscribe(EventStateChanged, func(any) { fired++ })
	scope.Subscribe(EventNavigateChanged, func(any) { fired++ })
	b.Subscribe(EventStateChanged, func(any) {})

	require.Equal(t, "orders", sub.Owner)
	require.Equal(t, 2, scope.Len())

	scope.Close()
	scope.Close()

	b.Publish(EventStateChanged, nil)
	b.Publish(EventNavigateChanged, nil)

	require.Zero(t, fired)
	require.True(t, scope.Closed())
	require.Equal(t, 1, b.SubscriberCount(EventStateChanged))
	require.False(t, scope.Subscribe(EventStateChanged, func(any) { fired++ }).Active())
	require.Zero(t, scope.Publish(EventStateChanged, nil))
}

// A handler never fires after its unsubscribe returned, and every publish
// reaches exactly the live handlers in registration order.
func TestProperty_UnsubscribedHandlersNeverFire(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b := New()
		var fired []int
		var subs []*Subscription
		live := map[int]bool{}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, fmt.Sprintf("op%d", i)) {
			case 0:
				id := len(subs)
				subs = append(subs, b.Subscribe("e", func(any) { fired = append(fired, id) }))
				live[id] = true
			case 1:
				if len(subs) == 0 {
					continue
				}
				id := rapid.IntRange(0, len(subs)-1).Draw(rt, fmt.Sprintf("victim%d", i))
				subs[id].Unsubscribe()
				live[id] = false
			case 2:
				fired = fired[:0]
				b.Publish("e", nil)

				var want []int
				for id := range subs {
					if live[id] {
						want = append(want, id)
					}
				}
				if len(want) == 0 {
					require.Empty(rt, fired)
				} else {
					require.Equal(rt, want, fired)
				}
			}
		}
	})
}
