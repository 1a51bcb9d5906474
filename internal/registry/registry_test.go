package registry

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/livefeed/internal/protocol"
)

func frame(channel, typ string) protocol.Frame {
	return protocol.Frame{Channel: channel, Type: typ, Data: []byte(`{}`)}
}

func TestRegistry_DispatchOrder(t *testing.T) {
	r := New(slog.Default())

	var calls []string
	r.Subscribe("a", func(protocol.Frame) { calls = append(calls, "a1") })
	r.Subscribe(protocol.Wildcard, func(protocol.Frame) { calls = append(calls, "w1") })
	r.Subscribe("b", func(protocol.Frame) { calls = append(calls, "b1") })
	r.Subscribe("a", func(protocol.Frame) { calls = append(calls, "a2") })
	r.Subscribe(protocol.Wildcard, func(protocol.Frame) { calls = append(calls, "w2") })

	r.Dispatch(frame("a", "x"))
	assert.Equal(t, []string{"a1", "w1", "a2", "w2"}, calls)

	calls = nil
	r.Dispatch(frame("b", "x"))
	assert.Equal(t, []string{"w1", "b1", "w2"}, calls)

	calls = nil
	r.Dispatch(frame("unknown", "x"))
	assert.Equal(t, []string{"w1", "w2"}, calls)
}

func TestRegistry_WildcardFrameNotDuplicated(t *testing.T) {
	r := New(nil)

	count := 0
	r.Subscribe(protocol.Wildcard, func(protocol.Frame) { count++ })

	r.Dispatch(frame(protocol.Wildcard, "x"))
	assert.Equal(t, 1, count)
}

func TestRegistry_DispatchIsolation(t *testing.T) {
	r := New(nil)

	var got []string
	r.Subscribe("A", func(protocol.Frame) { panic("boom") })
	r.Subscribe("A", func(protocol.Frame) { got = append(got, "A") })
	r.Subscribe(protocol.Wildcard, func(protocol.Frame) { got = append(got, "*") })

	require.NotPanics(t, func() { r.Dispatch(frame("A", "x")) })
	assert.Equal(t, []string{"A", "*"}, got)
	assert.Equal(t, int64(1), r.Stats().HandlerPanics)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := New(nil)

	count := 0
	id1 := r.Subscribe("a", func(protocol.Frame) { count++ })
	id2 := r.Subscribe("a", func(protocol.Frame) { count += 10 })
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, r.Stats().Subscriptions)

	r.Unsubscribe(id1)
	r.Dispatch(frame("a", "x"))
	assert.Equal(t, 10, count)
	assert.Equal(t, []string{"a"}, r.Channels())

	r.Unsubscribe(id2)
	assert.Empty(t, r.Channels(), "removing last entry removes the channel key")

	// idempotent
	r.Unsubscribe(id2)
	r.Unsubscribe("does-not-exist")
	assert.Zero(t, r.Stats().Subscriptions)
}

func TestRegistry_DuplicateHandlersAreIndependent(t *testing.T) {
	r := New(nil)

	count := 0
	h := func(protocol.Frame) { count++ }
	r.Subscribe("a", h)
	id := r.Subscribe("a", h)

	r.Dispatch(frame("a", "x"))
	assert.Equal(t, 2, count)

	r.Unsubscribe(id)
	r.Dispatch(frame("a", "x"))
	assert.Equal(t, 3, count)
}

func TestRegistry_UnsubscribeDuringDispatch(t *testing.T) {
	r := New(nil)

	var id string
	calls := 0
	id = r.Subscribe("a", func(protocol.Frame) {
		calls++
		r.Unsubscribe(id)
	})
	r.Subscribe("a", func(protocol.Frame) { calls++ })

	r.Dispatch(frame("a", "x"))
	assert.Equal(t, 2, calls)

	r.Dispatch(frame("a", "x"))
	assert.Equal(t, 3, calls)
}

func TestRegistry_Clear(t *testing.T) {
	r := New(nil)
	r.Subscribe("a", func(protocol.Frame) {})
	r.Subscribe(protocol.Wildcard, func(protocol.Frame) {})

	r.Clear()
	assert.Zero(t, r.Stats().Subscriptions)
	assert.Empty(t, r.Channels())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Subscribe("a", func(protocol.Frame) {})
			r.Dispatch(frame("a", "x"))
			r.Unsubscribe(id)
		}()
	}
	wg.Wait()

	assert.Zero(t, r.Stats().Subscriptions)
	assert.Equal(t, int64(50), r.Stats().Dispatched)
}
