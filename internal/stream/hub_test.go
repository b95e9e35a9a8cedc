package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stofina-realtime/internal/store"
)

func receive(t *testing.T, ch <-chan store.Update) store.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return store.Update{}
	}
}

func TestHub_RoutesBySymbol(t *testing.T) {
	h := NewHub()
	h.Start(context.Background())
	defer h.Stop()

	thyao := h.Subscribe("thyao")
	all := h.SubscribeAll()
	garan := h.Subscribe("GARAN")
	assert.Equal(t, 3, h.GetTotalSubscriberCount())
	assert.Equal(t, 1, h.GetSubscriberCount("THYAO"))

	h.Publish(store.Update{Kind: store.UpdateQuotes, Symbols: []string{"THYAO", "THYAO"}})

	assert.Equal(t, store.UpdateQuotes, receive(t, thyao).Kind)
	assert.Equal(t, store.UpdateQuotes, receive(t, all).Kind)
	select {
	case <-garan:
		t.Fatal("GARAN subscriber must not see THYAO updates")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-thyao:
		t.Fatal("duplicate symbols must not deliver twice")
	default:
	}

	require.Eventually(t, func() bool { return h.GetMetrics().Delivered == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_ConsumersFilterByKind(t *testing.T) {
	h := NewHub()
	h.Start(context.Background())
	defer h.Stop()

	var mu sync.Mutex
	var got []store.UpdateKind
	h.RegisterConsumer(NewConsumerFunc([]store.UpdateKind{store.UpdateTrades}, func(u store.Update) {
		mu.Lock()
		got = append(got, u.Kind)
		mu.Unlock()
	}))

	h.Publish(store.Update{Kind: store.UpdateQuotes})
	h.Publish(store.Update{Kind: store.UpdateTrades})
	h.Publish(store.Update{Kind: store.UpdateBook})
	h.Publish(store.Update{Kind: store.UpdateTrades})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []store.UpdateKind{store.UpdateTrades, store.UpdateTrades}, got)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 1})
	h.Start(context.Background())
	defer h.Stop()

	slow := h.SubscribeAll()
	for i := 0; i < 5; i++ {
		h.Publish(store.Update{Kind: store.UpdateQuotes})
	}

	require.Eventually(t, func() bool {
		m := h.GetMetrics()
		return m.Delivered+m.Dropped == 5
	}, time.Second, 5*time.Millisecond)
	m := h.GetMetrics()
	assert.Equal(t, uint64(1), m.Delivered)
	assert.Equal(t, uint64(4), m.Dropped)
	receive(t, slow)
}

func TestHub_StopClosesSubscribers(t *testing.T) {
	h := NewHub()
	h.Start(context.Background())
	ch := h.Subscribe("THYAO")
	other := h.SubscribeAll()
	h.Unsubscribe(other)
	_, open := <-other
	assert.False(t, open)

	h.Stop()
	h.Stop()
	assert.False(t, h.IsStarted())
	_, open = <-ch
	assert.False(t, open)
}
