// Package stream runs the realtime streams: subscription management, frame decoding,
// the per-stream feeds that apply events to the snapshot, and fan-out of the resulting
// updates.
package stream

import (
	"context"
	"sync"
	"time"

	"stofina-realtime/internal/store"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal update channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// allSymbols is the subscriber key for updates of every symbol.
const allSymbols = ""

// Hub distributes snapshot updates to channel subscribers and consumers. It implements
// store.Publisher, so a Snapshot can publish straight into it.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	updates     chan store.Update
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex
	wg          sync.WaitGroup

	// Metrics
	received  uint64
	delivered uint64
	dropped   uint64
	metricsMu sync.RWMutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan store.Update
	DroppedCount int
	CreatedAt    time.Time
}

var _ store.Publisher = (*Hub)(nil)

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string][]*Subscriber),
		updates:     make(chan store.Update, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	h.wg.Add(1)
	go h.broadcastLoop(ctx, done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done <-chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case u := <-h.updates:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()

			h.broadcast(u)
			h.notifyConsumers(u)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	close(h.done)
	h.started = false
	h.mu.Unlock()

	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for key, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, key)
	}
}

// Subscribe returns a channel receiving the updates that touch symbol.
func (h *Hub) Subscribe(symbol string) <-chan store.Update {
	return h.SubscribeWithID(store.NormalizeSymbol(symbol), "")
}

// SubscribeAll returns a channel receiving every update.
func (h *Hub) SubscribeAll() <-chan store.Update {
	return h.SubscribeWithID(allSymbols, "")
}

// SubscribeWithID adds a subscriber with a specific ID under key.
func (h *Hub) SubscribeWithID(key, id string) <-chan store.Update {
	ch := make(chan store.Update, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[key] = append(h.subscribers[key], sub)
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(ch <-chan store.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, subs := range h.subscribers {
		for i, sub := range subs {
			if sub.Channel == ch {
				close(sub.Channel)
				h.subscribers[key] = append(subs[:i], subs[i+1:]...)
				if len(h.subscribers[key]) == 0 {
					delete(h.subscribers, key)
				}
				return
			}
		}
	}
}

// Publish hands an update to the hub. It never blocks: when the buffer is full the
// update is dropped and counted.
func (h *Hub) Publish(u store.Update) {
	select {
	case h.updates <- u:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
	}
}

// broadcast sends u to the subscribers of each symbol it touches and to the
// catch-all subscribers, skipping slow consumers.
func (h *Hub) broadcast(u store.Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make([]*Subscriber, 0, len(h.subscribers[allSymbols]))
	targets = append(targets, h.subscribers[allSymbols]...)
	seen := make(map[string]bool, len(u.Symbols))
	for _, sym := range u.Symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		targets = append(targets, h.subscribers[sym]...)
	}

	for _, sub := range targets {
		select {
		case sub.Channel <- u:
			h.metricsMu.Lock()
			h.delivered++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.dropped++
			h.metricsMu.Unlock()
		}
	}
}

// GetSubscriberCount returns the number of subscribers for a symbol.
func (h *Hub) GetSubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[store.NormalizeSymbol(symbol)])
}

// GetTotalSubscriberCount returns the total number of subscribers.
func (h *Hub) GetTotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	subscribers := h.GetTotalSubscriberCount()

	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return HubMetrics{
		Received:    h.received,
		Delivered:   h.delivered,
		Dropped:     h.dropped,
		Subscribers: subscribers,
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received    uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Consumer processes updates off the hub's loop.
type Consumer interface {
	// OnUpdate is called for every matching update.
	OnUpdate(u store.Update)
	// Kinds returns the update kinds this consumer wants. Empty means all.
	Kinds() []store.UpdateKind
}

// RegisterConsumer adds a consumer. Consumers are called in order on the hub loop, so
// they must return quickly.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// UnregisterConsumer removes a consumer.
func (h *Hub) UnregisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	for i, c := range h.consumers {
		if c == consumer {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

func (h *Hub) notifyConsumers(u store.Update) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		kinds := consumer.Kinds()
		if len(kinds) == 0 || containsKind(kinds, u.Kind) {
			consumer.OnUpdate(u)
		}
	}
}

func containsKind(kinds []store.UpdateKind, kind store.UpdateKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ConsumerFunc is a function adapter for Consumer.
type ConsumerFunc struct {
	kinds    []store.UpdateKind
	onUpdate func(store.Update)
}

// NewConsumerFunc creates a new ConsumerFunc.
func NewConsumerFunc(kinds []store.UpdateKind, onUpdate func(store.Update)) *ConsumerFunc {
	return &ConsumerFunc{
		kinds:    kinds,
		onUpdate: onUpdate,
	}
}

// OnUpdate implements Consumer.
func (c *ConsumerFunc) OnUpdate(u store.Update) {
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
}

// Kinds implements Consumer.
func (c *ConsumerFunc) Kinds() []store.UpdateKind {
	return c.kinds
}
