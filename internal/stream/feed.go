package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stofina-realtime/internal/broker"
	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/logging"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/store"
)

// Destinations used by the stream backends.
const (
	TopicMarketData       = "/topic/market-data"
	TopicOrderBookPrefix  = "/topic/orderbook/"
	TopicTradesPrefix     = "/topic/trades/"
	DestSubscribe         = "/app/subscribe"
	DestUnsubscribe       = "/app/unsubscribe"
	DestOrderBookPrefix   = "/app/orderbook/subscribe/"
	DestTradesSubscribe   = "/app/trades/subscribe"
	defaultFeedBufferSize = 256
)

// FeedConfig holds the collaborators shared by every feed.
type FeedConfig struct {
	Manager    *Manager
	Snapshot   *store.Snapshot
	Clock      clock.Clock
	Logger     zerolog.Logger
	Location   *time.Location
	BufferSize int
}

// Apply mutates s with ev and reports whether anything changed.
func Apply(s *store.Snapshot, ev Event) bool {
	switch e := ev.(type) {
	case PriceUpdated:
		s.ApplyQuote(e.Quote)
		return true
	case PricesListed:
		s.ApplyQuotes(e.Quotes)
		return len(e.Quotes) > 0
	case BookReplaced:
		return s.ApplyBook(e.Symbol, e.Bids, e.Asks)
	case TradeExecuted:
		return s.ApplyTrade(e.Trade)
	case TradesListed:
		return s.ApplyTrades(e.Symbol, e.Trades)
	}
	return false
}

// feed owns the event channel and the single goroutine applying it to the snapshot.
type feed struct {
	kind    models.StreamKind
	manager *Manager
	snap    *store.Snapshot
	clock   clock.Clock
	logger  zerolog.Logger

	events chan Event

	mu          sync.Mutex
	done        chan struct{}
	running     bool
	wg          sync.WaitGroup
	lastFailure string
	discarded   int
}

func newFeed(kind models.StreamKind, cfg FeedConfig) *feed {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultFeedBufferSize
	}
	return &feed{
		kind:    kind,
		manager: cfg.Manager,
		snap:    cfg.Snapshot,
		clock:   cfg.Clock,
		logger:  logging.WithStream(cfg.Logger, string(kind)),
		events:  make(chan Event, cfg.BufferSize),
	}
}

func (f *feed) startApplier() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	f.done = make(chan struct{})
	f.wg.Add(1)
	go f.run(f.done)
	return true
}

func (f *feed) stopApplier() bool {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return false
	}
	f.running = false
	close(f.done)
	f.mu.Unlock()

	f.wg.Wait()
	return true
}

func (f *feed) run(done <-chan struct{}) {
	defer f.wg.Done()
	for {
		select {
		case <-done:
			return
		case ev := <-f.events:
			f.apply(ev)
		}
	}
}

func (f *feed) apply(ev Event) {
	if failed, ok := ev.(StreamFailed); ok {
		f.mu.Lock()
		f.lastFailure = failed.Message
		f.mu.Unlock()
		f.logger.Warn().Str("message", failed.Message).Msg("Server reported an error")
		return
	}
	Apply(f.snap, ev)
}

// handle runs on the connector read goroutine: decode errors are logged and the frame
// dropped, events are queued in delivery order.
func (f *feed) handle(msg broker.Message, ev Event, err error) {
	if err != nil {
		f.mu.Lock()
		f.discarded++
		f.mu.Unlock()
		logging.LogFrame(f.logger, msg.Destination, len(msg.Body), err)
		return
	}
	if ev == nil {
		return
	}

	f.mu.Lock()
	done := f.done
	running := f.running
	f.mu.Unlock()
	if !running {
		return
	}

	select {
	case f.events <- ev:
	case <-done:
	}
}

// LastFailure returns the last server ERROR message seen on the stream.
func (f *feed) LastFailure() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFailure
}

// Discarded returns the number of frames dropped by the decoder.
func (f *feed) Discarded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discarded
}

type requestEnvelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
	ID        string      `json:"id"`
}

type marketSubscription struct {
	Symbols              []string `json:"symbols"`
	UpdateFrequency      int      `json:"updateFrequency"`
	IncludeVolume        bool     `json:"includeVolume"`
	IncludeExtendedHours bool     `json:"includeExtendedHours"`
}

type symbolSubscription struct {
	Symbol     string `json:"symbol"`
	MaxLevels  int    `json:"maxLevels,omitempty"`
	MaxHistory int    `json:"maxHistory,omitempty"`
}

func (f *feed) envelope(msgType, idPrefix string, payload interface{}) requestEnvelope {
	now := f.clock.Now()
	return requestEnvelope{
		Type:      msgType,
		Payload:   payload,
		Timestamp: now.UTC().Format("2006-01-02T15:04:05.000Z"),
		ID:        fmt.Sprintf("%s-%d", idPrefix, now.UnixMilli()),
	}
}

// MarketDataFeed streams quotes for a set of symbols into the snapshot.
type MarketDataFeed struct {
	*feed
	decoder         *PriceDecoder
	updateFrequency int

	symMu   sync.Mutex
	symbols []string
	dispose func()
}

// NewMarketDataFeed creates the market-data feed for symbols.
func NewMarketDataFeed(cfg FeedConfig, symbols []string, updateFrequency int) *MarketDataFeed {
	if updateFrequency <= 0 {
		updateFrequency = 1000
	}
	return &MarketDataFeed{
		feed:            newFeed(models.StreamMarketData, cfg),
		decoder:         NewPriceDecoder(cfg.Location),
		updateFrequency: updateFrequency,
		symbols:         normalizeSymbols(symbols),
	}
}

// Start registers the topic and starts applying events.
func (f *MarketDataFeed) Start() {
	if !f.startApplier() {
		return
	}
	dispose := f.manager.SubscribeWithRequest(TopicMarketData, f.onMessage, Request{
		Destination: DestSubscribe,
		Payload:     f.subscribePayload,
	})
	f.symMu.Lock()
	f.dispose = dispose
	f.symMu.Unlock()
}

// Stop disposes the subscription and stops the applier.
func (f *MarketDataFeed) Stop() {
	f.symMu.Lock()
	dispose := f.dispose
	f.dispose = nil
	f.symMu.Unlock()
	if dispose != nil {
		dispose()
	}
	f.stopApplier()
}

func (f *MarketDataFeed) onMessage(msg broker.Message) {
	ev, err := f.decoder.Decode(msg.Body, msg.ReceivedAt)
	f.handle(msg, ev, err)
}

func (f *MarketDataFeed) subscribePayload() interface{} {
	return f.envelope("SUBSCRIBE", "sub", marketSubscription{
		Symbols:         f.Symbols(),
		UpdateFrequency: f.updateFrequency,
		IncludeVolume:   true,
	})
}

// Symbols returns the subscribed symbols.
func (f *MarketDataFeed) Symbols() []string {
	f.symMu.Lock()
	defer f.symMu.Unlock()
	return append([]string(nil), f.symbols...)
}

// SubscribeSymbols adds symbols to the subscription. The request goes out now when
// connected and with every re-subscription after that.
func (f *MarketDataFeed) SubscribeSymbols(symbols []string) bool {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return false
	}
	f.symMu.Lock()
	for _, s := range symbols {
		if !containsString(f.symbols, s) {
			f.symbols = append(f.symbols, s)
		}
	}
	f.symMu.Unlock()

	if !f.manager.IsConnected() {
		return false
	}
	return f.manager.Send(DestSubscribe, f.envelope("SUBSCRIBE", "sub", marketSubscription{
		Symbols:         symbols,
		UpdateFrequency: f.updateFrequency,
		IncludeVolume:   true,
	}))
}

// UnsubscribeSymbols drops symbols from the subscription and removes their quotes.
func (f *MarketDataFeed) UnsubscribeSymbols(symbols []string) bool {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return false
	}
	f.symMu.Lock()
	kept := f.symbols[:0]
	for _, s := range f.symbols {
		if !containsString(symbols, s) {
			kept = append(kept, s)
		}
	}
	f.symbols = kept
	f.symMu.Unlock()

	f.snap.RemoveQuotes(symbols)

	if !f.manager.IsConnected() {
		return false
	}
	return f.manager.Send(DestUnsubscribe, f.envelope("UNSUBSCRIBE", "unsub", symbols))
}

// symbolFeed is a feed bound to one switchable symbol.
type symbolFeed struct {
	*feed
	topic   func(symbol string) string
	request func(symbol string) Request
	handler func(broker.Message)

	symMu   sync.Mutex
	symbol  string
	dispose func()
}

// Symbol returns the symbol currently streamed.
func (f *symbolFeed) Symbol() string {
	f.symMu.Lock()
	defer f.symMu.Unlock()
	return f.symbol
}

func (f *symbolFeed) start() {
	if !f.startApplier() {
		return
	}
	f.symMu.Lock()
	symbol := f.symbol
	f.symMu.Unlock()

	f.snap.SetSymbol(symbol)
	f.subscribe(symbol)
}

func (f *symbolFeed) subscribe(symbol string) {
	if symbol == "" {
		return
	}
	dispose := f.manager.SubscribeWithRequest(f.topic(symbol), f.handler, f.request(symbol))
	f.symMu.Lock()
	f.dispose = dispose
	f.symMu.Unlock()
}

func (f *symbolFeed) stop() {
	f.symMu.Lock()
	dispose := f.dispose
	f.dispose = nil
	f.symMu.Unlock()
	if dispose != nil {
		dispose()
	}
	f.stopApplier()
}

// SwitchSymbol moves the feed to symbol: the old topic is unsubscribed, the snapshot's
// book and trades are cleared at once, then the new topic is subscribed.
func (f *symbolFeed) SwitchSymbol(symbol string) {
	symbol = store.NormalizeSymbol(symbol)

	f.symMu.Lock()
	if symbol == f.symbol {
		f.symMu.Unlock()
		return
	}
	old := f.symbol
	f.symbol = symbol
	dispose := f.dispose
	f.dispose = nil
	f.symMu.Unlock()

	if dispose != nil {
		dispose()
	}
	f.snap.SetSymbol(symbol)

	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if running {
		f.subscribe(symbol)
	}
	f.logger.Info().Str("from", old).Str("to", symbol).Msg("Switched symbol")
}

// OrderBookFeed streams the order book of one symbol into the snapshot.
type OrderBookFeed struct {
	symbolFeed
	decoder *OrderBookDecoder
}

// NewOrderBookFeed creates the order-book feed for symbol.
func NewOrderBookFeed(cfg FeedConfig, symbol string, maxLevels int) *OrderBookFeed {
	f := &OrderBookFeed{decoder: NewOrderBookDecoder(maxLevels)}
	f.symbolFeed = symbolFeed{
		feed:   newFeed(models.StreamOrderBook, cfg),
		symbol: store.NormalizeSymbol(symbol),
		topic: func(sym string) string {
			return TopicOrderBookPrefix + sym
		},
		handler: f.onMessage,
	}
	f.request = func(sym string) Request {
		return Request{
			Destination: DestOrderBookPrefix + sym,
			Payload: func() interface{} {
				return f.envelope("SUBSCRIBE_ORDER_BOOK", "orderbook-sub", symbolSubscription{Symbol: sym, MaxLevels: maxLevels})
			},
		}
	}
	return f
}

// Start subscribes the current symbol and starts applying events.
func (f *OrderBookFeed) Start() { f.start() }

// Stop disposes the subscription and stops the applier.
func (f *OrderBookFeed) Stop() { f.stop() }

func (f *OrderBookFeed) onMessage(msg broker.Message) {
	ev, err := f.decoder.Decode(msg.Body, f.Symbol())
	f.handle(msg, ev, err)
}

// TradeFeed streams executions of one symbol into the snapshot.
type TradeFeed struct {
	symbolFeed
	decoder *TradeDecoder
}

// NewTradeFeed creates the trade feed for symbol.
func NewTradeFeed(cfg FeedConfig, symbol string, maxHistory int) *TradeFeed {
	f := &TradeFeed{decoder: NewTradeDecoder(cfg.Location)}
	f.symbolFeed = symbolFeed{
		feed:   newFeed(models.StreamTrades, cfg),
		symbol: store.NormalizeSymbol(symbol),
		topic: func(sym string) string {
			return TopicTradesPrefix + sym
		},
		handler: f.onMessage,
	}
	f.request = func(sym string) Request {
		return Request{
			Destination: DestTradesSubscribe,
			Payload: func() interface{} {
				return f.envelope("SUBSCRIBE_TRADES", "trades-sub", symbolSubscription{Symbol: sym, MaxHistory: maxHistory})
			},
		}
	}
	return f
}

// Start subscribes the current symbol and starts applying events.
func (f *TradeFeed) Start() { f.start() }

// Stop disposes the subscription and stops the applier.
func (f *TradeFeed) Stop() { f.stop() }

func (f *TradeFeed) onMessage(msg broker.Message) {
	ev, err := f.decoder.Decode(msg.Body, f.Symbol(), msg.ReceivedAt)
	f.handle(msg, ev, err)
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = store.NormalizeSymbol(s)
		if s != "" && !containsString(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
