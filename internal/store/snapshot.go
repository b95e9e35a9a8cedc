package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/models"
)

// DefaultMaxTrades bounds the trade history held for the active symbol.
const DefaultMaxTrades = 50

// UpdateKind names the part of the snapshot an Update touched.
type UpdateKind string

const (
	UpdateQuotes        UpdateKind = "quotes"
	UpdateQuotesRemoved UpdateKind = "quotes_removed"
	UpdateBook          UpdateKind = "book"
	UpdateTrades        UpdateKind = "trades"
	UpdateSymbol        UpdateKind = "symbol"
)

// Update is published once per applied change. A bulk apply publishes a single Update
// carrying every symbol it touched.
type Update struct {
	Kind    UpdateKind
	Symbols []string
	Trades  []models.TradeEvent // new executions, set for UpdateTrades from ApplyTrade
	At      time.Time
}

// Publisher receives snapshot updates. Publish must not block.
type Publisher interface {
	Publish(Update)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Update)

// Publish calls f.
func (f PublisherFunc) Publish(u Update) { f(u) }

// Snapshot is the in-memory market view for one realtime session: quotes for every
// subscribed symbol plus the order book and trade history of the active symbol.
type Snapshot struct {
	clock     clock.Clock
	publisher Publisher
	maxTrades int

	mu         sync.RWMutex
	quotes     map[string]models.PriceQuote
	symbol     string
	bids       []models.OrderBookLevel
	asks       []models.OrderBookLevel
	bookAt     time.Time
	trades     []models.TradeEvent
	lastUpdate time.Time
}

// NewSnapshot creates an empty snapshot. A nil publisher discards updates.
func NewSnapshot(publisher Publisher, clk clock.Clock) *Snapshot {
	if clk == nil {
		clk = clock.New()
	}
	return &Snapshot{
		clock:     clk,
		publisher: publisher,
		maxTrades: DefaultMaxTrades,
		quotes:    make(map[string]models.PriceQuote),
	}
}

// SetMaxTrades changes the trade history cap.
func (s *Snapshot) SetMaxTrades(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxTrades = n
	if len(s.trades) > n {
		s.trades = s.trades[:n]
	}
	s.mu.Unlock()
}

// NormalizeSymbol is the canonical store key for a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (s *Snapshot) publish(u Update) {
	if s.publisher != nil {
		s.publisher.Publish(u)
	}
}

// ApplyQuote upserts one quote.
func (s *Snapshot) ApplyQuote(q models.PriceQuote) {
	s.ApplyQuotes([]models.PriceQuote{q})
}

// ApplyQuotes upserts every quote under one lock and publishes exactly one Update.
func (s *Snapshot) ApplyQuotes(quotes []models.PriceQuote) {
	if len(quotes) == 0 {
		return
	}
	now := s.clock.Now()
	symbols := make([]string, 0, len(quotes))

	s.mu.Lock()
	for _, q := range quotes {
		q.Symbol = NormalizeSymbol(q.Symbol)
		if q.Symbol == "" {
			continue
		}
		if q.LastUpdated.IsZero() {
			q.LastUpdated = now
		}
		s.quotes[q.Symbol] = q
		symbols = append(symbols, q.Symbol)
	}
	if len(symbols) > 0 {
		s.lastUpdate = now
	}
	s.mu.Unlock()

	if len(symbols) > 0 {
		s.publish(Update{Kind: UpdateQuotes, Symbols: symbols, At: now})
	}
}

// RemoveQuotes drops the quotes of unsubscribed symbols.
func (s *Snapshot) RemoveQuotes(symbols []string) {
	now := s.clock.Now()
	removed := make([]string, 0, len(symbols))

	s.mu.Lock()
	for _, sym := range symbols {
		sym = NormalizeSymbol(sym)
		if _, ok := s.quotes[sym]; ok {
			delete(s.quotes, sym)
			removed = append(removed, sym)
		}
	}
	if len(removed) > 0 {
		s.lastUpdate = now
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.publish(Update{Kind: UpdateQuotesRemoved, Symbols: removed, At: now})
	}
}

// SetSymbol switches the active symbol. The order book and trade history are cleared
// immediately; quotes are kept.
func (s *Snapshot) SetSymbol(symbol string) {
	symbol = NormalizeSymbol(symbol)
	now := s.clock.Now()

	s.mu.Lock()
	if symbol == s.symbol {
		s.mu.Unlock()
		return
	}
	s.symbol = symbol
	s.bids = nil
	s.asks = nil
	s.bookAt = time.Time{}
	s.trades = nil
	s.lastUpdate = now
	s.mu.Unlock()

	s.publish(Update{Kind: UpdateSymbol, Symbols: []string{symbol}, At: now})
}

// Symbol returns the active symbol.
func (s *Snapshot) Symbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

// ApplyBook replaces both sides of the book wholesale. Books for any symbol other than the
// active one are ignored and ApplyBook returns false.
func (s *Snapshot) ApplyBook(symbol string, bids, asks []models.OrderBookLevel) bool {
	symbol = NormalizeSymbol(symbol)
	now := s.clock.Now()

	s.mu.Lock()
	if symbol == "" || symbol != s.symbol {
		s.mu.Unlock()
		return false
	}
	s.bids = append([]models.OrderBookLevel(nil), bids...)
	s.asks = append([]models.OrderBookLevel(nil), asks...)
	s.bookAt = now
	s.lastUpdate = now
	s.mu.Unlock()

	s.publish(Update{Kind: UpdateBook, Symbols: []string{symbol}, At: now})
	return true
}

// ApplyTrade prepends an execution for the active symbol and evicts the oldest entries
// past the cap.
func (s *Snapshot) ApplyTrade(trade models.TradeEvent) bool {
	trade.Symbol = NormalizeSymbol(trade.Symbol)
	now := s.clock.Now()
	if trade.Timestamp.IsZero() {
		trade.Timestamp = now
	}

	s.mu.Lock()
	if trade.Symbol == "" || trade.Symbol != s.symbol {
		s.mu.Unlock()
		return false
	}
	trades := make([]models.TradeEvent, 0, len(s.trades)+1)
	trades = append(trades, trade)
	trades = append(trades, s.trades...)
	if len(trades) > s.maxTrades {
		trades = trades[:s.maxTrades]
	}
	s.trades = trades
	s.lastUpdate = now
	s.mu.Unlock()

	s.publish(Update{Kind: UpdateTrades, Symbols: []string{trade.Symbol}, Trades: []models.TradeEvent{trade}, At: now})
	return true
}

// ApplyTrades replaces the history with a server-side snapshot, newest first.
func (s *Snapshot) ApplyTrades(symbol string, trades []models.TradeEvent) bool {
	symbol = NormalizeSymbol(symbol)
	now := s.clock.Now()

	history := make([]models.TradeEvent, 0, len(trades))
	for _, t := range trades {
		t.Symbol = NormalizeSymbol(t.Symbol)
		if t.Symbol == "" {
			t.Symbol = symbol
		}
		if t.Symbol != symbol {
			continue
		}
		history = append(history, t)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})

	s.mu.Lock()
	if symbol == "" || symbol != s.symbol {
		s.mu.Unlock()
		return false
	}
	if len(history) > s.maxTrades {
		history = history[:s.maxTrades]
	}
	s.trades = history
	s.lastUpdate = now
	s.mu.Unlock()

	s.publish(Update{Kind: UpdateTrades, Symbols: []string{symbol}, At: now})
	return true
}

// Quote returns the quote for symbol.
func (s *Snapshot) Quote(symbol string) (models.PriceQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[NormalizeSymbol(symbol)]
	return q, ok
}

// Quotes returns every quote sorted by symbol.
func (s *Snapshot) Quotes() []models.PriceQuote {
	s.mu.RLock()
	out := make([]models.PriceQuote, 0, len(s.quotes))
	for _, q := range s.quotes {
		out = append(out, q)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// HasQuotes reports whether any realtime quote is held.
func (s *Snapshot) HasQuotes() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes) > 0
}

// Book returns a copy of the active symbol's order book.
func (s *Snapshot) Book() models.OrderBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.OrderBook{
		Symbol:     s.symbol,
		Bids:       append([]models.OrderBookLevel(nil), s.bids...),
		Asks:       append([]models.OrderBookLevel(nil), s.asks...),
		LastUpdate: s.bookAt,
	}
}

// BestBid returns the first bid level's price.
func (s *Snapshot) BestBid() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bids) == 0 {
		return 0, false
	}
	return s.bids[0].Price, true
}

// BestAsk returns the first ask level's price.
func (s *Snapshot) BestAsk() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.asks) == 0 {
		return 0, false
	}
	return s.asks[0].Price, true
}

// Spread returns ask minus bid. It is defined only when both sides are non-empty and
// the best ask is above the best bid.
func (s *Snapshot) Spread() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bids) == 0 || len(s.asks) == 0 {
		return 0, false
	}
	bid, ask := s.bids[0].Price, s.asks[0].Price
	if ask <= bid {
		return 0, false
	}
	return ask - bid, true
}

// VolumeAtPrice sums the quantity resting at price on one side of the book.
func (s *Snapshot) VolumeAtPrice(price float64, side models.BookSide) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := s.bids
	if side == models.BookAsk {
		levels = s.asks
	}
	var total int64
	for _, l := range levels {
		if l.Price == price {
			total += l.Quantity
		}
	}
	return total
}

// Trades returns the trade history, most recent first.
func (s *Snapshot) Trades() []models.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TradeEvent(nil), s.trades...)
}

// LastTrade returns the most recent execution.
func (s *Snapshot) LastTrade() (models.TradeEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.trades) == 0 {
		return models.TradeEvent{}, false
	}
	return s.trades[0], true
}

// VWAP is the volume-weighted average price over the held trades.
func (s *Snapshot) VWAP() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notional float64
	var volume int64
	for _, t := range s.trades {
		notional += t.Price * float64(t.Quantity)
		volume += t.Quantity
	}
	if volume == 0 {
		return 0, false
	}
	return notional / float64(volume), true
}

// TotalVolume sums the quantity of the held trades.
func (s *Snapshot) TotalVolume() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var volume int64
	for _, t := range s.trades {
		volume += t.Quantity
	}
	return volume
}

// VolumeSince sums the quantity of held trades executed within d of now.
func (s *Snapshot) VolumeSince(d time.Duration) int64 {
	cutoff := s.clock.Now().Add(-d)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var volume int64
	for _, t := range s.trades {
		if !t.Timestamp.Before(cutoff) {
			volume += t.Quantity
		}
	}
	return volume
}

// LastUpdate returns when any part of the snapshot last changed.
func (s *Snapshot) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}
