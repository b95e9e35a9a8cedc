package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stofina-realtime/internal/broker"
	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/config"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/stomp"
	"stofina-realtime/internal/store"
)

// SessionOptions selects what a realtime session runs.
type SessionOptions struct {
	// Streams to open. Empty opens all three.
	Streams []models.StreamKind
	// Symbols for the market-data stream. Empty uses the configured defaults.
	Symbols []string
	// Symbol is the active symbol for the order-book and trade streams.
	Symbol string

	Transport broker.Transport
	Clock     clock.Clock
	Logger    zerolog.Logger
	Journal   *store.Journal
}

// Session owns every realtime component of one scope: the connectors, their
// subscription managers and feeds, the snapshot, the quote resolver and the hub.
type Session struct {
	cfg     *config.Config
	clock   clock.Clock
	logger  zerolog.Logger
	journal *store.Journal

	hub      *Hub
	snapshot *store.Snapshot
	resolver *store.QuoteResolver

	connectors map[models.StreamKind]*broker.Connector
	order      []models.StreamKind
	market     *MarketDataFeed
	book       *OrderBookFeed
	trades     *TradeFeed

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewSession wires a session from configuration. Nothing is dialed until Start.
func NewSession(cfg *config.Config, opts SessionOptions) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Transport == nil {
		opts.Transport = broker.NewWebSocketTransport(cfg.Streams.ConnectionTimeout)
	}
	loc, err := time.LoadLocation(cfg.Orders.Timezone)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "timezone %q: %v", cfg.Orders.Timezone, err)
	}

	streams := opts.Streams
	if len(streams) == 0 {
		streams = []models.StreamKind{models.StreamMarketData, models.StreamOrderBook, models.StreamTrades}
	}
	symbols := opts.Symbols
	if len(symbols) == 0 {
		symbols = cfg.Streams.DefaultSymbols
	}

	s := &Session{
		cfg:        cfg,
		clock:      opts.Clock,
		logger:     opts.Logger.With().Str("component", "session").Logger(),
		journal:    opts.Journal,
		hub:        NewHub(),
		connectors: make(map[models.StreamKind]*broker.Connector),
	}
	s.snapshot = store.NewSnapshot(s.hub, opts.Clock)
	s.snapshot.SetMaxTrades(cfg.Streams.MaxTradeHistory)
	s.resolver = store.NewQuoteResolver(s.snapshot)

	for _, kind := range streams {
		if _, dup := s.connectors[kind]; dup {
			continue
		}
		raw, ok := s.streamURL(kind)
		if !ok {
			return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown stream %q", kind)
		}
		conn := broker.NewConnector(connectorConfig(cfg.Streams, kind, raw), opts.Transport,
			broker.WithClock(opts.Clock), broker.WithLogger(opts.Logger))
		s.connectors[kind] = conn
		s.order = append(s.order, kind)

		feedCfg := FeedConfig{
			Manager:  NewManager(conn, opts.Logger),
			Snapshot: s.snapshot,
			Clock:    opts.Clock,
			Logger:   opts.Logger,
			Location: loc,
		}
		switch kind {
		case models.StreamMarketData:
			s.market = NewMarketDataFeed(feedCfg, symbols, cfg.Streams.UpdateFrequency)
		case models.StreamOrderBook:
			s.book = NewOrderBookFeed(feedCfg, opts.Symbol, cfg.Streams.MaxOrderBookLevels)
		case models.StreamTrades:
			s.trades = NewTradeFeed(feedCfg, opts.Symbol, cfg.Streams.MaxTradeHistory)
		}
	}

	if s.journal != nil {
		s.hub.RegisterConsumer(NewConsumerFunc([]store.UpdateKind{store.UpdateTrades}, s.journalTrades))
	}
	return s, nil
}

func (s *Session) streamURL(kind models.StreamKind) (string, bool) {
	switch kind {
	case models.StreamMarketData:
		return s.cfg.Streams.MarketDataURL, true
	case models.StreamOrderBook:
		return s.cfg.Streams.OrderBookURL, true
	case models.StreamTrades:
		return s.cfg.Streams.TradesURL, true
	}
	return "", false
}

func connectorConfig(sc config.StreamConfig, kind models.StreamKind, raw string) broker.ConnectorConfig {
	c := broker.DefaultConnectorConfig(kind, raw)
	c.ReconnectEnabled = sc.ReconnectEnabled
	if sc.ReconnectDelay > 0 {
		c.ReconnectDelay = sc.ReconnectDelay
	}
	c.MaxReconnectAttempts = sc.MaxReconnectAttempts
	if sc.ConnectionTimeout > 0 {
		c.ConnectionTimeout = sc.ConnectionTimeout
	}
	c.HeartBeat = stomp.HeartBeat{Outgoing: sc.HeartbeatOutgoing, Incoming: sc.HeartbeatIncoming}
	return c
}

func (s *Session) journalTrades(u store.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, t := range u.Trades {
		if err := s.journal.RecordTrade(ctx, t); err != nil {
			s.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("Trade not journaled")
		}
	}
}

// Start registers every feed and connects every stream concurrently. Streams that fail
// keep retrying in the background; their errors are joined into the result.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	hubCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.hub.Start(hubCtx)
	if s.market != nil {
		s.market.Start()
	}
	if s.book != nil {
		s.book.Start()
	}
	if s.trades != nil {
		s.trades.Start()
	}

	errs := make([]error, len(s.order))
	var wg sync.WaitGroup
	for i, kind := range s.order {
		wg.Add(1)
		go func(i int, conn *broker.Connector) {
			defer wg.Done()
			errs[i] = conn.Connect(ctx)
		}(i, s.connectors[kind])
	}
	wg.Wait()

	s.logger.Info().Int("streams", len(s.order)).Msg("Realtime session started")
	return apperrors.Join(errs...)
}

// Stop disposes the subscriptions, closes every stream and stops the hub.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if s.market != nil {
		s.market.Stop()
	}
	if s.book != nil {
		s.book.Stop()
	}
	if s.trades != nil {
		s.trades.Stop()
	}
	for _, kind := range s.order {
		s.connectors[kind].Disconnect()
	}
	s.hub.Stop()
	if cancel != nil {
		cancel()
	}
	s.logger.Info().Msg("Realtime session stopped")
}

// LoadFallback fetches the REST snapshot used until realtime quotes arrive.
func (s *Session) LoadFallback(ctx context.Context, loader store.SymbolLoader) error {
	return s.resolver.Load(ctx, loader)
}

// SwitchSymbol moves the order-book and trade streams to symbol.
func (s *Session) SwitchSymbol(symbol string) {
	if s.book != nil {
		s.book.SwitchSymbol(symbol)
	}
	if s.trades != nil {
		s.trades.SwitchSymbol(symbol)
	}
	if s.book == nil && s.trades == nil {
		s.snapshot.SetSymbol(symbol)
	}
}

// OnStatus registers fn on every stream's connector.
func (s *Session) OnStatus(fn func(broker.StatusEvent)) {
	for _, kind := range s.order {
		s.connectors[kind].OnStatus(fn)
	}
}

// Streams returns the streams this session opens, in start order.
func (s *Session) Streams() []models.StreamKind {
	return append([]models.StreamKind(nil), s.order...)
}

// Status returns the status of one stream. Streams not opened report DISCONNECTED.
func (s *Session) Status(kind models.StreamKind) models.ConnectionStatus {
	if conn, ok := s.connectors[kind]; ok {
		return conn.Status()
	}
	return models.StatusDisconnected
}

// IsConnected reports whether the given stream is CONNECTED.
func (s *Session) IsConnected(kind models.StreamKind) bool {
	return s.Status(kind).IsConnected()
}

// Connector returns the connector of one stream, or nil.
func (s *Session) Connector(kind models.StreamKind) *broker.Connector {
	return s.connectors[kind]
}

// Snapshot returns the session's market snapshot.
func (s *Session) Snapshot() *store.Snapshot { return s.snapshot }

// Resolver returns the quote resolver over the snapshot and the REST fallback.
func (s *Session) Resolver() *store.QuoteResolver { return s.resolver }

// Hub returns the update hub.
func (s *Session) Hub() *Hub { return s.hub }

// MarketData returns the market-data feed, or nil when that stream is not open.
func (s *Session) MarketData() *MarketDataFeed { return s.market }

// OrderBook returns the order-book feed, or nil.
func (s *Session) OrderBook() *OrderBookFeed { return s.book }

// Trades returns the trade feed, or nil.
func (s *Session) Trades() *TradeFeed { return s.trades }
