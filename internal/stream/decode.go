package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/store"
)

// Message types carried in the envelope's type field.
const (
	TypePriceUpdate      = "PRICE_UPDATE"
	TypeMarketDataUpdate = "MARKET_DATA_UPDATE"
	TypeSymbolList       = "SYMBOL_LIST"
	TypeMarketStatus     = "MARKET_STATUS"
	TypeConnectionInfo   = "CONNECTION_INFO"
	TypeOrderBookUpdate  = "ORDER_BOOK_UPDATE"
	TypeTradeExecuted    = "TRADE_EXECUTED"
	TypeTradeHistory     = "TRADE_HISTORY"
	TypeError            = "ERROR"
)

// Event is a decoded stream frame.
type Event interface {
	isEvent()
}

// PriceUpdated carries one quote.
type PriceUpdated struct {
	Quote models.PriceQuote
}

// PricesListed carries a bulk quote list (SYMBOL_LIST).
type PricesListed struct {
	Quotes []models.PriceQuote
}

// BookReplaced carries a full order book for Symbol.
type BookReplaced struct {
	Symbol string
	Bids   []models.OrderBookLevel
	Asks   []models.OrderBookLevel
}

// TradeExecuted carries one execution.
type TradeExecuted struct {
	Trade models.TradeEvent
}

// TradesListed carries a trade history, newest first.
type TradesListed struct {
	Symbol string
	Trades []models.TradeEvent
}

// StreamFailed is a server-side ERROR message.
type StreamFailed struct {
	Message string
}

func (PriceUpdated) isEvent()  {}
func (PricesListed) isEvent()  {}
func (BookReplaced) isEvent()  {}
func (TradeExecuted) isEvent() {}
func (TradesListed) isEvent()  {}
func (StreamFailed) isEvent()  {}

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp json.RawMessage `json:"timestamp"`
	ID        json.RawMessage `json:"id"`
}

// body returns the payload object, or the whole frame for flat messages.
func (e envelope) body(frame []byte) []byte {
	p := bytes.TrimSpace(e.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return frame
	}
	return p
}

func decodeEnvelope(stream models.StreamKind, frame []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, apperrors.NewDecodeError(string(stream), "", fmt.Errorf("%w: %v", apperrors.ErrMalformedFrame, err))
	}
	if env.Type == "" {
		return env, apperrors.NewDecodeError(string(stream), "", fmt.Errorf("%w: missing type", apperrors.ErrMalformedFrame))
	}
	return env, nil
}

func malformed(stream models.StreamKind, msgType string, format string, args ...interface{}) error {
	return apperrors.NewDecodeError(string(stream), msgType,
		fmt.Errorf("%w: %s", apperrors.ErrMalformedFrame, fmt.Sprintf(format, args...)))
}

func unknown(stream models.StreamKind, msgType string) error {
	return apperrors.NewDecodeError(string(stream), msgType, apperrors.ErrUnknownMessage)
}

// decodeFailure reads either {payload:{message, error}} or the flat {error, details}.
func decodeFailure(env envelope, frame []byte) Event {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	_ = json.Unmarshal(env.body(frame), &body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
		if body.Details != "" {
			if msg != "" {
				msg += ": "
			}
			msg += body.Details
		}
	}
	if msg == "" {
		msg = "server error"
	}
	return StreamFailed{Message: msg}
}

func isInformational(msgType string) bool {
	return msgType == TypeMarketStatus || msgType == TypeConnectionInfo
}

// wireQuote covers the flat PRICE_UPDATE shape, the nested {symbol, data} shape and the
// entries of SYMBOL_LIST.
type wireQuote struct {
	Symbol        string          `json:"symbol"`
	Price         *float64        `json:"price"`
	CurrentPrice  *float64        `json:"currentPrice"`
	Change        *float64        `json:"change"`
	ChangeAmount  *float64        `json:"changeAmount"`
	ChangePercent float64         `json:"changePercent"`
	Volume        float64         `json:"volume"`
	Open          float64         `json:"open"`
	High          float64         `json:"high"`
	Low           float64         `json:"low"`
	CompanyName   string          `json:"companyName"`
	Timestamp     json.RawMessage `json:"timestamp"`
	LastUpdated   json.RawMessage `json:"lastUpdated"`
	Data          json.RawMessage `json:"data"`
}

// PriceDecoder decodes frames of the market-data stream.
type PriceDecoder struct {
	loc *time.Location
}

// NewPriceDecoder creates a decoder reading zone-less timestamps in loc.
func NewPriceDecoder(loc *time.Location) *PriceDecoder {
	if loc == nil {
		loc = time.UTC
	}
	return &PriceDecoder{loc: loc}
}

// Decode turns one frame into an event. A nil event with a nil error means the frame
// carries nothing to apply.
func (d *PriceDecoder) Decode(frame []byte, receivedAt time.Time) (Event, error) {
	env, err := decodeEnvelope(models.StreamMarketData, frame)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypePriceUpdate:
		var w wireQuote
		if err := json.Unmarshal(env.body(frame), &w); err != nil {
			return nil, malformed(models.StreamMarketData, env.Type, "%v", err)
		}
		if isObject(w.Data) {
			var inner wireQuote
			if err := json.Unmarshal(w.Data, &inner); err != nil {
				return nil, malformed(models.StreamMarketData, env.Type, "%v", err)
			}
			if w.Symbol != "" {
				inner.Symbol = w.Symbol
			}
			w = inner
		}
		q, err := d.quote(w, receivedAt, true)
		if err != nil {
			return nil, apperrors.NewDecodeError(string(models.StreamMarketData), env.Type, err)
		}
		return PriceUpdated{Quote: q}, nil

	case TypeMarketDataUpdate:
		return d.decodeUpdate(env, frame, receivedAt)

	case TypeError:
		return decodeFailure(env, frame), nil
	}

	if isInformational(env.Type) {
		return nil, nil
	}
	return nil, unknown(models.StreamMarketData, env.Type)
}

func (d *PriceDecoder) decodeUpdate(env envelope, frame []byte, receivedAt time.Time) (Event, error) {
	var upd struct {
		Type   string          `json:"type"`
		Symbol string          `json:"symbol"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(env.body(frame), &upd); err != nil {
		return nil, malformed(models.StreamMarketData, env.Type, "%v", err)
	}

	switch upd.Type {
	case TypePriceUpdate:
		var w wireQuote
		if err := json.Unmarshal(upd.Data, &w); err != nil {
			return nil, malformed(models.StreamMarketData, upd.Type, "%v", err)
		}
		if upd.Symbol != "" {
			w.Symbol = upd.Symbol
		}
		q, err := d.quote(w, receivedAt, false)
		if err != nil {
			return nil, apperrors.NewDecodeError(string(models.StreamMarketData), upd.Type, err)
		}
		return PriceUpdated{Quote: q}, nil

	case TypeSymbolList:
		var list []wireQuote
		if err := json.Unmarshal(upd.Data, &list); err != nil {
			return nil, malformed(models.StreamMarketData, upd.Type, "%v", err)
		}
		quotes := make([]models.PriceQuote, 0, len(list))
		for i, w := range list {
			q, err := d.quote(w, receivedAt, false)
			if err != nil {
				return nil, apperrors.NewDecodeError(string(models.StreamMarketData), upd.Type,
					fmt.Errorf("entry %d: %w", i, err))
			}
			quotes = append(quotes, q)
		}
		return PricesListed{Quotes: quotes}, nil

	case TypeMarketStatus:
		return nil, nil
	}
	return nil, unknown(models.StreamMarketData, env.Type+"/"+upd.Type)
}

// quote validates w. Wire timestamps are only trusted when stamped is set, and never
// beyond the receive time.
func (d *PriceDecoder) quote(w wireQuote, receivedAt time.Time, stamped bool) (models.PriceQuote, error) {
	symbol := store.NormalizeSymbol(w.Symbol)
	if symbol == "" {
		return models.PriceQuote{}, fmt.Errorf("%w: missing symbol", apperrors.ErrMalformedFrame)
	}
	price := w.Price
	if price == nil {
		price = w.CurrentPrice
	}
	if price == nil || !finite(*price) {
		return models.PriceQuote{}, fmt.Errorf("%w: missing price for %s", apperrors.ErrMalformedFrame, symbol)
	}

	q := models.PriceQuote{
		Symbol:        symbol,
		Price:         *price,
		ChangePercent: w.ChangePercent,
		Volume:        int64(w.Volume),
		Open:          w.Open,
		High:          w.High,
		Low:           w.Low,
		CompanyName:   w.CompanyName,
		LastUpdated:   receivedAt,
	}
	if w.Change != nil {
		q.Change = *w.Change
	} else if w.ChangeAmount != nil {
		q.Change = *w.ChangeAmount
	}
	if q.CompanyName == "" {
		q.CompanyName = symbol
	}
	if stamped {
		raw := w.Timestamp
		if len(raw) == 0 {
			raw = w.LastUpdated
		}
		if t, ok := models.ParseTimeIn(raw, d.loc); ok && !t.After(receivedAt) {
			q.LastUpdated = t
		}
	}
	return q, nil
}

type wireLevel struct {
	Price    float64  `json:"price"`
	Quantity float64  `json:"quantity"`
	Total    *float64 `json:"total"`
}

type wireBook struct {
	Bids []wireLevel `json:"bids"`
	Asks []wireLevel `json:"asks"`
}

// OrderBookDecoder decodes frames of the order-book stream.
type OrderBookDecoder struct {
	maxLevels int
}

// NewOrderBookDecoder creates a decoder keeping at most maxLevels per side (0 keeps all).
func NewOrderBookDecoder(maxLevels int) *OrderBookDecoder {
	return &OrderBookDecoder{maxLevels: maxLevels}
}

// Decode turns one frame into an event. Books for any symbol other than current are
// dropped without error.
func (d *OrderBookDecoder) Decode(frame []byte, current string) (Event, error) {
	env, err := decodeEnvelope(models.StreamOrderBook, frame)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeOrderBookUpdate:
		var w struct {
			Symbol string    `json:"symbol"`
			Data   *wireBook `json:"data"`
			wireBook
		}
		if err := json.Unmarshal(env.body(frame), &w); err != nil {
			return nil, malformed(models.StreamOrderBook, env.Type, "%v", err)
		}
		symbol := store.NormalizeSymbol(w.Symbol)
		if symbol == "" {
			return nil, malformed(models.StreamOrderBook, env.Type, "missing symbol")
		}
		if symbol != store.NormalizeSymbol(current) {
			return nil, nil
		}
		book := w.wireBook
		if w.Data != nil {
			book = *w.Data
		}
		return BookReplaced{
			Symbol: symbol,
			Bids:   d.levels(book.Bids),
			Asks:   d.levels(book.Asks),
		}, nil

	case TypeError:
		return decodeFailure(env, frame), nil
	}

	if isInformational(env.Type) {
		return nil, nil
	}
	return nil, unknown(models.StreamOrderBook, env.Type)
}

// levels converts and caps one side. A missing total becomes the running quantity.
func (d *OrderBookDecoder) levels(in []wireLevel) []models.OrderBookLevel {
	if d.maxLevels > 0 && len(in) > d.maxLevels {
		in = in[:d.maxLevels]
	}
	out := make([]models.OrderBookLevel, 0, len(in))
	var running int64
	for _, l := range in {
		qty := int64(l.Quantity)
		running += qty
		total := running
		if l.Total != nil {
			total = int64(*l.Total)
		}
		out = append(out, models.OrderBookLevel{Price: l.Price, Quantity: qty, Total: total})
	}
	return out
}

type wireTrade struct {
	ID         json.RawMessage `json:"id"`
	Symbol     string          `json:"symbol"`
	Price      *float64        `json:"price"`
	Quantity   float64         `json:"quantity"`
	Side       string          `json:"side"`
	Timestamp  json.RawMessage `json:"timestamp"`
	ExecutedAt json.RawMessage `json:"executedAt"`
	Trade      *wireTrade      `json:"trade"`
}

// TradeDecoder decodes frames of the trade stream.
type TradeDecoder struct {
	loc *time.Location
}

// NewTradeDecoder creates a decoder reading zone-less timestamps in loc.
func NewTradeDecoder(loc *time.Location) *TradeDecoder {
	if loc == nil {
		loc = time.UTC
	}
	return &TradeDecoder{loc: loc}
}

// Decode turns one frame into an event, keeping only trades of current.
func (d *TradeDecoder) Decode(frame []byte, current string, receivedAt time.Time) (Event, error) {
	env, err := decodeEnvelope(models.StreamTrades, frame)
	if err != nil {
		return nil, err
	}
	current = store.NormalizeSymbol(current)

	switch env.Type {
	case TypeTradeExecuted:
		var w wireTrade
		if err := json.Unmarshal(env.body(frame), &w); err != nil {
			return nil, malformed(models.StreamTrades, env.Type, "%v", err)
		}
		if w.Trade != nil {
			inner := *w.Trade
			if inner.Symbol == "" {
				inner.Symbol = w.Symbol
			}
			if inner.Side == "" {
				inner.Side = w.Side
			}
			w = inner
		}
		t, err := d.trade(w, "", receivedAt)
		if err != nil {
			return nil, apperrors.NewDecodeError(string(models.StreamTrades), env.Type, err)
		}
		if t.Symbol != current {
			return nil, nil
		}
		return TradeExecuted{Trade: t}, nil

	case TypeTradeHistory:
		var w struct {
			Symbol string      `json:"symbol"`
			Trades []wireTrade `json:"trades"`
		}
		if err := json.Unmarshal(env.body(frame), &w); err != nil {
			return nil, malformed(models.StreamTrades, env.Type, "%v", err)
		}
		symbol := store.NormalizeSymbol(w.Symbol)
		if symbol == "" {
			return nil, malformed(models.StreamTrades, env.Type, "missing symbol")
		}
		if symbol != current {
			return nil, nil
		}
		trades := make([]models.TradeEvent, 0, len(w.Trades))
		for i, wt := range w.Trades {
			t, err := d.trade(wt, symbol, receivedAt)
			if err != nil {
				return nil, apperrors.NewDecodeError(string(models.StreamTrades), env.Type,
					fmt.Errorf("entry %d: %w", i, err))
			}
			if t.Symbol == symbol {
				trades = append(trades, t)
			}
		}
		return TradesListed{Symbol: symbol, Trades: trades}, nil

	case TypeError:
		return decodeFailure(env, frame), nil
	}

	if isInformational(env.Type) {
		return nil, nil
	}
	return nil, unknown(models.StreamTrades, env.Type)
}

func (d *TradeDecoder) trade(w wireTrade, fallbackSymbol string, receivedAt time.Time) (models.TradeEvent, error) {
	symbol := store.NormalizeSymbol(w.Symbol)
	if symbol == "" {
		symbol = fallbackSymbol
	}
	if symbol == "" {
		return models.TradeEvent{}, fmt.Errorf("%w: missing symbol", apperrors.ErrMalformedFrame)
	}
	if w.Price == nil || !finite(*w.Price) {
		return models.TradeEvent{}, fmt.Errorf("%w: missing price for %s", apperrors.ErrMalformedFrame, symbol)
	}

	t := models.TradeEvent{
		ID:        rawID(w.ID),
		Symbol:    symbol,
		Price:     *w.Price,
		Quantity:  int64(w.Quantity),
		Timestamp: receivedAt,
	}
	switch models.Side(strings.ToUpper(w.Side)) {
	case models.SideBuy:
		t.Side = models.SideBuy
	case models.SideSell:
		t.Side = models.SideSell
	}

	raw := w.Timestamp
	if len(raw) == 0 {
		raw = w.ExecutedAt
	}
	if ts, ok := models.ParseTimeIn(raw, d.loc); ok {
		t.Timestamp = ts
	}
	return t, nil
}

// rawID accepts string and numeric ids.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
