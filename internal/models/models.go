// Package models provides domain models for the realtime trading client.
package models

import (
	"time"
)

// ConnectionStatus is the observable state of a stream session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
	StatusConnecting   ConnectionStatus = "CONNECTING"
	StatusConnected    ConnectionStatus = "CONNECTED"
	StatusError        ConnectionStatus = "ERROR"
)

// IsConnected reports whether the status allows traffic.
func (s ConnectionStatus) IsConnected() bool {
	return s == StatusConnected
}

// StreamKind identifies one of the independent realtime streams.
type StreamKind string

const (
	StreamMarketData StreamKind = "market-data"
	StreamOrderBook  StreamKind = "order-book"
	StreamTrades     StreamKind = "trades"
)

// PriceQuote is the latest quote for a symbol.
// Staleness is derived from LastUpdated, never stored.
type PriceQuote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	Open          float64   `json:"open,omitempty"`
	High          float64   `json:"high,omitempty"`
	Low           float64   `json:"low,omitempty"`
	CompanyName   string    `json:"companyName,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// Age returns how old the quote is at now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.LastUpdated)
}

// BookSide selects the bid or ask side of an order book.
type BookSide string

const (
	BookBid BookSide = "bid"
	BookAsk BookSide = "ask"
)

// OrderBookLevel is one price level. Total is the cumulative quantity up to this level.
type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Total    int64   `json:"total"`
}

// OrderBook holds both sides for one symbol, best level first.
type OrderBook struct {
	Symbol     string           `json:"symbol"`
	Bids       []OrderBookLevel `json:"bids"`
	Asks       []OrderBookLevel `json:"asks"`
	LastUpdate time.Time        `json:"lastUpdate"`
}

// TradeEvent is an execution print. ID is informational only.
type TradeEvent struct {
	ID        string    `json:"id,omitempty"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  int64     `json:"quantity"`
	Side      Side      `json:"side,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StockInfo is a row of the REST market symbols snapshot.
type StockInfo struct {
	Symbol       string    `json:"symbol"`
	CompanyName  string    `json:"companyName"`
	CurrentPrice float64   `json:"currentPrice"`
	Change       float64   `json:"change"`
	LastUpdated  Timestamp `json:"lastUpdated"`
}

// ToQuote converts a REST snapshot row into a quote.
func (s StockInfo) ToQuote() PriceQuote {
	q := PriceQuote{
		Symbol:      s.Symbol,
		Price:       s.CurrentPrice,
		Change:      s.Change,
		CompanyName: s.CompanyName,
		LastUpdated: s.LastUpdated.Time,
	}
	if prev := s.CurrentPrice - s.Change; prev != 0 {
		q.ChangePercent = s.Change / prev * 100
	}
	return q
}
