// Package trading gates order forms against business rules and live market state and
// submits them to the order service.
package trading

import (
	"math"
	"strconv"
	"strings"
	"time"

	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
)

// OrderForm is the editable state of an order ticket. Side and price type are only
// reachable through SetSide and SetPriceType so a BUY+stop form cannot be built.
type OrderForm struct {
	AccountID     string
	Symbol        string
	Quantity      string
	LimitPrice    string
	IsScheduled   bool
	ScheduledTime time.Time

	side      models.Side
	priceType models.PriceType
}

// NewOrderForm creates a BUY market form.
func NewOrderForm(accountID, symbol string) *OrderForm {
	return &OrderForm{
		AccountID: accountID,
		Symbol:    symbol,
		side:      models.SideBuy,
		priceType: models.PriceMarket,
	}
}

// Side returns the order side.
func (f *OrderForm) Side() models.Side {
	if f.side == "" {
		return models.SideBuy
	}
	return f.side
}

// PriceType returns the pricing mode.
func (f *OrderForm) PriceType() models.PriceType {
	if f.priceType == "" {
		return models.PriceMarket
	}
	return f.priceType
}

// SetSide changes the side. Switching to BUY turns a stop form back into a market form.
func (f *OrderForm) SetSide(side models.Side) error {
	switch side {
	case models.SideBuy:
		if f.priceType == models.PriceStop {
			f.priceType = models.PriceMarket
		}
	case models.SideSell:
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidOrder, "unknown side %q", side)
	}
	f.side = side
	return nil
}

// SetPriceType changes the pricing mode. Stop is only offered on the SELL side.
func (f *OrderForm) SetPriceType(pt models.PriceType) error {
	switch pt {
	case models.PriceMarket, models.PriceLimit:
	case models.PriceStop:
		if f.Side() == models.SideBuy {
			return apperrors.Wrap(apperrors.ErrUnsupportedOrderType, "stop orders are sell-only")
		}
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidOrder, "unknown price type %q", pt)
	}
	f.priceType = pt
	return nil
}

// SetSymbol switches the traded symbol and clears the amounts entered for the old one.
func (f *OrderForm) SetSymbol(symbol string) {
	if strings.EqualFold(strings.TrimSpace(symbol), strings.TrimSpace(f.Symbol)) {
		return
	}
	f.Symbol = symbol
	f.Quantity = ""
	f.LimitPrice = ""
}

// Schedule marks the order for execution at t.
func (f *OrderForm) Schedule(t time.Time) {
	f.IsScheduled = true
	f.ScheduledTime = t
}

// Reset clears quantity, price and schedule after a successful submission. Account,
// symbol, side and price type are kept.
func (f *OrderForm) Reset() {
	f.Quantity = ""
	f.LimitPrice = ""
	f.IsScheduled = false
	f.ScheduledTime = time.Time{}
}

// ParsedQuantity returns the quantity when it is a positive finite number.
func (f *OrderForm) ParsedQuantity() (float64, bool) {
	return parsePositive(f.Quantity)
}

// ParsedPrice returns the limit or stop price when it is a positive finite number.
func (f *OrderForm) ParsedPrice() (float64, bool) {
	return parsePositive(f.LimitPrice)
}

func parsePositive(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}
