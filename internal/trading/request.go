package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stofina-realtime/internal/clock"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/store"
)

// RequestBuilder turns a validated form into an order service request.
type RequestBuilder struct {
	TenantID int64
	Schedule *ScheduleRules
	Clock    clock.Clock
}

// BuildRequest builds the request for form. Market orders are priced from quote, limit
// orders from the entered price; stop orders carry the entered price as StopPrice only.
func (b RequestBuilder) BuildRequest(form *OrderForm, quote models.PriceQuote) (models.OrderRequest, error) {
	orderType, err := MapOrderType(form.Side(), form.PriceType())
	if err != nil {
		return models.OrderRequest{}, err
	}
	qty, ok := form.ParsedQuantity()
	if !ok {
		return models.OrderRequest{}, apperrors.Wrapf(apperrors.ErrInvalidOrder, "quantity %q", form.Quantity)
	}

	req := models.OrderRequest{
		Symbol:        store.NormalizeSymbol(form.Symbol),
		OrderType:     orderType,
		Quantity:      qty,
		AccountID:     strings.TrimSpace(form.AccountID),
		TenantID:      b.TenantID,
		ClientOrderID: b.clientOrderID(),
	}
	if req.TenantID == 0 {
		req.TenantID = 1
	}

	switch form.PriceType() {
	case models.PriceMarket:
		if quote.Price <= 0 {
			return models.OrderRequest{}, apperrors.Wrapf(apperrors.ErrInvalidOrder, "no market price for %s", req.Symbol)
		}
		price := quote.Price
		req.Price = &price
	case models.PriceLimit, models.PriceStop:
		price, ok := form.ParsedPrice()
		if !ok {
			return models.OrderRequest{}, apperrors.Wrapf(apperrors.ErrInvalidOrder, "price %q", form.LimitPrice)
		}
		if form.PriceType() == models.PriceLimit {
			req.Price = &price
		} else {
			req.StopPrice = &price
		}
	}

	if form.IsScheduled {
		rules := b.Schedule
		if rules == nil {
			rules = DefaultScheduleRules()
		}
		req.IsScheduled = true
		req.ScheduledTime = rules.FormatForAPI(form.ScheduledTime)
	}
	return req, nil
}

func (b RequestBuilder) now() time.Time {
	if b.Clock == nil {
		return time.Now()
	}
	return b.Clock.Now()
}

// clientOrderID returns ORD-<epoch ms>-<8 hex chars>.
func (b RequestBuilder) clientOrderID() string {
	return fmt.Sprintf("ORD-%d-%s", b.now().UnixMilli(), uuid.NewString()[:8])
}
