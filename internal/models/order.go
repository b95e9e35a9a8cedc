package models

// Side represents the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceType is the pricing mode chosen on the order form.
type PriceType string

const (
	PriceMarket PriceType = "market"
	PriceLimit  PriceType = "limit"
	PriceStop   PriceType = "stop"
)

// OrderType is the backend order-type enumeration.
type OrderType string

const (
	OrderMarketBuy    OrderType = "MARKET_BUY"
	OrderLimitBuy     OrderType = "LIMIT_BUY"
	OrderMarketSell   OrderType = "MARKET_SELL"
	OrderLimitSell    OrderType = "LIMIT_SELL"
	OrderStopLossSell OrderType = "STOP_LOSS_SELL"
)

// OrderRequest is the body of POST /api/v1/orders and /api/v1/orders/validate.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	OrderType     OrderType `json:"orderType"`
	Quantity      float64   `json:"quantity"`
	Price         *float64  `json:"price,omitempty"`
	StopPrice     *float64  `json:"stopPrice,omitempty"`
	AccountID     string    `json:"accountId"`
	TenantID      int64     `json:"tenantId"`
	IsScheduled   bool      `json:"isScheduled,omitempty"`
	ScheduledTime string    `json:"scheduledTime,omitempty"`
	ClientOrderID string    `json:"clientOrderId,omitempty"`
}

// OrderResponse is returned by the order service after a successful submission.
type OrderResponse struct {
	OrderID       string    `json:"orderId"`
	ClientOrderID string    `json:"clientOrderId,omitempty"`
	Symbol        string    `json:"symbol"`
	OrderType     OrderType `json:"orderType"`
	Status        string    `json:"status"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     Timestamp `json:"createdAt,omitempty"`
}

// Order is a row of GET /api/v1/orders.
type Order struct {
	OrderID        string    `json:"orderId"`
	AccountID      string    `json:"accountId"`
	Symbol         string    `json:"symbol"`
	OrderType      OrderType `json:"orderType"`
	Status         string    `json:"status"`
	Quantity       float64   `json:"quantity"`
	FilledQuantity float64   `json:"filledQuantity"`
	Price          float64   `json:"price"`
	StopPrice      float64   `json:"stopPrice,omitempty"`
	ScheduledTime  string    `json:"scheduledTime,omitempty"`
	CreatedAt      Timestamp `json:"createdAt"`
}

// ValidationResponse is the body of POST /api/v1/orders/validate.
type ValidationResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}
