package broker

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/resilience"
)

const ordersPath = "/api/v1/orders"

// OrderClient talks to the order service. Calls run through a circuit breaker that only
// counts transport failures and 5xx responses against the service.
type OrderClient struct {
	rest    *restClient
	breaker *resilience.CircuitBreaker
}

var _ OrderGateway = (*OrderClient)(nil)

// NewOrderClient creates an order service client.
func NewOrderClient(cfg RESTConfig, logger zerolog.Logger) *OrderClient {
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	cbCfg.IsFailure = isServiceFailure
	return &OrderClient{
		rest:    newRESTClient(cfg, logger.With().Str("component", "order-api").Logger()),
		breaker: resilience.NewCircuitBreaker("order-api", cbCfg),
	}
}

// Breaker exposes the circuit breaker for status reporting.
func (c *OrderClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Validate asks the service to pre-validate an order without placing it.
func (c *OrderClient) Validate(ctx context.Context, req models.OrderRequest) (*models.ValidationResponse, error) {
	return resilience.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) (*models.ValidationResponse, error) {
		var out models.ValidationResponse
		if err := c.rest.do(ctx, http.MethodPost, ordersPath+"/validate", req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// Submit places an order.
func (c *OrderClient) Submit(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	return resilience.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) (*models.OrderResponse, error) {
		var out models.OrderResponse
		if err := c.rest.do(ctx, http.MethodPost, ordersPath, req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// List returns the orders of an account. An empty accountID lists every visible order.
func (c *OrderClient) List(ctx context.Context, accountID string) ([]models.Order, error) {
	path := ordersPath
	if accountID != "" {
		path += "?accountId=" + url.QueryEscape(accountID)
	}
	return resilience.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) ([]models.Order, error) {
		var out []models.Order
		if err := c.rest.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// Cancel cancels an open order.
func (c *OrderClient) Cancel(ctx context.Context, orderID string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.rest.do(ctx, http.MethodDelete, ordersPath+"/"+url.PathEscape(orderID), nil, nil)
	})
}

// isServiceFailure separates outages from business rejections.
func isServiceFailure(err error) bool {
	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}
