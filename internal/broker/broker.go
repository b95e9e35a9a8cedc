// Package broker provides the backend integrations: STOMP stream sessions and the
// order and market REST clients.
package broker

import (
	"context"
	"time"

	"stofina-realtime/internal/models"
)

// OrderGateway defines the order service operations used by the submission pipeline.
type OrderGateway interface {
	Validate(ctx context.Context, req models.OrderRequest) (*models.ValidationResponse, error)
	Submit(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error)
	List(ctx context.Context, accountID string) ([]models.Order, error)
	Cancel(ctx context.Context, orderID string) error
}

// SymbolSource provides the REST market snapshot.
type SymbolSource interface {
	Symbols(ctx context.Context) ([]models.StockInfo, error)
}

// Message is a MESSAGE frame delivered to a subscription handler.
type Message struct {
	Destination  string
	Subscription string
	Body         []byte
	ReceivedAt   time.Time
}

// StatusEvent is emitted on every connector status transition.
type StatusEvent struct {
	Stream   models.StreamKind
	Previous models.ConnectionStatus
	Current  models.ConnectionStatus
	Attempt  int
	Err      error
	At       time.Time
}

// TokenSource supplies the bearer token for REST calls.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource backed by a fixed value.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token() string {
	return string(t)
}
