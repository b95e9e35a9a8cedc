package trading

import (
	"context"
	"sync"
	"time"

	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/store"
)

// Monday 2025-03-03 10:00 in Istanbul
var testNow = time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC)

type connState bool

func (c connState) IsConnected() bool { return bool(c) }

type priceMap map[string]models.PriceQuote

func (p priceMap) Resolve(symbol string) (models.PriceQuote, store.Source, bool) {
	q, ok := p[store.NormalizeSymbol(symbol)]
	if !ok {
		return models.PriceQuote{}, store.SourceNone, false
	}
	return q, store.SourceRealtime, true
}

type fakeGateway struct {
	mu sync.Mutex

	validateResp *models.ValidationResponse
	validateErr  error
	submitResp   *models.OrderResponse
	submitErr    error
	cancelErr    error

	// when set, Submit blocks until it is closed
	release chan struct{}
	entered chan struct{}

	validated []models.OrderRequest
	submitted []models.OrderRequest
	cancelled []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		validateResp: &models.ValidationResponse{Valid: true},
		submitResp:   &models.OrderResponse{OrderID: "1001", Status: "PENDING"},
	}
}

func (g *fakeGateway) Validate(ctx context.Context, req models.OrderRequest) (*models.ValidationResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validated = append(g.validated, req)
	return g.validateResp, g.validateErr
}

func (g *fakeGateway) Submit(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	g.mu.Lock()
	g.submitted = append(g.submitted, req)
	release, entered := g.release, g.entered
	resp, err := g.submitResp, g.submitErr
	g.mu.Unlock()

	if release != nil {
		close(entered)
		<-release
	}
	return resp, err
}

func (g *fakeGateway) List(ctx context.Context, accountID string) ([]models.Order, error) {
	return nil, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderID)
	return g.cancelErr
}

func (g *fakeGateway) submittedRequests() []models.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OrderRequest(nil), g.submitted...)
}

func newTestValidator(prices PriceSource, connected bool) (*Validator, *clock.Manual) {
	clk := clock.NewManual(testNow)
	return NewValidator(ValidatorConfig{
		Prices:     prices,
		MarketData: connState(connected),
		Clock:      clk,
	}), clk
}

func freshQuote(symbol string, price float64, age time.Duration) models.PriceQuote {
	return models.PriceQuote{Symbol: symbol, Price: price, LastUpdated: testNow.Add(-age)}
}
