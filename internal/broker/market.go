package broker

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/pkg/utils"
)

const symbolsPath = "/api/v1/market/symbols"

// MarketClient reads the REST market snapshot.
type MarketClient struct {
	rest  *restClient
	retry utils.RetryConfig
}

var _ SymbolSource = (*MarketClient)(nil)

// NewMarketClient creates a market data REST client.
func NewMarketClient(cfg RESTConfig, logger zerolog.Logger) *MarketClient {
	retry := utils.DefaultRetryConfig()
	retry.Retryable = func(err error) bool {
		var apiErr *apperrors.APIError
		if apperrors.As(err, &apiErr) {
			return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
		}
		return true
	}
	return &MarketClient{
		rest:  newRESTClient(cfg, logger.With().Str("component", "market-api").Logger()),
		retry: retry,
	}
}

// Symbols fetches every listed symbol with its last price. Symbols are uppercased.
func (c *MarketClient) Symbols(ctx context.Context) ([]models.StockInfo, error) {
	infos, err := utils.RetryWithResult(ctx, c.retry, func() ([]models.StockInfo, error) {
		var out []models.StockInfo
		if err := c.rest.do(ctx, http.MethodGet, symbolsPath, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].Symbol = strings.ToUpper(strings.TrimSpace(infos[i].Symbol))
	}
	return infos, nil
}
