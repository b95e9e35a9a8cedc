package trading

import (
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
)

var orderTypes = map[models.Side]map[models.PriceType]models.OrderType{
	models.SideBuy: {
		models.PriceMarket: models.OrderMarketBuy,
		models.PriceLimit:  models.OrderLimitBuy,
	},
	models.SideSell: {
		models.PriceMarket: models.OrderMarketSell,
		models.PriceLimit:  models.OrderLimitSell,
		models.PriceStop:   models.OrderStopLossSell,
	},
}

// MapOrderType maps a side and price type onto the backend order type.
// BUY+stop has no backend equivalent.
func MapOrderType(side models.Side, pt models.PriceType) (models.OrderType, error) {
	if ot, ok := orderTypes[side][pt]; ok {
		return ot, nil
	}
	return "", apperrors.Wrapf(apperrors.ErrUnsupportedOrderType, "%s %s", side, pt)
}
