package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stofina-realtime/internal/models"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_Orders(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordOrder(ctx, OrderRecord{
		ClientOrderID: "ORD-1", OrderID: "1001", AccountID: "ACC-1", Symbol: "THYAO",
		OrderType: models.OrderLimitBuy, Quantity: 100, Price: 180.5, Status: "SUBMITTED", CreatedAt: base,
	}))
	require.NoError(t, j.RecordOrder(ctx, OrderRecord{
		ClientOrderID: "ORD-2", AccountID: "ACC-1", Symbol: "GARAN",
		OrderType: models.OrderMarketSell, Quantity: 5, Status: "REJECTED",
		ErrorCode: "INSUFFICIENT_BALANCE", Message: "not enough", CreatedAt: base.Add(time.Minute),
	}))

	orders, err := j.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "ORD-2", orders[0].ClientOrderID)
	assert.Equal(t, "INSUFFICIENT_BALANCE", orders[0].ErrorCode)
	assert.Empty(t, orders[0].OrderID)
	assert.Equal(t, models.OrderLimitBuy, orders[1].OrderType)
	assert.Equal(t, 180.5, orders[1].Price)

	orders, err = j.RecentOrders(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestJournal_TradesIgnoreReplays(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	trade := models.TradeEvent{ID: "77", Symbol: "thyao", Price: 180.1, Quantity: 40, Side: models.SideBuy, Timestamp: at}
	require.NoError(t, j.RecordTrade(ctx, trade))
	require.NoError(t, j.RecordTrade(ctx, trade))
	require.NoError(t, j.RecordTrade(ctx, models.TradeEvent{ID: "78", Symbol: "THYAO", Price: 180.2, Quantity: 1, Timestamp: at.Add(time.Second)}))

	trades, err := j.RecentTrades(ctx, "THYAO", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "78", trades[0].ID)
	assert.Equal(t, models.SideBuy, trades[1].Side)
	assert.Equal(t, int64(40), trades[1].Quantity)

	none, err := j.RecentTrades(ctx, "GARAN", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
