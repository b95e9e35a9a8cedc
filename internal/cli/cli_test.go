package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/config"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/stomp/stomptest"
	"stofina-realtime/internal/stream"
)

// Monday 2025-03-03 10:00 in Istanbul
var testNow = time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	submitted []models.OrderRequest
	cancelled []string
	orders    []models.Order
	cancelErr error
}

func (g *fakeGateway) Validate(ctx context.Context, req models.OrderRequest) (*models.ValidationResponse, error) {
	return &models.ValidationResponse{Valid: true}, nil
}

func (g *fakeGateway) Submit(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, req)
	return &models.OrderResponse{OrderID: "9001", Symbol: req.Symbol, OrderType: req.OrderType, Status: "PENDING"}, nil
}

func (g *fakeGateway) List(ctx context.Context, accountID string) ([]models.Order, error) {
	return g.orders, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderID)
	return g.cancelErr
}

type staticSymbols []models.StockInfo

func (s staticSymbols) Symbols(ctx context.Context) ([]models.StockInfo, error) {
	return s, nil
}

func newTestApp(t *testing.T) (*App, *fakeGateway) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Security.JournalPath = filepath.Join(dir, "journal.db")
	cfg.Security.AuditDir = filepath.Join(dir, "audit")
	cfg.Orders.DefaultAccount = "acc-1"
	cfg.Streams.ReconnectDelay = 20 * time.Millisecond
	cfg.Streams.HeartbeatOutgoing = 0
	cfg.Streams.HeartbeatIncoming = 0

	gw := &fakeGateway{}
	return &App{
		Config:  cfg,
		Logger:  zerolog.Nop(),
		Gateway: gw,
		Symbols: staticSymbols{},
	}, gw
}

func runCLI(app *App, args ...string) (string, error) {
	cmd := newRootCmd(app)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := runCLI(app, "version", "--json")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, Version, got["version"])

	out, err = runCLI(app, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stofina v"+Version)
}

func TestConfigCmds(t *testing.T) {
	app, _ := newTestApp(t)
	app.Config.Credentials.Token = "abcd1234efgh5678"

	out, err := runCLI(app, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	out, err = runCLI(app, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "ws://localhost:9005/ws/websocket")
	assert.Contains(t, out, "abcd********5678")
	assert.NotContains(t, out, "abcd1234efgh5678")
	assert.Equal(t, "abcd1234efgh5678", app.Config.Credentials.Token, "show must not modify the loaded config")

	app.Config.Orders.MarketOpen = "19:00"
	_, err = runCLI(app, "config", "validate")
	assert.Error(t, err)
}

func TestConfigFlagLoadsDirectory(t *testing.T) {
	app, _ := newTestApp(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[orders]\ndefault_account = \"acc-77\"\n"), 0600))

	out, err := runCLI(app, "config", "show", "--json", "--config", dir)
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "acc-77", got.Orders.DefaultAccount)

	out, err = runCLI(app, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, dir, strings.TrimSpace(out))
}

func TestMarketNextOpen(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"during session", testNow, "2025-03-03 10:05:00"},
		{"friday evening", time.Date(2025, 3, 7, 16, 0, 0, 0, time.UTC), "2025-03-10 09:30:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app.Clock = clock.NewManual(tt.now)
			out, err := runCLI(app, "market", "next-open", "--json")
			require.NoError(t, err)

			var got map[string]string
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.want, got["next"])
			assert.Equal(t, "Europe/Istanbul", got["timezone"])
		})
	}
}

func TestMarketSymbols(t *testing.T) {
	app, _ := newTestApp(t)
	app.Symbols = nil

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/market/symbols", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"symbol":"THYAO","companyName":"Türk Hava Yolları","currentPrice":180.3,"change":1.2},{"symbol":"GARAN","companyName":"Garanti BBVA","currentPrice":120,"change":-0.5}]`))
	}))
	defer api.Close()
	app.Config.API.MarketBaseURL = api.URL

	out, err := runCLI(app, "market", "symbols")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "GARAN"), strings.Index(out, "THYAO"), "rows are sorted by symbol")
	assert.Contains(t, out, "180.30")
	assert.Contains(t, out, "Garanti BBVA")
}

func TestOrderCmd_LimitDryRun(t *testing.T) {
	app, gw := newTestApp(t)

	out, err := runCLI(app, "order", "buy", "thyao", "10", "--type", "limit", "--price", "179.5", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Order Preview")
	assert.Contains(t, out, "LIMIT_BUY")
	assert.Contains(t, out, "₺179,50")
	assert.Contains(t, out, "₺1.795,00")
	assert.Contains(t, out, "Dry run")
	assert.Empty(t, gw.submitted)
}

func TestOrderCmd_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
		wantOut string
	}{
		{
			name:    "stop is sell only",
			args:    []string{"order", "buy", "THYAO", "10", "--type", "stop", "--price", "170"},
			wantErr: apperrors.ErrUnsupportedOrderType,
		},
		{
			name:    "fractional quantity",
			args:    []string{"order", "sell", "THYAO", "1.5", "--type", "limit", "--price", "170"},
			wantErr: apperrors.ErrInputValidation,
		},
		{
			name:    "malformed symbol",
			args:    []string{"order", "sell", "THY-AO", "1", "--type", "limit", "--price", "170"},
			wantErr: apperrors.ErrInputValidation,
		},
		{
			name:    "limit without price",
			args:    []string{"order", "sell", "THYAO", "5", "--type", "limit"},
			wantOut: "INVALID_PRICE",
		},
		{
			name:    "schedule on a weekend",
			args:    []string{"order", "sell", "THYAO", "5", "--type", "limit", "--price", "170", "--at", "2025-03-08 11:00"},
			wantOut: "weekdays",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, gw := newTestApp(t)
			app.Clock = clock.NewManual(testNow)

			out, err := runCLI(app, tt.args...)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out, tt.wantOut)
			}
			assert.Empty(t, gw.submitted)
		})
	}
}

func TestOrderCmd_ScheduledLimitSubmitsAndJournals(t *testing.T) {
	app, gw := newTestApp(t)
	app.Clock = clock.NewManual(testNow)

	out, err := runCLI(app, "order", "sell", "GARAN", "100", "--type", "limit", "--price", "121", "--at", "2025-03-04 10:30")
	require.NoError(t, err)
	assert.Contains(t, out, "Order placed")
	assert.Contains(t, out, "9001")

	require.Len(t, gw.submitted, 1)
	req := gw.submitted[0]
	assert.Equal(t, models.OrderLimitSell, req.OrderType)
	assert.True(t, req.IsScheduled)
	assert.Equal(t, "2025-03-04 10:30:00", req.ScheduledTime)
	assert.Equal(t, "acc-1", req.AccountID)

	out, err = runCLI(app, "journal", "orders", "--json")
	require.NoError(t, err)
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "GARAN", records[0]["Symbol"])
	assert.Equal(t, "PENDING", records[0]["Status"])

	lines, err := os.ReadFile(filepath.Join(app.Config.Security.AuditDir, "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(lines), `"event_type":"ORDER_SUBMITTED"`)
}

func TestOrderCmd_MarketOrderUsesLiveQuote(t *testing.T) {
	srv := stomptest.NewServer()
	defer srv.Close()

	app, gw := newTestApp(t)
	app.Config.Streams.MarketDataURL = srv.URL()

	go func() {
		if stomptest.WaitFor(5*time.Second, func() bool { return srv.Subscribers(stream.TopicMarketData) == 1 }) {
			srv.Publish(stream.TopicMarketData, []byte(`{"type":"PRICE_UPDATE","symbol":"THYAO","price":180.3,"changeAmount":1.2,"changePercent":0.67}`))
		}
	}()

	out, err := runCLI(app, "order", "buy", "THYAO", "10", "--json")
	require.NoError(t, err, out)

	var got submitOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Success)
	assert.Equal(t, []string{"account", "symbol", "quantity", "price_available", "market_data", "price_freshness"}, got.ChecksPassed)

	require.Len(t, gw.submitted, 1)
	req := gw.submitted[0]
	assert.Equal(t, models.OrderMarketBuy, req.OrderType)
	require.NotNil(t, req.Price)
	assert.Equal(t, 180.3, *req.Price)
}

func TestOrderCmd_MarketOrderWithoutStream(t *testing.T) {
	app, gw := newTestApp(t)
	app.Config.Streams.MarketDataURL = "ws://127.0.0.1:1/ws"
	app.Config.Streams.ReconnectEnabled = false
	app.Symbols = staticSymbols{{Symbol: "THYAO", CurrentPrice: 179}}

	out, err := runCLI(app, "order", "buy", "THYAO", "10", "--wait", "10ms", "--json")
	require.Error(t, err)

	var got submitOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.Success)
	assert.Equal(t, "MARKET_DATA_DISCONNECTED", got.ErrorCode)
	assert.Equal(t, []string{"account", "symbol", "quantity", "price_available"}, got.ChecksPassed)
	assert.Empty(t, gw.submitted)
}

func TestOrdersCmds(t *testing.T) {
	app, gw := newTestApp(t)
	gw.orders = []models.Order{
		{OrderID: "501", AccountID: "acc-1", Symbol: "THYAO", OrderType: models.OrderLimitBuy, Status: "FILLED", Quantity: 10, FilledQuantity: 10, Price: 180},
		{OrderID: "502", AccountID: "acc-1", Symbol: "GARAN", OrderType: models.OrderStopLossSell, Status: "PENDING", Quantity: 5, StopPrice: 115},
	}

	out, err := runCLI(app, "orders", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2 orders")
	assert.Contains(t, out, "501")
	assert.Contains(t, out, "stop 115.00")

	out, err = runCLI(app, "orders", "cancel", "502")
	require.NoError(t, err)
	assert.Contains(t, out, "Order 502 cancelled")
	assert.Equal(t, []string{"502"}, gw.cancelled)

	gw.cancelErr = apperrors.NewAPIError(http.StatusForbidden, "", "forbidden")
	out, err = runCLI(app, "orders", "cancel", "503")
	require.Error(t, err)
	assert.Contains(t, out, "FORBIDDEN")

	_, err = runCLI(app, "orders", "cancel", "../etc")
	assert.ErrorIs(t, err, apperrors.ErrInputValidation)
}

func TestStreamPricesCmd(t *testing.T) {
	srv := stomptest.NewServer()
	defer srv.Close()

	app, _ := newTestApp(t)
	app.Config.Streams.MarketDataURL = srv.URL()

	go func() {
		if stomptest.WaitFor(5*time.Second, func() bool { return srv.Subscribers(stream.TopicMarketData) == 1 }) {
			srv.Publish(stream.TopicMarketData, []byte(`{"type":"MARKET_DATA_UPDATE","payload":{"type":"SYMBOL_LIST","data":[{"symbol":"THYAO","price":180.3,"change":1.2,"changePercent":0.67,"volume":1500}]}}`))
		}
	}()

	out, err := runCLI(app, "stream", "prices", "THYAO", "--duration", "500ms")
	require.NoError(t, err)
	assert.Contains(t, out, "CONNECTED")
	assert.Contains(t, out, "THYAO")
	assert.Contains(t, out, "180.30")
	assert.Contains(t, out, "+1.20 (+0.67%)")

	lines, err := os.ReadFile(filepath.Join(app.Config.Security.AuditDir, "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(lines), `"event_type":"STREAM_STATUS"`)
}

func TestStreamTradesCmdJournals(t *testing.T) {
	srv := stomptest.NewServer()
	defer srv.Close()

	app, _ := newTestApp(t)
	app.Config.Streams.TradesURL = srv.URL()

	go func() {
		topic := stream.TopicTradesPrefix + "GARAN"
		if stomptest.WaitFor(5*time.Second, func() bool { return srv.Subscribers(topic) == 1 }) {
			srv.Publish(topic, []byte(`{"type":"TRADE_EXECUTED","payload":{"trade":{"id":11,"symbol":"GARAN","price":120.5,"quantity":300}}}`))
		}
	}()

	out, err := runCLI(app, "stream", "trades", "garan", "--duration", "500ms")
	require.NoError(t, err)
	assert.Contains(t, out, "GARAN")
	assert.Contains(t, out, "120.50")
	assert.Contains(t, out, "VWAP 120.50")

	out, err = runCLI(app, "journal", "trades", "GARAN")
	require.NoError(t, err)
	assert.Contains(t, out, "1 trades")
	assert.Contains(t, out, "₺36.150,00")
}

func TestOutput_StatusAndSides(t *testing.T) {
	o := &Output{writer: &bytes.Buffer{}}
	assert.Equal(t, "● CONNECTED", o.ConnectionStatus(models.StatusConnected))
	assert.Equal(t, "SELL", o.Side(models.SideSell))
	assert.Equal(t, "FILLED", o.OrderStatus("FILLED"))

	colored := &Output{writer: &bytes.Buffer{}, colorEnabled: true}
	assert.NotEqual(t, "BUY", colored.Side(models.SideBuy))
	assert.Equal(t, "BUY", stripANSI(colored.Side(models.SideBuy)))
	assert.Equal(t, 3, visibleLen(colored.Red("₺10")))
}

func TestTable_AlignsColouredCells(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf, colorEnabled: true}
	table := NewTable(o, "Side", "Qty")
	table.AddRow(o.Side(models.SideBuy), "10")
	table.AddRow(o.Side(models.SideSell), "5")
	table.Render()

	lines := strings.Split(strings.TrimSpace(stripANSI(buf.String())), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Side  Qty", lines[0])
	assert.Equal(t, "BUY   10", lines[2])
	assert.Equal(t, "SELL  5", lines[3])
}

func TestStatusCmd(t *testing.T) {
	srv := stomptest.NewServer()
	defer srv.Close()

	app, gw := newTestApp(t)
	app.Config.Streams.MarketDataURL = srv.URL()
	gw.orders = []models.Order{{OrderID: "1", Symbol: "THYAO", Status: "PENDING"}}

	out, err := runCLI(app, "status", "--streams", "market-data", "--wait", "3s", "--json")
	require.NoError(t, err)

	var report struct {
		Status     string `json:"status"`
		Components []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "HEALTHY", report.Status)
	require.Len(t, report.Components, 3)
	assert.Equal(t, "journal", report.Components[0].Name)
	assert.Equal(t, "market-data", report.Components[1].Name)
	assert.Equal(t, "order-api", report.Components[2].Name)
	assert.Equal(t, "reachable, 1 orders listed", report.Components[2].Message)

	out, err = runCLI(app, "status", "--streams", "market-data", "--wait", "3s")
	require.NoError(t, err)
	assert.Contains(t, out, "Overall: ● HEALTHY")
}
