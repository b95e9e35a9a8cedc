package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stofina-realtime/internal/clock"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/stomp"
	"stofina-realtime/internal/stomp/stomptest"
)

type statusRecorder struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *statusRecorder) record(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *statusRecorder) statuses() []models.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConnectionStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Current)
	}
	return out
}

func TestConnector_ConnectSendsConnectFrame(t *testing.T) {
	tr := &fakeTransport{}
	conn := newTestConnector(tr, clock.NewManual(time.Now()), 10)
	defer conn.Disconnect()

	require.NoError(t, conn.Connect(context.Background()))
	assert.True(t, conn.IsConnected())
	assert.Equal(t, 0, conn.Attempts())
	assert.NoError(t, conn.LastError())

	frames := tr.Last().Written(stomp.CommandConnect)
	require.Len(t, frames, 1)
	assert.Equal(t, "1.2", frames[0].Header.Get("accept-version"))
	assert.Equal(t, "4000,4000", frames[0].Header.Get("heart-beat"))
	assert.Equal(t, "localhost", frames[0].Header.Get("host"))
}

func TestConnector_ConnectFailureRecordsError(t *testing.T) {
	tr := &fakeTransport{failErr: errors.New("connection refused")}
	clk := clock.NewManual(time.Now())
	conn := newTestConnector(tr, clk, 10)

	rec := &statusRecorder{}
	conn.OnStatus(rec.record)

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnectionFailed)

	var connErr *apperrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, apperrors.KindConnection, connErr.Kind)
	assert.Equal(t, string(models.StreamMarketData), connErr.Stream)

	assert.Equal(t, models.StatusError, conn.Status())
	assert.Equal(t, err, conn.LastError())
	assert.True(t, conn.ReconnectPending())
	assert.Equal(t, 1, conn.Attempts())
	assert.Equal(t, []models.ConnectionStatus{models.StatusConnecting, models.StatusError}, rec.statuses())
}

func TestConnector_RetrySucceedsAndResetsAttempts(t *testing.T) {
	tr := &fakeTransport{failErr: errors.New("connection refused")}
	clk := clock.NewManual(time.Now())
	conn := newTestConnector(tr, clk, 10)
	defer conn.Disconnect()

	require.Error(t, conn.Connect(context.Background()))
	clk.Advance(2 * time.Second)
	assert.Equal(t, 2, conn.Attempts())

	tr.SetFail(nil)
	clk.Advance(2 * time.Second)

	assert.True(t, conn.IsConnected())
	assert.Equal(t, 0, conn.Attempts())
	assert.False(t, conn.ReconnectPending())
	assert.Equal(t, 3, tr.Dials())
}

func TestConnector_ReconnectDisabled(t *testing.T) {
	tr := &fakeTransport{failErr: errors.New("connection refused")}
	clk := clock.NewManual(time.Now())
	cfg := DefaultConnectorConfig(models.StreamTrades, "ws://localhost:9007/ws/trades")
	cfg.ReconnectEnabled = false
	conn := NewConnector(cfg, tr, WithClock(clk))

	require.Error(t, conn.Connect(context.Background()))
	assert.False(t, conn.ReconnectPending())
	assert.Equal(t, 0, clk.Pending())
}

func TestConnector_DisconnectCancelsRetry(t *testing.T) {
	tr := &fakeTransport{failErr: errors.New("connection refused")}
	clk := clock.NewManual(time.Now())
	conn := newTestConnector(tr, clk, 10)

	require.Error(t, conn.Connect(context.Background()))
	require.True(t, conn.ReconnectPending())

	require.NoError(t, conn.Disconnect())
	assert.Equal(t, models.StatusDisconnected, conn.Status())
	assert.False(t, conn.ReconnectPending())
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, 0, conn.Attempts())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, tr.Dials())
}

func TestConnector_DisconnectWhenIdleEmitsNothing(t *testing.T) {
	conn := newTestConnector(&fakeTransport{}, clock.NewManual(time.Now()), 10)
	rec := &statusRecorder{}
	conn.OnStatus(rec.record)

	require.NoError(t, conn.Disconnect())
	assert.Empty(t, rec.statuses())
}

func TestConnector_DisconnectSendsDisconnectFrame(t *testing.T) {
	tr := &fakeTransport{}
	conn := newTestConnector(tr, clock.NewManual(time.Now()), 10)
	require.NoError(t, conn.Connect(context.Background()))

	fc := tr.Last()
	require.NoError(t, conn.Disconnect())
	assert.Len(t, fc.Written(stomp.CommandDisconnect), 1)
}

func TestConnector_SessionDropSchedulesReconnect(t *testing.T) {
	tr := &fakeTransport{}
	clk := clock.NewManual(time.Now())
	conn := newTestConnector(tr, clk, 10)
	defer conn.Disconnect()

	require.NoError(t, conn.Connect(context.Background()))
	_, err := conn.Subscribe("/topic/market-data", func(Message) {})
	require.NoError(t, err)
	require.Equal(t, 1, conn.Subscriptions())

	tr.Last().Close()

	require.Eventually(t, func() bool {
		return conn.Status() == models.StatusDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, conn.Subscriptions())
	assert.True(t, conn.ReconnectPending())
	assert.Equal(t, 1, conn.Attempts())

	clk.Advance(2 * time.Second)
	assert.True(t, conn.IsConnected())
	assert.Equal(t, 0, conn.Attempts())
	assert.Equal(t, 2, tr.Dials())
}

func TestConnector_ErrorFrameMovesToError(t *testing.T) {
	tr := &fakeTransport{}
	clk := clock.NewManual(time.Now())
	conn := newTestConnector(tr, clk, 10)
	defer conn.Disconnect()

	rec := &statusRecorder{}
	conn.OnStatus(rec.record)

	require.NoError(t, conn.Connect(context.Background()))
	tr.Last().push(stomp.Error("session expired"))

	require.Eventually(t, func() bool {
		return conn.Status() == models.StatusError
	}, time.Second, 5*time.Millisecond)

	err := conn.LastError()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProtocol)
	assert.Contains(t, err.Error(), "session expired")
	assert.True(t, conn.ReconnectPending())
	assert.Equal(t,
		[]models.ConnectionStatus{models.StatusConnecting, models.StatusConnected, models.StatusError},
		rec.statuses())
}

func TestConnector_HandshakeRejected(t *testing.T) {
	tr := &fakeTransport{silent: true}
	clk := clock.NewManual(time.Now())
	conn := newTestConnector(tr, clk, 10)

	go func() {
		if stomptest.WaitFor(time.Second, func() bool { return tr.Last() != nil }) {
			tr.Last().push(stomp.Error("bad credentials"))
		}
	}()

	err := conn.Connect(context.Background())
	require.Error(t, err)

	var connErr *apperrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, apperrors.KindProtocol, connErr.Kind)
	assert.Contains(t, err.Error(), "bad credentials")
	conn.Disconnect()
}

func TestConnector_ConnectTimeout(t *testing.T) {
	tr := &fakeTransport{silent: true}
	cfg := DefaultConnectorConfig(models.StreamOrderBook, "ws://localhost:9006/ws/orderbook/websocket")
	cfg.ConnectionTimeout = 50 * time.Millisecond
	conn := NewConnector(cfg, tr, WithClock(clock.NewManual(time.Now())))
	defer conn.Disconnect()

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	var connErr *apperrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, apperrors.KindTimeout, connErr.Kind)
	assert.Equal(t, models.StatusError, conn.Status())
}

func TestConnector_NotConnected(t *testing.T) {
	conn := newTestConnector(&fakeTransport{}, clock.NewManual(time.Now()), 10)

	_, err := conn.Subscribe("/topic/trades/THYAO", func(Message) {})
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.False(t, conn.Send("/app/subscribe", map[string]string{"type": "SUBSCRIBE"}))
	assert.NoError(t, conn.Unsubscribe("sub-42"))
}

func TestConnector_DispatchBySubscription(t *testing.T) {
	tr := &fakeTransport{}
	conn := newTestConnector(tr, clock.NewManual(time.Unix(1700000000, 0)), 10)
	defer conn.Disconnect()
	require.NoError(t, conn.Connect(context.Background()))

	got := make(chan Message, 4)
	idA, err := conn.Subscribe("/topic/orderbook/THYAO", func(m Message) { got <- m })
	require.NoError(t, err)
	_, err = conn.Subscribe("/topic/orderbook/GARAN", func(Message) { t.Error("wrong subscription") })
	require.NoError(t, err)

	tr.Last().push(stomp.Message("/topic/orderbook/THYAO", idA, "m-1", []byte(`{"type":"ORDER_BOOK_UPDATE"}`)))
	tr.Last().push(stomp.Message("/topic/orderbook/THYAO", "sub-99", "m-2", []byte(`{}`)))

	select {
	case m := <-got:
		assert.Equal(t, "/topic/orderbook/THYAO", m.Destination)
		assert.Equal(t, idA, m.Subscription)
		assert.JSONEq(t, `{"type":"ORDER_BOOK_UPDATE"}`, string(m.Body))
		assert.Equal(t, time.Unix(1700000000, 0), m.ReceivedAt)
	case <-time.After(time.Second):
		t.Fatal("message not dispatched")
	}

	subs := tr.Last().Written(stomp.CommandSubscribe)
	require.Len(t, subs, 2)
	assert.Equal(t, "/topic/orderbook/THYAO", stomp.Destination(subs[0]))
}

func TestConnector_UnsubscribeAndSend(t *testing.T) {
	tr := &fakeTransport{}
	conn := newTestConnector(tr, clock.NewManual(time.Now()), 10)
	defer conn.Disconnect()
	require.NoError(t, conn.Connect(context.Background()))

	id, err := conn.Subscribe("/topic/market-data", func(Message) {})
	require.NoError(t, err)
	require.NoError(t, conn.Unsubscribe(id))
	assert.Equal(t, 0, conn.Subscriptions())

	unsubs := tr.Last().Written(stomp.CommandUnsubscribe)
	require.Len(t, unsubs, 1)
	assert.Equal(t, id, stomp.ID(unsubs[0]))

	require.True(t, conn.Send("/app/unsubscribe", map[string]interface{}{
		"type":    "UNSUBSCRIBE",
		"payload": []string{"THYAO"},
	}))
	sends := tr.Last().Written(stomp.CommandSend)
	require.Len(t, sends, 1)
	assert.Equal(t, "/app/unsubscribe", stomp.Destination(sends[0]))
	assert.Equal(t, stomp.ContentTypeJSON, sends[0].Header.Get("content-type"))
	assert.JSONEq(t, `{"type":"UNSUBSCRIBE","payload":["THYAO"]}`, string(sends[0].Body))
}

func TestConnector_WebSocketIntegration(t *testing.T) {
	srv := stomptest.NewServer()
	defer srv.Close()

	cfg := DefaultConnectorConfig(models.StreamMarketData, srv.URL())
	cfg.ReconnectDelay = 20 * time.Millisecond
	conn := NewConnector(cfg, NewWebSocketTransport(time.Second))
	defer conn.Disconnect()

	require.NoError(t, conn.Connect(context.Background()))

	got := make(chan Message, 1)
	_, err := conn.Subscribe("/topic/market-data", func(m Message) { got <- m })
	require.NoError(t, err)
	require.True(t, stomptest.WaitFor(time.Second, func() bool {
		return srv.Subscribers("/topic/market-data") == 1
	}))

	body := []byte(`{"type":"PRICE_UPDATE","symbol":"THYAO","price":180.3}`)
	assert.Equal(t, 1, srv.Publish("/topic/market-data", body))

	select {
	case m := <-got:
		assert.JSONEq(t, string(body), string(m.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.True(t, conn.Send("/app/subscribe", map[string]string{"type": "SUBSCRIBE"}))
	require.True(t, stomptest.WaitFor(time.Second, func() bool {
		return len(srv.Received("/app/subscribe")) == 1
	}))

	srv.DropAll()
	require.Eventually(t, func() bool {
		return conn.IsConnected() && srv.Clients() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, conn.Subscriptions())
}

func TestConnector_WebSocketRejected(t *testing.T) {
	srv := stomptest.NewServer()
	srv.RejectConnect = true
	defer srv.Close()

	cfg := DefaultConnectorConfig(models.StreamMarketData, srv.URL())
	cfg.ReconnectEnabled = false
	conn := NewConnector(cfg, NewWebSocketTransport(time.Second))

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProtocol)
	assert.Equal(t, models.StatusError, conn.Status())
}

func TestNormalizeURL(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected string
		wantErr  bool
	}{
		{name: "ws kept", raw: "ws://localhost:9005/ws/websocket", expected: "ws://localhost:9005/ws/websocket"},
		{name: "wss kept", raw: "wss://md.example.com/stream", expected: "wss://md.example.com/stream"},
		{name: "sockjs market data", raw: "http://localhost:9005/ws", expected: "ws://localhost:9005/ws/websocket"},
		{name: "sockjs order book", raw: "http://localhost:9006/ws/orderbook", expected: "ws://localhost:9006/ws/orderbook/websocket"},
		{name: "sockjs trailing slash", raw: "https://md.example.com/ws/trades/", expected: "wss://md.example.com/ws/trades/websocket"},
		{name: "sockjs already transport", raw: "http://localhost:9005/ws/websocket", expected: "ws://localhost:9005/ws/websocket"},
		{name: "unsupported scheme", raw: "ftp://localhost/ws", wantErr: true},
		{name: "missing host", raw: "ws:///ws", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				assert.False(t, IsValidWebSocketURL(tc.raw))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
