package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stofina-realtime/internal/clock"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/logging"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/stomp"
)

// ConnectorConfig holds configuration for a stream session.
type ConnectorConfig struct {
	Stream               models.StreamKind
	URL                  string
	Header               http.Header
	ReconnectEnabled     bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ConnectionTimeout    time.Duration
	HeartBeat            stomp.HeartBeat
}

// DefaultConnectorConfig returns the stock settings for a stream endpoint.
func DefaultConnectorConfig(stream models.StreamKind, rawURL string) ConnectorConfig {
	return ConnectorConfig{
		Stream:               stream,
		URL:                  rawURL,
		ReconnectEnabled:     true,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 10,
		ConnectionTimeout:    10 * time.Second,
		HeartBeat:            stomp.HeartBeat{Outgoing: 4 * time.Second, Incoming: 4 * time.Second},
	}
}

// Option configures a Connector.
type Option func(*Connector)

// WithClock injects the clock used for reconnect timers and timestamps.
func WithClock(c clock.Clock) Option {
	return func(conn *Connector) {
		conn.clock = c
	}
}

// WithLogger sets the connector logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(conn *Connector) {
		conn.logger = logger
	}
}

type subscription struct {
	id          string
	destination string
	handler     func(Message)
}

// Connector maintains one STOMP session for one stream over a Transport.
//
// Transport failures never escape as panics; they move the connector to DISCONNECTED or
// ERROR and, when enabled, schedule a fixed-delay reconnect up to MaxReconnectAttempts.
type Connector struct {
	cfg       ConnectorConfig
	transport Transport
	clock     clock.Clock
	logger    zerolog.Logger

	// State
	status   models.ConnectionStatus
	attempts int
	lastErr  error
	conn     Conn
	session  uint64 // bumped by every Connect and Disconnect; stale goroutines compare it
	timer    clock.Timer
	hbStop   chan struct{}

	subs    map[string]*subscription
	nextSub int

	listeners []func(StatusEvent)

	mu      sync.Mutex
	writeMu sync.Mutex // serializes frames on the socket
}

// NewConnector creates a connector in the DISCONNECTED state.
func NewConnector(cfg ConnectorConfig, transport Transport, opts ...Option) *Connector {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}

	c := &Connector{
		cfg:       cfg,
		transport: transport,
		clock:     clock.New(),
		logger:    zerolog.Nop(),
		status:    models.StatusDisconnected,
		subs:      make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithStream(c.logger, string(cfg.Stream))
	return c
}

// Connect opens the session. It is a no-op while CONNECTED or CONNECTING.
// A failure is returned and also recorded in Status and LastError.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == models.StatusConnected || c.status == models.StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.session++
	session := c.session
	ev := c.setStatusLocked(models.StatusConnecting, nil)
	c.mu.Unlock()
	c.emit(ev)

	conn, hb, err := c.handshake(ctx)

	c.mu.Lock()
	if session != c.session {
		// Disconnect won the race.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return apperrors.Wrap(apperrors.ErrNotConnected, "connect cancelled")
	}
	if err != nil {
		c.lastErr = err
		ev := c.setStatusLocked(models.StatusError, err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Warn().Err(err).Int("attempt", ev.Attempt).Msg("Connect failed")
		c.emit(ev)
		return err
	}

	c.conn = conn
	c.attempts = 0
	c.lastErr = nil
	stop := make(chan struct{})
	c.hbStop = stop
	ev = c.setStatusLocked(models.StatusConnected, nil)
	c.mu.Unlock()

	c.logger.Info().
		Str("url", c.cfg.URL).
		Dur("heartbeat_out", hb.Outgoing).
		Dur("heartbeat_in", hb.Incoming).
		Msg("Connected")

	// Listeners run before the read loop starts so re-subscriptions precede traffic.
	c.emit(ev)

	go c.readLoop(session, conn, hb.Incoming)
	if hb.Outgoing > 0 {
		go c.heartbeatLoop(conn, hb.Outgoing, stop)
	}
	return nil
}

// handshake dials and exchanges CONNECT/CONNECTED within the connection timeout.
func (c *Connector) handshake(ctx context.Context) (Conn, stomp.HeartBeat, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	conn, err := c.transport.Dial(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return nil, stomp.HeartBeat{}, c.connErr(ctx, apperrors.KindConnection, err)
	}

	if err := c.write(conn, stomp.Connect(hostOf(c.cfg.URL), c.cfg.HeartBeat, nil)); err != nil {
		conn.Close()
		return nil, stomp.HeartBeat{}, c.connErr(ctx, apperrors.KindConnection, err)
	}

	type result struct {
		frame *stomp.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				done <- result{err: err}
				return
			}
			frames, err := stomp.Decode(data)
			if err != nil {
				done <- result{err: err}
				return
			}
			if len(frames) > 0 {
				done <- result{frame: frames[0]}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, stomp.HeartBeat{}, c.connErr(ctx, apperrors.KindTimeout, ctx.Err())
	case r := <-done:
		if r.err != nil {
			conn.Close()
			return nil, stomp.HeartBeat{}, c.connErr(ctx, apperrors.KindConnection, r.err)
		}
		switch r.frame.Command {
		case stomp.CommandConnected:
		case stomp.CommandError:
			conn.Close()
			return nil, stomp.HeartBeat{}, apperrors.NewConnectionError(string(c.cfg.Stream), c.cfg.URL,
				apperrors.KindProtocol, fmt.Errorf("%w: %s", apperrors.ErrProtocol, stomp.ErrorMessage(r.frame)))
		default:
			conn.Close()
			return nil, stomp.HeartBeat{}, apperrors.NewConnectionError(string(c.cfg.Stream), c.cfg.URL,
				apperrors.KindProtocol, fmt.Errorf("%w: unexpected %s frame", apperrors.ErrProtocol, r.frame.Command))
		}

		hb, err := stomp.Negotiate(c.cfg.HeartBeat, stomp.HeartBeatHeader(r.frame))
		if err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring heart-beat header")
			hb = stomp.HeartBeat{}
		}
		return conn, hb, nil
	}
}

func (c *Connector) connErr(ctx context.Context, kind apperrors.ConnectionErrorKind, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		kind = apperrors.KindTimeout
		err = fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	} else if kind == apperrors.KindConnection {
		err = fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err)
	}
	return apperrors.NewConnectionError(string(c.cfg.Stream), c.cfg.URL, kind, err)
}

// Disconnect cancels any pending reconnect, closes the session and clears all
// subscriptions. It is safe to call in any state.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.session++
	conn := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	c.subs = make(map[string]*subscription)
	c.attempts = 0
	prev := c.status
	ev := c.setStatusLocked(models.StatusDisconnected, nil)
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(conn, stomp.Disconnect()); err != nil {
			c.logger.Debug().Err(err).Msg("DISCONNECT frame not delivered")
		}
		conn.Close()
	}

	if prev != models.StatusDisconnected {
		c.logger.Info().Msg("Disconnected")
		c.emit(ev)
	}
	return nil
}

// readLoop delivers frames in arrival order until the session ends.
func (c *Connector) readLoop(session uint64, conn Conn, incoming time.Duration) {
	for {
		if incoming > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * incoming))
		}
		data, err := conn.ReadMessage()
		if err != nil {
			c.drop(session, models.StatusDisconnected,
				apperrors.NewConnectionError(string(c.cfg.Stream), c.cfg.URL, apperrors.KindConnection, err))
			return
		}

		frames, err := stomp.Decode(data)
		if err != nil {
			logging.LogFrame(c.logger, "", len(data),
				apperrors.NewConnectionError(string(c.cfg.Stream), c.cfg.URL, apperrors.KindMessage, err))
		}

		for _, f := range frames {
			switch f.Command {
			case stomp.CommandMessage:
				c.dispatch(f)
			case stomp.CommandError:
				c.drop(session, models.StatusError,
					apperrors.NewConnectionError(string(c.cfg.Stream), c.cfg.URL, apperrors.KindProtocol,
						fmt.Errorf("%w: %s", apperrors.ErrProtocol, stomp.ErrorMessage(f))))
				return
			default:
				c.logger.Debug().Str("command", f.Command).Msg("Ignoring frame")
			}
		}
	}
}

func (c *Connector) dispatch(f *stomp.Frame) {
	id := stomp.SubscriptionID(f)

	c.mu.Lock()
	sub, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("subscription", id).Msg("Message for unknown subscription")
		return
	}

	sub.handler(Message{
		Destination:  stomp.Destination(f),
		Subscription: id,
		Body:         f.Body,
		ReceivedAt:   c.clock.Now(),
	})
}

// drop tears down a live session after a transport or protocol failure.
func (c *Connector) drop(session uint64, status models.ConnectionStatus, err error) {
	c.mu.Lock()
	if session != c.session || c.status != models.StatusConnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	c.subs = make(map[string]*subscription)
	c.lastErr = err
	ev := c.setStatusLocked(status, err)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Warn().Err(err).Str("status", string(status)).Msg("Session lost")
	c.emit(ev)
}

// scheduleReconnectLocked arms the fixed-delay retry timer. Past the attempt ceiling
// it gives up silently and leaves no timer behind.
func (c *Connector) scheduleReconnectLocked() {
	if !c.cfg.ReconnectEnabled {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn().Int("attempts", c.attempts).Msg("Max reconnection attempts reached")
		return
	}
	c.attempts++
	attempt := c.attempts

	var t clock.Timer
	t = c.clock.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		if c.timer != t {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()

		c.logger.Info().Int("attempt", attempt).Msg("Reconnecting")
		_ = c.Connect(context.Background())
	})
	c.timer = t
}

func (c *Connector) heartbeatLoop(conn Conn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(conn, nil); err != nil {
				// the read loop notices the broken socket
				return
			}
		}
	}
}

func (c *Connector) stopHeartbeatLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

// Subscribe issues a SUBSCRIBE for destination and routes its messages to handler.
func (c *Connector) Subscribe(destination string, handler func(Message)) (string, error) {
	c.mu.Lock()
	if c.status != models.StatusConnected || c.conn == nil {
		c.mu.Unlock()
		return "", apperrors.ErrNotConnected
	}
	id := fmt.Sprintf("sub-%d", c.nextSub)
	c.nextSub++
	c.subs[id] = &subscription{id: id, destination: destination, handler: handler}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, stomp.Subscribe(id, destination)); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return "", fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}

	c.logger.Debug().Str("destination", destination).Str("id", id).Msg("Subscribed")
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (c *Connector) Unsubscribe(id string) error {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, id)
	conn := c.conn
	connected := c.status == models.StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	if err := c.write(conn, stomp.Unsubscribe(id)); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", sub.destination, err)
	}

	c.logger.Debug().Str("destination", sub.destination).Str("id", id).Msg("Unsubscribed")
	return nil
}

// Send publishes payload as JSON. It returns false when not connected or the write fails.
func (c *Connector) Send(destination string, payload interface{}) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == models.StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn().Str("destination", destination).Msg("Cannot send: not connected")
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str("destination", destination).Msg("Cannot encode payload")
		return false
	}
	if err := c.write(conn, stomp.Send(destination, stomp.ContentTypeJSON, body)); err != nil {
		c.logger.Warn().Err(err).Str("destination", destination).Msg("Send failed")
		return false
	}
	return true
}

func (c *Connector) write(conn Conn, f *stomp.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(data)
}

// OnStatus registers a listener for status transitions. Listeners run synchronously on
// the goroutine that caused the transition.
func (c *Connector) OnStatus(handler func(StatusEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, handler)
}

func (c *Connector) setStatusLocked(status models.ConnectionStatus, err error) StatusEvent {
	ev := StatusEvent{
		Stream:   c.cfg.Stream,
		Previous: c.status,
		Current:  status,
		Attempt:  c.attempts,
		Err:      err,
		At:       c.clock.Now(),
	}
	c.status = status
	return ev
}

func (c *Connector) emit(ev StatusEvent) {
	c.mu.Lock()
	listeners := make([]func(StatusEvent), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	logging.LogStatus(c.logger, c.cfg.URL, string(ev.Previous), string(ev.Current), ev.Attempt)
	for _, l := range listeners {
		l(ev)
	}
}

// Status returns the current connection status.
func (c *Connector) Status() models.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected returns whether the session is CONNECTED.
func (c *Connector) IsConnected() bool {
	return c.Status() == models.StatusConnected
}

// Attempts returns the reconnect attempts made since the last successful connect.
func (c *Connector) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastError returns the most recent connection error, if any.
func (c *Connector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ReconnectPending reports whether a retry timer is armed.
func (c *Connector) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Subscriptions returns the number of live STOMP subscriptions.
func (c *Connector) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Stream returns the stream kind this connector serves.
func (c *Connector) Stream() models.StreamKind {
	return c.cfg.Stream
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}
