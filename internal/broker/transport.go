package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeouts
const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsReadBufferSize   = 64 * 1024
)

// Transport opens message-oriented connections to a stream endpoint.
type Transport interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// Conn is a message-oriented connection. One STOMP frame travels per message.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// WebSocketTransport dials WebSocket endpoints with gorilla/websocket.
type WebSocketTransport struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWebSocketTransport creates a transport. A zero handshake timeout uses the default.
func NewWebSocketTransport(handshakeTimeout time.Duration) *WebSocketTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = wsHandshakeTimeout
	}
	return &WebSocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   wsReadBufferSize,
			Subprotocols:     []string{"v12.stomp", "v11.stomp"},
		},
		writeTimeout: wsWriteTimeout,
	}
}

// Dial connects to rawURL. http and https URLs are rewritten to ws and wss.
func (t *WebSocketTransport) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &wsConn{conn: conn, writeTimeout: t.writeTimeout}, nil
}

// sockJSWebSocketPath is where a SockJS endpoint serves its raw WebSocket transport.
const sockJSWebSocketPath = "/websocket"

// NormalizeURL validates a stream endpoint. ws(s) URLs are dialed as given. An http(s)
// URL names a SockJS endpoint and is mapped onto its raw WebSocket transport, so
// "http://host/ws" becomes "ws://host/ws/websocket".
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream url %q: %w", rawURL, err)
	}
	sockJS := false
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme, sockJS = "ws", true
	case "https":
		u.Scheme, sockJS = "wss", true
	default:
		return "", fmt.Errorf("invalid stream url %q: unsupported scheme", rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid stream url %q: missing host", rawURL)
	}
	if sockJS {
		path := strings.TrimSuffix(u.Path, "/")
		if !strings.HasSuffix(path, sockJSWebSocketPath) {
			path += sockJSWebSocketPath
		}
		u.Path = path
		u.RawPath = ""
	}
	return u.String(), nil
}

// IsValidWebSocketURL reports whether rawURL can be dialed by WebSocketTransport.
func IsValidWebSocketURL(rawURL string) bool {
	_, err := NormalizeURL(rawURL)
	return err == nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
