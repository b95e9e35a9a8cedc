// Package stomptest runs an in-process STOMP broker over WebSocket for tests.
package stomptest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stofina-realtime/internal/stomp"
)

// Server is a minimal STOMP 1.2 broker: it answers CONNECT, tracks subscriptions,
// records SEND frames and lets tests publish MESSAGE frames.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*serverConn
	received []*stomp.Frame
	seq      int

	// RejectConnect makes the broker answer CONNECT with an ERROR frame.
	RejectConnect bool
	// HeartBeat is returned in CONNECTED. Defaults to "0,0".
	HeartBeat string
}

type serverConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]string // id -> destination
}

// NewServer starts a broker on a random local port.
func NewServer() *Server {
	s := &Server{HeartBeat: "0,0"}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// endpoint of the broker.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every client and stops the broker.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &serverConn{ws: ws, subs: make(map[string]string)}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	defer func() {
		ws.Close()
		s.mu.Lock()
		for i, cur := range s.conns {
			if cur == c {
				s.conns = append(s.conns[:i], s.conns[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frames, err := stomp.Decode(data)
		if err != nil {
			return
		}
		for _, f := range frames {
			if !s.onFrame(c, f) {
				return
			}
		}
	}
}

func (s *Server) onFrame(c *serverConn, f *stomp.Frame) bool {
	switch f.Command {
	case stomp.CommandConnect, "STOMP":
		s.mu.Lock()
		reject := s.RejectConnect
		hb := s.HeartBeat
		s.mu.Unlock()
		if reject {
			c.write(stomp.Error("connection rejected"))
			return false
		}
		c.write(stomp.Connected(hb))
	case stomp.CommandSubscribe:
		s.mu.Lock()
		c.subs[stomp.ID(f)] = stomp.Destination(f)
		s.mu.Unlock()
	case stomp.CommandUnsubscribe:
		s.mu.Lock()
		delete(c.subs, stomp.ID(f))
		s.mu.Unlock()
	case stomp.CommandSend:
		s.mu.Lock()
		s.received = append(s.received, f)
		s.mu.Unlock()
	case stomp.CommandDisconnect:
		return false
	}
	return true
}

func (c *serverConn) write(f *stomp.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Publish sends body to every subscription on destination and returns how many
// subscriptions received it.
func (s *Server) Publish(destination string, body []byte) int {
	type target struct {
		conn *serverConn
		id   string
	}

	s.mu.Lock()
	var targets []target
	for _, c := range s.conns {
		for id, dest := range c.subs {
			if dest == destination {
				targets = append(targets, target{conn: c, id: id})
			}
		}
	}
	s.seq++
	msgID := "msg-" + strconv.Itoa(s.seq)
	s.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		if err := t.conn.write(stomp.Message(destination, t.id, msgID, body)); err == nil {
			delivered++
		}
	}
	return delivered
}

// SendError pushes an ERROR frame to every client.
func (s *Server) SendError(message string) {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.write(stomp.Error(message))
	}
}

// DropAll closes every client socket without a DISCONNECT.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// Subscribers returns the number of subscriptions on destination across clients.
func (s *Server) Subscribers(destination string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conns {
		for _, dest := range c.subs {
			if dest == destination {
				n++
			}
		}
	}
	return n
}

// Clients returns the number of open client sockets.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received returns the bodies of SEND frames addressed to destination.
func (s *Server) Received(destination string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, f := range s.received {
		if stomp.Destination(f) == destination {
			out = append(out, f.Body)
		}
	}
	return out
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
