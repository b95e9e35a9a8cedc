package broker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"stofina-realtime/internal/stomp"
)

// fakeTransport hands out in-memory connections whose broker side answers CONNECT.
type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	failErr error
	silent  bool // never answer CONNECT
	conns   []*fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failErr != nil {
		return nil, t.failErr
	}
	c := newFakeConn(!t.silent)
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) SetFail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failErr = err
}

func (t *fakeTransport) Last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	answer    bool

	mu      sync.Mutex
	written []*stomp.Frame
}

func newFakeConn(answer bool) *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
		answer: answer,
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	frames, err := stomp.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, frames...)
	c.mu.Unlock()

	for _, f := range frames {
		if f.Command == stomp.CommandConnect && c.answer {
			c.push(stomp.Connected("0,0"))
		}
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(f *stomp.Frame) {
	data, _ := stomp.Encode(f)
	c.in <- data
}

func (c *fakeConn) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, f := range c.written {
		out = append(out, f.Command)
	}
	return out
}

func (c *fakeConn) Written(command string) []*stomp.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*stomp.Frame
	for _, f := range c.written {
		if f.Command == command {
			out = append(out, f)
		}
	}
	return out
}
