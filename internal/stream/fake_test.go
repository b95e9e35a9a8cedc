package stream

import (
	"fmt"
	"sync"
	"time"

	"stofina-realtime/internal/broker"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/store"
)

type fakeSub struct {
	topic   string
	handler func(broker.Message)
}

type sentMessage struct {
	destination string
	payload     interface{}
}

// fakeConn is an in-memory Connection whose status is driven by the test.
type fakeConn struct {
	mu           sync.Mutex
	status       models.ConnectionStatus
	next         int
	subs         map[string]fakeSub
	subscribed   []string
	unsubscribed []string
	sent         []sentMessage
	listeners    []func(broker.StatusEvent)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		status: models.StatusDisconnected,
		subs:   make(map[string]fakeSub),
	}
}

func (f *fakeConn) Subscribe(destination string, handler func(broker.Message)) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != models.StatusConnected {
		return "", apperrors.ErrNotConnected
	}
	id := fmt.Sprintf("sub-%d", f.next)
	f.next++
	f.subs[id] = fakeSub{topic: destination, handler: handler}
	f.subscribed = append(f.subscribed, destination)
	return id, nil
}

func (f *fakeConn) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; ok {
		delete(f.subs, id)
		f.unsubscribed = append(f.unsubscribed, id)
	}
	return nil
}

func (f *fakeConn) Send(destination string, payload interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != models.StatusConnected {
		return false
	}
	f.sent = append(f.sent, sentMessage{destination: destination, payload: payload})
	return true
}

func (f *fakeConn) OnStatus(handler func(broker.StatusEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, handler)
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status == models.StatusConnected
}

// setStatus moves the session like a connector would: leaving CONNECTED drops every
// wire subscription, then listeners run synchronously.
func (f *fakeConn) setStatus(status models.ConnectionStatus) {
	f.mu.Lock()
	ev := broker.StatusEvent{Previous: f.status, Current: status, At: time.Now()}
	f.status = status
	if status != models.StatusConnected {
		f.subs = make(map[string]fakeSub)
	}
	listeners := append([]func(broker.StatusEvent){}, f.listeners...)
	f.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

// deliver hands body to every subscription on topic and returns how many got it.
func (f *fakeConn) deliver(topic string, body string) int {
	f.mu.Lock()
	var handlers []func(broker.Message)
	for _, s := range f.subs {
		if s.topic == topic {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(broker.Message{Destination: topic, Body: []byte(body), ReceivedAt: time.Now()})
	}
	return len(handlers)
}

func (f *fakeConn) subscribedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeConn) unsubscribedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

func (f *fakeConn) sentTo(destination string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interface{}
	for _, m := range f.sent {
		if m.destination == destination {
			out = append(out, m.payload)
		}
	}
	return out
}

type updateLog struct {
	mu      sync.Mutex
	updates []store.Update
}

func (l *updateLog) Publish(u store.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) all() []store.Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.Update(nil), l.updates...)
}
