package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"stofina-realtime/internal/broker"
	"stofina-realtime/internal/logging"
)

// Connection is the connector surface the subscription manager drives.
type Connection interface {
	Subscribe(destination string, handler func(broker.Message)) (string, error)
	Unsubscribe(id string) error
	Send(destination string, payload interface{}) bool
	OnStatus(handler func(broker.StatusEvent))
	IsConnected() bool
}

var _ Connection = (*broker.Connector)(nil)

// Request is an application-level subscribe message sent after each SUBSCRIBE.
// Payload is rebuilt per send so ids and timestamps stay fresh.
type Request struct {
	Destination string
	Payload     func() interface{}
}

type registration struct {
	key     uint64
	topic   string
	handler func(broker.Message)
	request *Request

	subID  string
	active bool
}

// Manager keeps topic registrations alive across reconnects of one Connection.
// Each registration is an independent STOMP subscription; nothing is deduplicated.
type Manager struct {
	conn   Connection
	logger zerolog.Logger

	mu   sync.Mutex
	regs []*registration
	next uint64
}

// NewManager creates a manager bound to conn and starts listening for its
// status changes.
func NewManager(conn Connection, logger zerolog.Logger) *Manager {
	m := &Manager{
		conn:   conn,
		logger: logging.WithOperation(logger, "subscriptions"),
	}
	conn.OnStatus(m.onStatus)
	return m
}

// Subscribe registers handler for topic and returns its disposer.
func (m *Manager) Subscribe(topic string, handler func(broker.Message)) func() {
	return m.add(topic, handler, nil)
}

// SubscribeWithRequest registers handler for topic and also publishes req after every
// SUBSCRIBE issued for it.
func (m *Manager) SubscribeWithRequest(topic string, handler func(broker.Message), req Request) func() {
	return m.add(topic, handler, &req)
}

func (m *Manager) add(topic string, handler func(broker.Message), req *Request) func() {
	m.mu.Lock()
	m.next++
	reg := &registration{key: m.next, topic: topic, handler: handler, request: req}
	m.regs = append(m.regs, reg)
	if m.conn.IsConnected() {
		m.activateLocked(reg)
	} else {
		m.logger.Debug().Str("topic", topic).Msg("Registered while offline")
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(reg.key) })
	}
}

func (m *Manager) remove(key uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, reg := range m.regs {
		if reg.key != key {
			continue
		}
		m.regs = append(m.regs[:i], m.regs[i+1:]...)
		if reg.active {
			if err := m.conn.Unsubscribe(reg.subID); err != nil {
				m.logger.Warn().Err(err).Str("topic", reg.topic).Msg("Unsubscribe failed")
			}
			reg.active = false
		}
		m.logger.Debug().Str("topic", reg.topic).Msg("Subscription disposed")
		return
	}
}

// activateLocked issues SUBSCRIBE and the optional request for reg.
func (m *Manager) activateLocked(reg *registration) {
	id, err := m.conn.Subscribe(reg.topic, reg.handler)
	if err != nil {
		m.logger.Warn().Err(err).Str("topic", reg.topic).Msg("Subscribe failed")
		return
	}
	reg.subID = id
	reg.active = true
	m.logger.Info().Str("topic", reg.topic).Str("id", id).Msg("Subscribed")

	if reg.request != nil {
		var payload interface{}
		if reg.request.Payload != nil {
			payload = reg.request.Payload()
		}
		if !m.conn.Send(reg.request.Destination, payload) {
			m.logger.Warn().Str("destination", reg.request.Destination).Msg("Subscribe request not sent")
		}
	}
}

func (m *Manager) onStatus(ev broker.StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Current.IsConnected() {
		for _, reg := range m.regs {
			if !reg.active {
				m.activateLocked(reg)
			}
		}
		return
	}

	// The connection's own subscriptions are gone once it leaves CONNECTED.
	for _, reg := range m.regs {
		reg.active = false
		reg.subID = ""
	}
}

// Active returns the topics currently subscribed on the wire, in registration order.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, reg := range m.regs {
		if reg.active {
			out = append(out, reg.topic)
		}
	}
	return out
}

// Registered returns the number of live registrations.
func (m *Manager) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// Send publishes payload on the managed connection.
func (m *Manager) Send(destination string, payload interface{}) bool {
	return m.conn.Send(destination, payload)
}

// IsConnected reports whether the managed connection is CONNECTED.
func (m *Manager) IsConnected() bool {
	return m.conn.IsConnected()
}
