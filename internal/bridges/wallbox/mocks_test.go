package wallbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu         sync.Mutex
	published  []mockPublish
	handlers   map[string]func(topic string, payload []byte)
	connected  bool
	publishErr error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

func (m *MockMQTTClient) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// lastPayload returns the most recent payload published on topic.
func (m *MockMQTTClient) lastPayload(topic string) (string, bool) {
	pubs := m.GetPublished()
	for i := len(pubs) - 1; i >= 0; i-- {
		if pubs[i].Topic == topic {
			return string(pubs[i].Payload), true
		}
	}
	return "", false
}

// fakeLink implements Link. Connect fails while failures > 0.
type fakeLink struct {
	mu        sync.Mutex
	failures  int
	attempts  []time.Time
	sessions  []*fakeSession
	onConnect func(*fakeSession)
}

func (l *fakeLink) Connect(ctx context.Context, _ string) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts = append(l.attempts, time.Now())
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("device not in range")
	}

	s := newFakeSession()
	l.sessions = append(l.sessions, s)
	if l.onConnect != nil {
		l.onConnect(s)
	}
	return s, nil
}

func (l *fakeLink) Attempts() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.attempts...)
}

func (l *fakeLink) Session(i int) *fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.sessions) {
		return nil
	}
	return l.sessions[i]
}

// fakeSession implements Session and records the order of operations.
type fakeSession struct {
	mu        sync.Mutex
	ops       []string
	writes    []string
	handlers  map[Channel]func([]byte)
	connected bool
	closed    bool
	writeErr  error
	onWrite   func(s *fakeSession, text string)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		handlers:  make(map[Channel]func([]byte)),
		connected: true,
	}
}

func (s *fakeSession) Subscribe(ch Channel, handler func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "subscribe:"+ch.String())
	s.handlers[ch] = handler
	return nil
}

func (s *fakeSession) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	text := string(data)
	s.ops = append(s.ops, "write")
	s.writes = append(s.writes, text)
	hook := s.onWrite
	s.mu.Unlock()

	if hook != nil {
		hook(s, text)
	}
	return nil
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *fakeSession) Notify(ch Channel, data string) {
	s.mu.Lock()
	h := s.handlers[ch]
	s.mu.Unlock()
	if h != nil {
		h([]byte(data))
	}
}

func (s *fakeSession) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeSession) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fastOptions returns connection options with test-sized timings.
func fastOptions(link Link) ConnectionOptions {
	return ConnectionOptions{
		Link:           link,
		Address:        "AA:BB:CC:DD:EE:FF",
		PIN:            "1234",
		AuthSettle:     20 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		ReconnectDelay: 30 * time.Millisecond,
		ConnectTimeout: time.Second,
	}
}
