package control4

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-control4/internal/director"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
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
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns messages published on topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers payload to the handler subscribed on pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

type commanderCall struct {
	Method string
	Arg    any
}

// mockClimateCommander records thermostat commands.
type mockClimateCommander struct {
	mu    sync.Mutex
	calls []commanderCall
	err   error
}

func (m *mockClimateCommander) record(method string, arg any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, commanderCall{Method: method, Arg: arg})
	return m.err
}

func (m *mockClimateCommander) SetHvacMode(_ context.Context, mode string) error {
	return m.record("SetHvacMode", mode)
}

func (m *mockClimateCommander) SetFanMode(_ context.Context, mode string) error {
	return m.record("SetFanMode", mode)
}

func (m *mockClimateCommander) SetHeatSetpoint(_ context.Context, f float64) error {
	return m.record("SetHeatSetpoint", f)
}

func (m *mockClimateCommander) SetCoolSetpoint(_ context.Context, f float64) error {
	return m.record("SetCoolSetpoint", f)
}

func (m *mockClimateCommander) Calls() []commanderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]commanderCall(nil), m.calls...)
}

// mockFanCommander records fan commands.
type mockFanCommander struct {
	mu    sync.Mutex
	calls []commanderCall
	err   error
}

func (m *mockFanCommander) record(method string, arg any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, commanderCall{Method: method, Arg: arg})
	return m.err
}

func (m *mockFanCommander) SetSpeed(_ context.Context, speed int) error {
	return m.record("SetSpeed", speed)
}

func (m *mockFanCommander) SetPreset(_ context.Context, preset int) error {
	return m.record("SetPreset", preset)
}

func (m *mockFanCommander) Calls() []commanderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]commanderCall(nil), m.calls...)
}

// mockHub serves snapshots and hands out shared commanders.
type mockHub struct {
	mu        sync.Mutex
	snapshots map[int]map[string]any
	fetchErr  map[int]error
	fetches   map[int]int
	climate   *mockClimateCommander
	fan       *mockFanCommander
}

func newMockHub() *mockHub {
	return &mockHub{
		snapshots: make(map[int]map[string]any),
		fetchErr:  make(map[int]error),
		fetches:   make(map[int]int),
		climate:   &mockClimateCommander{},
		fan:       &mockFanCommander{},
	}
}

func (h *mockHub) ItemVariables(ctx context.Context, itemID int) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches[itemID]++
	if err := h.fetchErr[itemID]; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.snapshots[itemID], nil
}

func (h *mockHub) setSnapshot(id int, snap map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[id] = snap
}

func (h *mockHub) setFetchErr(id int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetchErr[id] = err
}

func (h *mockHub) fetchCount(id int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches[id]
}

func (h *mockHub) ClimateCommands(int) ClimateCommander { return h.climate }
func (h *mockHub) FanCommands(int) FanCommander         { return h.fan }

// mockPush fans push messages out to subscribed handlers.
type mockPush struct {
	mu       sync.Mutex
	handlers map[int]func(PushMessage)
}

func newMockPush() *mockPush {
	return &mockPush{handlers: make(map[int]func(PushMessage))}
}

func (p *mockPush) Subscribe(itemID int, h func(PushMessage)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[itemID] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, itemID)
	}
}

func (p *mockPush) send(itemID int, msg PushMessage) {
	p.mu.Lock()
	h := p.handlers[itemID]
	p.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (p *mockPush) disconnect() {
	p.mu.Lock()
	hs := make([]func(PushMessage), 0, len(p.handlers))
	for _, h := range p.handlers {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(DisconnectMessage())
	}
}

func (p *mockPush) subscribed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// mockStream reports a fixed stream state.
type mockStream struct {
	mu    sync.Mutex
	stats director.StreamStats
}

func (s *mockStream) Stats() director.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *mockStream) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Connected = v
}

type recordedState struct {
	DeviceID string
	State    map[string]any
	Source   string
}

// mockRecorder captures state history writes.
type mockRecorder struct {
	mu      sync.Mutex
	entries []recordedState
}

func (r *mockRecorder) RecordStateChange(_ context.Context, deviceID string, state map[string]any, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedState{DeviceID: deviceID, State: state, Source: source})
	return nil
}

func (r *mockRecorder) Entries() []recordedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedState(nil), r.entries...)
}

type telemetryPoint struct {
	DeviceID   string
	Name       string
	DeviceType string
	Fields     map[string]any
}

// mockTelemetry captures telemetry points.
type mockTelemetry struct {
	mu     sync.Mutex
	points []telemetryPoint
}

func (m *mockTelemetry) WriteDeviceState(deviceID, name, deviceType string, fields map[string]any, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, telemetryPoint{DeviceID: deviceID, Name: name, DeviceType: deviceType, Fields: fields})
}

func (m *mockTelemetry) Points() []telemetryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telemetryPoint(nil), m.points...)
}

// recordingLogger keeps messages per level.
type recordingLogger struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{messages: make(map[string][]string)}
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[level] = append(l.messages[level], msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages[level])
}
