package director

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

// Event is one push message from the director.
//
// Disconnect marks the synthetic event delivered to every handler when
// the stream drops; all other fields are empty in that case.
type Event struct {
	Name       string
	ItemID     int
	Data       map[string]any
	Time       string
	Disconnect bool
}

// Handler receives events for one item. Handlers for all items run on the
// stream's single reader goroutine, so events for an item arrive in order
// and must be handled quickly.
type Handler func(Event)

// Stream maintains the director push WebSocket.
//
// Thread Safety:
//   - Subscribe, IsConnected and SetOnConnect are safe for concurrent use.
//   - Run must be called once.
type Stream struct {
	url    string
	cfg    StreamConfig
	tokens oauth2.TokenSource
	dialer *websocket.Dialer
	logger Logger

	mu       sync.RWMutex
	handlers map[int]map[uint64]Handler
	nextID   uint64

	onConnect func(reconnect bool)

	connected  atomic.Bool
	events     atomic.Uint64
	reconnects atomic.Uint64
}

// StreamStats is a point-in-time view of stream counters.
type StreamStats struct {
	Connected  bool
	Events     uint64
	Reconnects uint64
}

// NewStream prepares a push stream. Nothing is dialled until Run.
func NewStream(cfg Config, tokens oauth2.TokenSource, logger Logger) (*Stream, error) {
	if tokens == nil {
		return nil, ErrNoCredentials
	}
	cfg = cfg.withDefaults()

	u, err := cfg.streamURL()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Stream{
		url:    u,
		cfg:    cfg.Stream,
		tokens: tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.RequestTimeout,
			TLSClientConfig:  newTransport(cfg).TLSClientConfig,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger:   logger,
		handlers: make(map[int]map[uint64]Handler),
	}, nil
}

// Subscribe registers a handler for one item's events and returns a
// function that removes it.
func (s *Stream) Subscribe(itemID int, h Handler) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.handlers[itemID] == nil {
		s.handlers[itemID] = make(map[uint64]Handler)
	}
	s.handlers[itemID][id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers[itemID], id)
			if len(s.handlers[itemID]) == 0 {
				delete(s.handlers, itemID)
			}
			s.mu.Unlock()
		})
	}
}

// SetOnConnect registers a callback run after each successful dial.
// reconnect is false for the first connection.
func (s *Stream) SetOnConnect(fn func(reconnect bool)) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// IsConnected reports whether the socket is currently open.
func (s *Stream) IsConnected() bool {
	return s.connected.Load()
}

// Stats returns stream counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Connected:  s.connected.Load(),
		Events:     s.events.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff between ReconnectInitial and ReconnectMax.
// It returns nil on cancellation.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.cfg.ReconnectInitial
	first := true

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("director stream dial failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(delay*2, s.cfg.ReconnectMax)
			continue
		}

		delay = s.cfg.ReconnectInitial
		if !first {
			s.reconnects.Add(1)
		}
		s.connected.Store(true)
		s.logger.Info("director stream connected", "reconnect", !first)

		s.mu.RLock()
		onConnect := s.onConnect
		s.mu.RUnlock()
		if onConnect != nil {
			onConnect(!first)
		}
		first = false

		err = s.readLoop(ctx, conn)

		s.connected.Store(false)
		s.broadcast(Event{Disconnect: true})

		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("director stream lost", "error", err, "retry_in", delay)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	auth, err := authHeader(s.tokens)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", auth)

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Method: http.MethodGet, Path: streamPath, StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("%w: dialing stream: %w", ErrRequestFailed, err)
	}
	return conn, nil
}

// readLoop reads frames until the connection fails or ctx ends. A
// separate goroutine sends pings and closes the socket on cancellation.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pongWait := s.cfg.PingInterval + s.cfg.PongTimeout

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // surfaces on next read
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // surfaces on next read

		events, err := decodeFrame(data)
		if err != nil {
			s.logger.Debug("ignoring undecodable director frame", "error", err)
			continue
		}
		for _, ev := range events {
			s.events.Add(1)
			s.dispatch(ev)
		}
	}
}

func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			conn.Close()
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // closing anyway
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PongTimeout)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// dispatch delivers an event to the handlers of its item.
func (s *Stream) dispatch(ev Event) {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.handlers[ev.ItemID]))
	for _, h := range s.handlers[ev.ItemID] {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	for _, h := range hs {
		s.safeCall(h, ev)
	}
}

// broadcast delivers an event to every handler of every item.
func (s *Stream) broadcast(ev Event) {
	s.mu.RLock()
	var hs []Handler
	for _, byID := range s.handlers {
		for _, h := range byID {
			hs = append(hs, h)
		}
	}
	s.mu.RUnlock()

	for _, h := range hs {
		s.safeCall(h, ev)
	}
}

func (s *Stream) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("director event handler panic recovered", "item_id", ev.ItemID, "panic", r)
		}
	}()
	h(ev)
}

// decodeFrame parses a frame holding one event object or an array of them.
// Entries that are not objects, or lack an item id, are skipped.
func decodeFrame(data []byte) ([]Event, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidResponse)
	}

	var raws []map[string]any
	if trimmed[0] == '[' {
		var list []any
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				raws = append(raws, m)
			}
		}
	} else {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
		raws = append(raws, m)
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev, ok := eventFromMap(raw)
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func eventFromMap(raw map[string]any) (Event, bool) {
	id, ok := asInt(raw["iddevice"])
	if !ok {
		return Event{}, false
	}

	ev := Event{ItemID: id}
	ev.Name, _ = raw["evtName"].(string)
	ev.Data, _ = raw["data"].(map[string]any)

	switch t := raw["time"].(type) {
	case string:
		ev.Time = t
	case float64:
		ev.Time = strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ev, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
