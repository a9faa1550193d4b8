package director

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

// pushServer is a fake director push endpoint. Each accepted connection
// is handed to the test over conns.
type pushServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		conns: make(chan *websocket.Conn, 4),
		auth:  make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != streamPath {
			http.NotFound(w, r)
			return
		}
		ps.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ps.conns <- conn
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ps.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream connection")
		return nil
	}
}

func newTestStream(t *testing.T, ps *pushServer) *Stream {
	t.Helper()
	cfg := Config{
		BaseURL: ps.srv.URL,
		Stream: StreamConfig{
			ReconnectInitial: 10 * time.Millisecond,
			ReconnectMax:     20 * time.Millisecond,
		},
	}
	s, err := NewStream(cfg, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}), nil)
	if err != nil {
		t.Fatalf("NewStream() error = %v", err)
	}
	return s
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan Event, 16)}
}

func (s *eventSink) handle(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.ch <- ev
}

func (s *eventSink) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-s.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func runStream(t *testing.T, s *Stream) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() = %v, want nil after cancel", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
}

func TestStream_DeliversEventsByItem(t *testing.T) {
	ps := newPushServer(t)
	s := newTestStream(t, ps)

	thermo := newEventSink()
	fan := newEventSink()
	s.Subscribe(42, thermo.handle)
	s.Subscribe(7, fan.handle)

	runStream(t, s)
	conn := ps.accept(t)

	if got := <-ps.auth; got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}

	frame := `[
		{"evtName":"OnDataToUI","iddevice":42,"data":{"HVAC_MODE":"Cool"},"time":1700000000},
		{"evtName":"OnDataToUI","iddevice":"7","data":{"fan_state":{"current_speed":2}},"time":"t1"},
		{"evtName":"OnDataToUI","iddevice":99,"data":{}},
		"junk"
	]`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}

	ev := thermo.next(t)
	if ev.ItemID != 42 || ev.Name != "OnDataToUI" || ev.Data["HVAC_MODE"] != "Cool" {
		t.Errorf("thermostat event = %+v", ev)
	}
	if ev.Time != "1700000000" {
		t.Errorf("Time = %q", ev.Time)
	}

	ev = fan.next(t)
	if ev.ItemID != 7 || ev.Time != "t1" {
		t.Errorf("fan event = %+v", ev)
	}

	// Single-object frames are accepted too.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"evtName":"OnDataToUI","iddevice":42,"data":{"HUMIDITY":40}}`)); err != nil {
		t.Fatal(err)
	}
	ev = thermo.next(t)
	if ev.Data["HUMIDITY"] != float64(40) {
		t.Errorf("HUMIDITY = %v", ev.Data["HUMIDITY"])
	}

	if stats := s.Stats(); !stats.Connected || stats.Events < 3 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestStream_DisconnectBroadcastAndReconnect(t *testing.T) {
	ps := newPushServer(t)
	s := newTestStream(t, ps)

	reconnects := make(chan bool, 4)
	s.SetOnConnect(func(reconnect bool) { reconnects <- reconnect })

	a := newEventSink()
	b := newEventSink()
	s.Subscribe(1, a.handle)
	s.Subscribe(2, b.handle)

	runStream(t, s)
	conn := ps.accept(t)
	<-ps.auth

	if r := <-reconnects; r {
		t.Error("first connection reported as reconnect")
	}

	conn.Close()

	if ev := a.next(t); !ev.Disconnect {
		t.Errorf("item 1 got %+v, want disconnect", ev)
	}
	if ev := b.next(t); !ev.Disconnect {
		t.Errorf("item 2 got %+v, want disconnect", ev)
	}

	ps.accept(t)
	<-ps.auth
	select {
	case r := <-reconnects:
		if !r {
			t.Error("second connection not reported as reconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect")
	}
	if s.Stats().Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", s.Stats().Reconnects)
	}
}

func TestStream_Unsubscribe(t *testing.T) {
	ps := newPushServer(t)
	s := newTestStream(t, ps)

	kept := newEventSink()
	dropped := newEventSink()
	s.Subscribe(5, kept.handle)
	unsub := s.Subscribe(5, dropped.handle)
	unsub()
	unsub()

	runStream(t, s)
	conn := ps.accept(t)
	<-ps.auth

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"iddevice":5,"data":{"x":1}}`)); err != nil {
		t.Fatal(err)
	}
	kept.next(t)

	select {
	case ev := <-dropped.ch:
		t.Errorf("unsubscribed handler received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStream_HandlerPanicRecovered(t *testing.T) {
	ps := newPushServer(t)
	s := newTestStream(t, ps)

	s.Subscribe(3, func(Event) { panic("boom") })
	after := newEventSink()
	s.Subscribe(4, after.handle)

	runStream(t, s)
	conn := ps.accept(t)
	<-ps.auth

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`[{"iddevice":3},{"iddevice":4,"data":{}}]`)); err != nil {
		t.Fatal(err)
	}
	if ev := after.next(t); ev.ItemID != 4 {
		t.Errorf("event = %+v", ev)
	}
	if !s.IsConnected() {
		t.Error("stream dropped after handler panic")
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    []int
		wantErr bool
	}{
		{name: "object", frame: `{"iddevice":1}`, want: []int{1}},
		{name: "array", frame: `[{"iddevice":1},{"iddevice":"2"}]`, want: []int{1, 2}},
		{name: "missing id skipped", frame: `[{"evtName":"x"},{"iddevice":3}]`, want: []int{3}},
		{name: "fractional id skipped", frame: `{"iddevice":1.5}`, want: []int{}},
		{name: "empty", frame: "  ", wantErr: true},
		{name: "garbage", frame: "{nope", wantErr: true},
		{name: "scalar array", frame: `[1,2]`, want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := decodeFrame([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeFrame() error = %v", err)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(events), len(tt.want))
			}
			for i, id := range tt.want {
				if events[i].ItemID != id {
					t.Errorf("events[%d].ItemID = %d, want %d", i, events[i].ItemID, id)
				}
			}
		})
	}
}

func TestNewStream_Validation(t *testing.T) {
	if _, err := NewStream(Config{Host: "x"}, nil, nil); err == nil {
		t.Error("expected error for nil token source")
	}
	if _, err := NewStream(Config{}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}), nil); err == nil {
		t.Error("expected error for missing host")
	}
}
