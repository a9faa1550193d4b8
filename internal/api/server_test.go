package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-control4/internal/audit"
	"github.com/nerrad567/gray-logic-control4/internal/bridges/control4"
	"github.com/nerrad567/gray-logic-control4/internal/device"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/logging"
	_ "github.com/nerrad567/gray-logic-control4/migrations"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

type fakeBridge struct {
	mu        sync.Mutex
	devices   []control4.Device
	execErr   error
	calls     []string
	resyncing bool
}

func (f *fakeBridge) Devices() []control4.Device { return f.devices }

func (f *fakeBridge) Device(id int) (control4.Device, bool) {
	for _, d := range f.devices {
		if d.Identity().ID == id {
			return d, true
		}
	}
	return nil, false
}

func (f *fakeBridge) Execute(_ context.Context, deviceID int, command string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%d:%s:%v", deviceID, command, params))
	return f.execErr
}

func (f *fakeBridge) GetMetrics() control4.BridgeMetrics {
	return control4.BridgeMetrics{Connected: true, Status: "connected", DevicesManaged: len(f.devices)}
}

func (f *fakeBridge) RequestResync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resyncing {
		return false
	}
	f.resyncing = true
	return true
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func newFakeBridge() *fakeBridge {
	climate := control4.NewClimate(
		control4.Identity{ID: 101, Name: "Hallway", Area: "Downstairs"},
		map[string]any{"HVAC_MODE": "Heat", "HEAT_SETPOINT_F": 70.0, "TEMPERATURE_F": 68.0},
		nil,
		control4.ClimateOptions{},
	)
	fan := control4.NewFan(
		control4.Identity{ID: 202, Name: "Bedroom Fan"},
		map[string]any{"CURRENT_SPEED": 2, "PRESET_SPEED": 3},
		nil,
		nil,
	)
	contact := control4.NewContactSensor(
		control4.Identity{ID: 303, Name: "Front Door"},
		"door",
		map[string]any{"ContactState": true},
	)
	return &fakeBridge{devices: []control4.Device{climate, fan, contact}}
}

func newTestServer(t *testing.T, bridge *fakeBridge, mutate func(*Deps)) *Server {
	t.Helper()
	deps := Deps{
		Config: config.APIConfig{
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, Issuer: "graylogic"}},
		Logger:   logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard),
		Bridge:   bridge,
		MQTT:     fakeConn(true),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func mintToken(t *testing.T, secret, issuer string, expires time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "core",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	logger := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)

	if _, err := New(Deps{Bridge: newFakeBridge()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logger}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		mqtt       ConnectionStatus
		wantStatus string
	}{
		{"all connected", fakeConn(true), "ok"},
		{"mqtt down", fakeConn(false), "degraded"},
		{"no mqtt", nil, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, newFakeBridge(), func(d *Deps) { d.MQTT = tt.mqtt })
			rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			body := decode(t, rec)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			if body["director_connected"] != true {
				t.Errorf("director_connected = %v, want true", body["director_connected"])
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), nil)
	rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestListDevices(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), nil)
	h := srv.buildRouter()

	tests := []struct {
		path      string
		wantCode  int
		wantCount float64
	}{
		{"/api/v1/devices/", http.StatusOK, 3},
		{"/api/v1/devices/?type=fan", http.StatusOK, 1},
		{"/api/v1/devices/?type=contact", http.StatusOK, 1},
		{"/api/v1/devices/?type=light", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, "", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got := decode(t, rec)["count"]; got != tt.wantCount {
				t.Errorf("count = %v, want %v", got, tt.wantCount)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), nil)
	h := srv.buildRouter()

	rec := do(t, h, http.MethodGet, "/api/v1/devices/202/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var msg control4.StateMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.DeviceID != "202" || msg.Type != control4.TypeFan || msg.Name != "Bedroom Fan" {
		t.Errorf("unexpected device: %+v", msg)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/devices/999/", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/devices/abc/", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", rec.Code)
	}
}

func TestDeviceCommand_Auth(t *testing.T) {
	valid := mintToken(t, testSecret, "graylogic", time.Now().Add(time.Hour))

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", mintToken(t, "another-secret-that-is-long-enough-xx", "graylogic", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"wrong issuer", mintToken(t, testSecret, "someone-else", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", mintToken(t, testSecret, "graylogic", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"valid", valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge()
			srv := newTestServer(t, bridge, nil)
			rec := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices/202/commands", tt.token,
				map[string]any{"command": "set_percentage", "parameters": map[string]any{"percentage": 50}})
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusUnauthorized && len(bridge.calls) != 0 {
				t.Errorf("bridge called without auth: %v", bridge.calls)
			}
		})
	}
}

func TestDeviceCommand_AuthNotConfigured(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), func(d *Deps) { d.Security.JWT.Secret = "" })
	token := mintToken(t, testSecret, "graylogic", time.Now().Add(time.Hour))
	rec := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/resync", token, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDeviceCommand(t *testing.T) {
	token := mintToken(t, testSecret, "graylogic", time.Now().Add(time.Hour))

	bridge := newFakeBridge()
	srv := newTestServer(t, bridge, nil)
	rec := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices/101/commands", token,
		map[string]any{"command": "set_hvac_mode", "parameters": map[string]any{"hvac_mode": "cool"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	body := decode(t, rec)
	if body["status"] != "accepted" {
		t.Errorf("status = %v, want accepted", body["status"])
	}
	if body["device_id"] != "101" {
		t.Errorf("device_id = %v, want 101", body["device_id"])
	}
	if id, _ := body["command_id"].(string); id == "" {
		t.Error("command_id missing")
	}
	want := "101:set_hvac_mode:map[hvac_mode:cool]"
	if len(bridge.calls) != 1 || bridge.calls[0] != want {
		t.Errorf("calls = %v, want [%s]", bridge.calls, want)
	}
}

func TestDeviceCommand_Errors(t *testing.T) {
	token := mintToken(t, testSecret, "graylogic", time.Now().Add(time.Hour))

	tests := []struct {
		name     string
		path     string
		body     any
		execErr  error
		wantCode int
		wantErr  string
	}{
		{"invalid json", "/api/v1/devices/101/commands", "{", nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing command", "/api/v1/devices/101/commands", map[string]any{}, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown device", "/api/v1/devices/999/commands", map[string]any{"command": "turn_on"}, nil, http.StatusNotFound, ErrCodeNotFound},
		{"unsupported mode", "/api/v1/devices/101/commands", map[string]any{"command": "set_hvac_mode"},
			fmt.Errorf("translating: %w", control4.ErrUnsupportedMode), http.StatusUnprocessableEntity, ErrCodeValidation},
		{"bad percentage", "/api/v1/devices/202/commands", map[string]any{"command": "set_percentage"},
			control4.ErrInvalidPercentage, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"unknown command", "/api/v1/devices/202/commands", map[string]any{"command": "dance"},
			control4.ErrUnknownCommand, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"timeout", "/api/v1/devices/202/commands", map[string]any{"command": "turn_on"},
			context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"hub failure", "/api/v1/devices/202/commands", map[string]any{"command": "turn_on"},
			errors.New("director returned 500"), http.StatusBadGateway, ErrCodeBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge()
			bridge.execErr = tt.execErr
			srv := newTestServer(t, bridge, nil)
			rec := do(t, srv.buildRouter(), http.MethodPost, tt.path, token, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := decode(t, rec)["code"]; got != tt.wantErr {
				t.Errorf("error code = %v, want %s", got, tt.wantErr)
			}
		})
	}
}

func TestResync(t *testing.T) {
	token := mintToken(t, testSecret, "graylogic", time.Now().Add(time.Hour))
	srv := newTestServer(t, newFakeBridge(), nil)
	h := srv.buildRouter()

	for i, want := range []bool{true, false} {
		rec := do(t, h, http.MethodPost, "/api/v1/resync", token, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("call %d: status = %d, want 202", i, rec.Code)
		}
		if got := decode(t, rec)["started"]; got != want {
			t.Errorf("call %d: started = %v, want %v", i, got, want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), nil)
	rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !m.MQTT.Connected {
		t.Error("mqtt.connected = false, want true")
	}
	if m.Bridge.DevicesManaged != 3 {
		t.Errorf("bridge.devices_managed = %d, want 3", m.Bridge.DevicesManaged)
	}
	if m.Database != nil {
		t.Error("database metrics present without a database")
	}
	for _, typ := range []control4.DeviceType{control4.TypeClimate, control4.TypeFan, control4.TypeContact} {
		if m.Devices[typ].Total != 1 {
			t.Errorf("devices[%s].total = %d, want 1", typ, m.Devices[typ].Total)
		}
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), nil)
	if rec := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without registry: status = %d, want 503", rec.Code)
	}

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_scrapes_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv = newTestServer(t, newFakeBridge(), func(d *Deps) { d.Gatherer = reg })
	rec := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_scrapes_total 1") {
		t.Errorf("exposition missing counter:\n%s", rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), nil)
	h := srv.buildRouter()

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:3000", "http://localhost:3000"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices/", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestDeviceHistory(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := device.NewSQLiteStateHistoryRepository(db.DB)
	for i := 0; i < 3; i++ {
		if err := repo.RecordStateChange(ctx, "202", device.State{"speed": i}, device.SourcePush); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	srv := newTestServer(t, newFakeBridge(), func(d *Deps) {
		d.History = repo
		d.DB = db.DB
	})
	h := srv.buildRouter()

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantCount float64
	}{
		{"all", "/api/v1/devices/202/history", http.StatusOK, 3},
		{"limited", "/api/v1/devices/202/history?limit=2", http.StatusOK, 2},
		{"future since", "/api/v1/devices/202/history?since=2999-01-01T00:00:00Z", http.StatusOK, 0},
		{"no rows", "/api/v1/devices/101/history", http.StatusOK, 0},
		{"bad limit", "/api/v1/devices/202/history?limit=0", http.StatusBadRequest, 0},
		{"limit too large", "/api/v1/devices/202/history?limit=500", http.StatusBadRequest, 0},
		{"bad since", "/api/v1/devices/202/history?since=yesterday", http.StatusBadRequest, 0},
		{"unknown device", "/api/v1/devices/999/history", http.StatusNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, "", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got := decode(t, rec)["count"]; got != tt.wantCount {
				t.Errorf("count = %v, want %v", got, tt.wantCount)
			}
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/metrics", "", nil)
	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if m.Database == nil {
		t.Error("database metrics missing")
	}
}

func TestDeviceHistory_Unavailable(t *testing.T) {
	srv := newTestServer(t, newFakeBridge(), nil)
	rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices/202/history", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestCommandAudit(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bridge := newFakeBridge()
	srv := newTestServer(t, bridge, func(d *Deps) { d.Audit = audit.NewSQLiteRepository(db.DB) })
	h := srv.buildRouter()
	token := mintToken(t, testSecret, "graylogic", time.Now().Add(time.Hour))

	do(t, h, http.MethodPost, "/api/v1/devices/202/commands", token,
		map[string]any{"command": "turn_on"})
	bridge.execErr = control4.ErrInvalidPreset
	do(t, h, http.MethodPost, "/api/v1/devices/202/commands", token,
		map[string]any{"command": "set_preset_mode", "parameters": map[string]any{"preset_mode": "9"}})

	tests := []struct {
		path      string
		wantCode  int
		wantTotal float64
	}{
		{"/api/v1/audit", http.StatusOK, 2},
		{"/api/v1/audit?status=failed", http.StatusOK, 1},
		{"/api/v1/audit?device_id=101", http.StatusOK, 0},
		{"/api/v1/audit?status=maybe", http.StatusBadRequest, 0},
		{"/api/v1/audit?limit=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, token, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			body := decode(t, rec)
			if body["total"] != tt.wantTotal {
				t.Errorf("total = %v, want %v", body["total"], tt.wantTotal)
			}
		})
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/audit", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated audit status = %d, want 401", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/audit?status=failed", token, nil)
	logs, _ := decode(t, rec)["logs"].([]any)
	if len(logs) != 1 {
		t.Fatalf("logs = %v", logs)
	}
	entry, _ := logs[0].(map[string]any)
	if entry["subject"] != "core" || entry["command"] != "set_preset_mode" || entry["source"] != "api" {
		t.Errorf("failed entry = %v", entry)
	}
}
