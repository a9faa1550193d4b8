package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-control4/internal/bridges/control4"
)

// SystemMetrics is the /api/v1/metrics response.
type SystemMetrics struct {
	Timestamp     time.Time                                `json:"timestamp"`
	Version       string                                   `json:"version"`
	UptimeSeconds int64                                    `json:"uptime_seconds"`
	Runtime       RuntimeMetrics                           `json:"runtime"`
	MQTT          MQTTMetrics                              `json:"mqtt"`
	Bridge        control4.BridgeMetrics                   `json:"bridge"`
	Devices       map[control4.DeviceType]DeviceTypeCounts `json:"devices"`
	Database      *DatabaseMetrics                         `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
	LastGCPauseMS float64 `json:"last_gc_pause_ms"`
}

// MQTTMetrics reports broker connectivity.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceTypeCounts is how many devices of one type are bridged and how
// many of those are currently available.
type DeviceTypeCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

// DatabaseMetrics contains connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC(),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			HeapAllocMB:   float64(mem.HeapAlloc) / (1 << 20),
			NumGC:         mem.NumGC,
			LastGCPauseMS: float64(mem.PauseNs[(mem.NumGC+255)%256]) / float64(time.Millisecond),
		},
		MQTT:    MQTTMetrics{Connected: s.mqtt != nil && s.mqtt.IsConnected()},
		Bridge:  s.bridge.GetMetrics(),
		Devices: countDevices(s.bridge.Devices()),
	}

	if s.db != nil {
		st := s.db.Stats()
		m.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

// countDevices groups devices by type.
func countDevices(devices []control4.Device) map[control4.DeviceType]DeviceTypeCounts {
	out := make(map[control4.DeviceType]DeviceTypeCounts)
	for _, dev := range devices {
		c := out[dev.Type()]
		c.Total++
		if dev.Available() {
			c.Available++
		}
		out[dev.Type()] = c
	}
	return out
}
