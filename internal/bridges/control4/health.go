package control4

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-control4/internal/director"
)

// HealthReporter publishes bridge health to MQTT at a fixed interval.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	stream    StreamMonitor
	source    HealthSource

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher publishes retained health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StreamMonitor reports the director push stream's state.
// *director.Stream satisfies it.
type StreamMonitor interface {
	Stats() director.StreamStats
}

// HealthSource supplies bridge counters for health messages.
type HealthSource interface {
	HealthStats() HealthStats
}

// HealthStats is a snapshot of bridge counters and device availability.
type HealthStats struct {
	Statistics       BridgeStatistics
	DevicesManaged   int
	DevicesAvailable int
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval defaults to 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Stream    StreamMonitor
	Source    HealthSource
	Logger    Logger
}

// NewHealthReporter creates a health reporter. Call Start to begin
// reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		stream:    cfg.Stream,
		source:    cfg.Source,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament payload.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.stream == nil || !h.stream.Stats().Connected {
		return HealthDegraded, "director stream disconnected"
	}
	if h.source != nil {
		stats := h.source.HealthStats()
		if missing := stats.DevicesManaged - stats.DevicesAvailable; missing > 0 {
			return HealthDegraded, fmt.Sprintf("%d of %d devices unavailable", missing, stats.DevicesManaged)
		}
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}

	if h.stream != nil {
		st := h.stream.Stats()
		conn := "disconnected"
		if st.Connected {
			conn = "connected"
		}
		msg.Director = &DirectorStatus{Status: conn, Reconnects: st.Reconnects}
	}

	if h.source != nil {
		stats := h.source.HealthStats()
		msg.Statistics = &stats.Statistics
		msg.DevicesManaged = stats.DevicesManaged
		msg.DevicesAvailable = stats.DevicesAvailable
	}

	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
