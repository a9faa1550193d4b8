package control4

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/mqtt"
)

// commandTimeout bounds a single hub command issued by the bridge.
const commandTimeout = 10 * time.Second

// State history sources.
const (
	SourcePush     = "push"
	SourceCommand  = "command"
	SourceSnapshot = "snapshot"
)

// Bridge connects configured Control4 items to MQTT.
//
// It seeds every device from a director snapshot, feeds push messages
// through the device reducers, publishes normalized state, and executes
// commands received over MQTT or from the API.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	cfg       *Config
	mqtt      MQTTClient
	hub       Hub
	push      PushSubscriber
	stream    StreamMonitor
	history   StateRecorder
	telemetry TelemetryWriter
	health    *HealthReporter

	devices   map[int]Device
	devicesMu sync.RWMutex
	unsubs    []func()

	// Last published state per device, for change detection.
	stateCache   map[int][]byte
	stateCacheMu sync.Mutex

	// publishLocks serializes read-and-publish per device (int -> *sync.Mutex).
	publishLocks sync.Map

	pushReceived   atomic.Uint64
	pushIgnored    atomic.Uint64
	commandsSent   atomic.Uint64
	commandsFailed atomic.Uint64
	resyncing      atomic.Bool

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the MQTT surface the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Hub is the director's REST surface: snapshots and per-item command
// channels.
type Hub interface {
	ItemVariables(ctx context.Context, itemID int) (map[string]any, error)
	ClimateCommands(itemID int) ClimateCommander
	FanCommands(itemID int) FanCommander
}

// PushSubscriber delivers push messages for one item. Disconnect messages
// are delivered to every subscriber.
type PushSubscriber interface {
	Subscribe(itemID int, handler func(PushMessage)) (unsubscribe func())
}

// StateRecorder persists normalized state changes. Optional.
type StateRecorder interface {
	RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error
}

// TelemetryWriter stores numeric readings in a time-series database.
// Optional.
type TelemetryWriter interface {
	WriteDeviceState(deviceID, name, deviceType string, fields map[string]any, at time.Time)
}

// BridgeOptions holds everything needed to create a bridge.
type BridgeOptions struct {
	Config     *Config
	MQTTClient MQTTClient
	Hub        Hub
	Push       PushSubscriber

	// Stream reports push stream health. Optional.
	Stream StreamMonitor

	// History and Telemetry are optional.
	History   StateRecorder
	Telemetry TelemetryWriter

	Version string
	Logger  Logger
}

// NewBridge creates a bridge. Call Start to seed devices and begin
// operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if opts.Push == nil {
		return nil, fmt.Errorf("push subscriber is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		hub:        opts.Hub,
		push:       opts.Push,
		stream:     opts.Stream,
		history:    opts.History,
		telemetry:  opts.Telemetry,
		devices:    make(map[int]Device),
		stateCache: make(map[int][]byte),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Stream:    opts.Stream,
		Source:    b,
		Logger:    opts.Logger,
	})

	return b, nil
}

// Start seeds every configured device, subscribes to push updates and
// MQTT commands, and starts health reporting.
//
// A device whose snapshot cannot be fetched is still created, marked
// unavailable, and filled in by the next resync or push message.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	configs := b.cfg.UsableDevices(b.currentLogger())
	ids := make([]int, 0, len(configs))
	for _, dc := range configs {
		ids = append(ids, dc.ID)
	}
	snapshots := b.fetchSnapshots(ctx, ids)

	b.devicesMu.Lock()
	for _, dc := range configs {
		snap, ok := snapshots[dc.ID]
		dev := b.newDevice(dc, snap)
		if !ok {
			dev.Apply(DisconnectMessage())
		}
		b.devices[dc.ID] = dev
	}
	b.devicesMu.Unlock()

	for _, dev := range b.Devices() {
		b.unsubs = append(b.unsubs, b.push.Subscribe(dev.Identity().ID, func(msg PushMessage) {
			b.handlePush(dev, msg)
		}))
	}

	commandTopic := topics.BridgeCommandWildcard(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := topics.BridgeRequestWildcard(Protocol)
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	for _, dev := range b.Devices() {
		b.publishState(dev, SourceSnapshot)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"devices", len(configs),
		"seeded", len(snapshots))

	return nil
}

// Stop shuts the bridge down. In-flight commands are cancelled.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		for _, unsub := range b.unsubs {
			unsub()
		}

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) newDevice(dc DeviceConfig, snapshot map[string]any) Device {
	id := dc.Identity()
	logger := b.currentLogger()

	switch dc.Type {
	case TypeClimate:
		return NewClimate(id, snapshot, func() ClimateCommander {
			return b.hub.ClimateCommands(id.ID)
		}, ClimateOptions{Logger: logger, StrictModes: b.cfg.Bridge.StrictModes})
	case TypeFan:
		return NewFan(id, snapshot, func() FanCommander {
			return b.hub.FanCommands(id.ID)
		}, logger)
	default:
		return NewContactSensor(id, dc.DeviceClass, snapshot)
	}
}

// fetchSnapshots reads item variables for ids with bounded concurrency.
// Failed items are logged and left out of the result.
func (b *Bridge) fetchSnapshots(ctx context.Context, ids []int) map[int]map[string]any {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.GetSeedTimeout())
	defer cancel()

	var (
		g   errgroup.Group
		mu  sync.Mutex
		out = make(map[int]map[string]any, len(ids))
	)
	g.SetLimit(max(b.cfg.Bridge.SeedConcurrency, 1))

	for _, id := range ids {
		g.Go(func() error {
			snap, err := b.hub.ItemVariables(ctx, id)
			if err != nil {
				b.logWarn("snapshot failed", "device_id", id, "error", err)
				return nil
			}
			mu.Lock()
			out[id] = snap
			mu.Unlock()
			return nil
		})
	}
	//nolint:errcheck // goroutines never return errors
	g.Wait()

	return out
}

// Resync re-fetches every device snapshot and merges it into the stores.
// It returns the number of devices refreshed.
func (b *Bridge) Resync(ctx context.Context) int {
	devices := b.Devices()
	ids := make([]int, 0, len(devices))
	for _, dev := range devices {
		ids = append(ids, dev.Identity().ID)
	}

	snapshots := b.fetchSnapshots(ctx, ids)
	for _, dev := range devices {
		snap, ok := snapshots[dev.Identity().ID]
		if !ok {
			continue
		}
		dev.Reseed(snap)
		b.publishState(dev, SourceSnapshot)
	}

	b.logInfo("resync complete", "devices", len(devices), "refreshed", len(snapshots))
	return len(snapshots)
}

// RequestResync starts a background resync unless one is already running.
// It reports whether a resync was started.
func (b *Bridge) RequestResync() bool {
	select {
	case <-b.done:
		return false
	default:
	}
	if !b.resyncing.CompareAndSwap(false, true) {
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.resyncing.Store(false)
		b.Resync(b.ctx)
	}()
	return true
}

// Devices returns all bridged devices ordered by id.
func (b *Bridge) Devices() []Device {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()

	out := make([]Device, 0, len(b.devices))
	for _, dev := range b.devices {
		out = append(out, dev)
	}
	slices.SortFunc(out, func(x, y Device) int {
		return x.Identity().ID - y.Identity().ID
	})
	return out
}

// Device returns one device by Control4 item id.
func (b *Bridge) Device(id int) (Device, bool) {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	dev, ok := b.devices[id]
	return dev, ok
}

func (b *Bridge) handlePush(dev Device, msg PushMessage) {
	b.pushReceived.Add(1)

	outcome := dev.Apply(msg)
	if !outcome.Changed() {
		b.pushIgnored.Add(1)
		return
	}
	if outcome == Disconnected {
		b.logDebug("device unavailable", "device_id", dev.Identity().ID)
	}

	b.publishState(dev, SourcePush)
}

// publishState publishes the device's normalized state if it differs from
// the last one published, then records history and telemetry.
//
// The device is read while holding its publish lock, so a publish that
// read an older store can never land after one that read a newer store.
func (b *Bridge) publishState(dev Device, source string) {
	id := dev.Identity()
	unlock := b.lockPublish(id.ID)
	defer unlock()

	msg := NewStateMessage(dev)

	body, err := json.Marshal(struct {
		State     any  `json:"state"`
		Available bool `json:"available"`
	}{msg.State, msg.Available})
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if b.stateUnchanged(id.ID, body) {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(id.ID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}

	if b.history != nil {
		var state map[string]any
		if err := json.Unmarshal(body, &state); err == nil {
			if err := b.history.RecordStateChange(b.ctx, msg.DeviceID, state, source); err != nil {
				b.logDebug("state history skipped", "device_id", id.ID, "reason", err.Error())
			}
		}
	}

	if b.telemetry != nil {
		b.telemetry.WriteDeviceState(msg.DeviceID, id.Name, string(dev.Type()), dev.Telemetry(), msg.Timestamp)
	}
}

func (b *Bridge) lockPublish(id int) (unlock func()) {
	v, _ := b.publishLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// stateUnchanged reports whether body matches the cached state for id and
// updates the cache otherwise.
func (b *Bridge) stateUnchanged(id int, body []byte) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if prev, ok := b.stateCache[id]; ok && string(prev) == string(body) {
		return true
	}
	b.stateCache[id] = body
	return false
}

// handleMQTTMessage routes command and request messages.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	category, _, id, ok := mqtt.ParseBridgeTopic(topic)
	if !ok {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch category {
	case mqtt.CategoryCommand:
		b.handleCommand(id, payload)
	case mqtt.CategoryRequest:
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", category))
	}
}

func (b *Bridge) handleCommand(topicID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicID
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	id, err := strconv.Atoi(cmd.DeviceID)
	if err != nil {
		b.publishAck(NewAckError(cmd, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID)))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.Execute(ctx, id, cmd.Command, cmd.Parameters); err != nil {
		b.publishAck(NewAckError(cmd, ackCode(err), err.Error()))
		return
	}
	b.publishAck(NewAckMessage(cmd, AckAccepted))
}

// ackCode maps a command error to an acknowledgement error code.
func ackCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrUnsupportedMode):
		return ErrCodeUnsupportedMode
	case errors.Is(err, ErrInvalidParameters),
		errors.Is(err, ErrInvalidPercentage),
		errors.Is(err, ErrInvalidPreset):
		return ErrCodeInvalidParameters
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeDeviceUnreachable
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
	if ack.Error != nil {
		b.logWarn("command failed",
			"command_id", ack.CommandID,
			"device_id", ack.DeviceID,
			"code", ack.Error.Code,
			"message", ack.Error.Message)
	}
}

func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionResync:
		started := b.RequestResync()
		resp = newResponse(req, map[string]any{
			"started": started,
			"message": "snapshots will be re-fetched, state updates will follow",
		})
	default:
		resp = newErrorResponse(req, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	out, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), out, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return newErrorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	id, err := strconv.Atoi(req.DeviceID)
	if err != nil {
		return newErrorResponse(req, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", req.DeviceID))
	}
	dev, ok := b.Device(id)
	if !ok {
		return newErrorResponse(req, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	msg := NewStateMessage(dev)
	return newResponse(req, map[string]any{
		"device_id": msg.DeviceID,
		"type":      msg.Type,
		"available": msg.Available,
		"state":     msg.State,
	})
}

// HealthStats implements HealthSource.
func (b *Bridge) HealthStats() HealthStats {
	devices := b.Devices()
	available := 0
	for _, dev := range devices {
		if dev.Available() {
			available++
		}
	}
	return HealthStats{
		Statistics: BridgeStatistics{
			PushReceived:   b.pushReceived.Load(),
			PushIgnored:    b.pushIgnored.Load(),
			CommandsSent:   b.commandsSent.Load(),
			CommandsFailed: b.commandsFailed.Load(),
		},
		DevicesManaged:   len(devices),
		DevicesAvailable: available,
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected        bool   `json:"connected"`
	Status           string `json:"status"`
	Reconnects       uint64 `json:"reconnects"`
	PushReceived     uint64 `json:"push_received"`
	PushIgnored      uint64 `json:"push_ignored"`
	CommandsSent     uint64 `json:"commands_sent"`
	CommandsFailed   uint64 `json:"commands_failed"`
	DevicesManaged   int    `json:"devices_managed"`
	DevicesAvailable int    `json:"devices_available"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	hs := b.HealthStats()
	m := BridgeMetrics{
		Status:           "disconnected",
		PushReceived:     hs.Statistics.PushReceived,
		PushIgnored:      hs.Statistics.PushIgnored,
		CommandsSent:     hs.Statistics.CommandsSent,
		CommandsFailed:   hs.Statistics.CommandsFailed,
		DevicesManaged:   hs.DevicesManaged,
		DevicesAvailable: hs.DevicesAvailable,
	}
	if b.stream != nil {
		st := b.stream.Stats()
		m.Connected = st.Connected
		m.Reconnects = st.Reconnects
		if st.Connected {
			m.Status = "connected"
		}
	}
	return m
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) currentLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return orNoop(b.logger)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.currentLogger().Info(msg, keysAndValues...)
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.currentLogger().Warn(msg, keysAndValues...)
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.currentLogger().Debug(msg, keysAndValues...)
}

func (b *Bridge) logError(msg string, err error) {
	b.currentLogger().Error(msg, "error", err)
}
