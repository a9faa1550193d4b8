package control4

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/mqtt"
)

// Protocol is the bridge's protocol identifier in topics and messages.
const Protocol = "control4"

var topics = mqtt.Topics{}

// CommandMessage is sent from Core to the bridge to change a device.
// Topic: graylogic/command/control4/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Control4 item id as a string.
	DeviceID string `json:"device_id"`

	// Command is one of the Cmd* names.
	Command string `json:"command"`

	// Parameters holds command values, for example
	//   {"hvac_mode": "heat"} for set_hvac_mode
	//   {"target_temp_low": 68, "target_temp_high": 72} for set_temperature
	//   {"percentage": 50} for set_percentage
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated: "api", "mqtt", ...
	Source string `json:"source"`
}

// Command names accepted on the command topic and the API.
const (
	CmdSetHVACMode    = "set_hvac_mode"
	CmdSetFanMode     = "set_fan_mode"
	CmdSetTemperature = "set_temperature"
	CmdAuxHeatOn      = "aux_heat_on"
	CmdAuxHeatOff     = "aux_heat_off"
	CmdTurnOn         = "turn_on"
	CmdTurnOff        = "turn_off"
	CmdToggle         = "toggle"
	CmdSetPercentage  = "set_percentage"
	CmdSetPreset      = "set_preset"
)

// UnmarshalJSON accepts an RFC 3339 timestamp or none.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted means the hub accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"

	// AckTimeout means the hub did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core for every command.
// Topic: graylogic/ack/control4/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeUnsupportedMode   = "UNSUPPORTED_MODE"
	ErrCodeTimeout           = "TIMEOUT"
)

// NewAckMessage creates a successful acknowledgement.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// StateMessage carries a device's normalized state.
// Topic: graylogic/state/control4/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string     `json:"device_id"`
	Timestamp time.Time  `json:"timestamp"`
	Type      DeviceType `json:"type"`
	Name      string     `json:"name"`
	Area      string     `json:"area,omitempty"`
	State     any        `json:"state"`
	Protocol  string     `json:"protocol"`
	Available bool       `json:"available"`
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(dev Device) StateMessage {
	id := dev.Identity()
	return StateMessage{
		DeviceID:  strconv.Itoa(id.ID),
		Timestamp: time.Now().UTC(),
		Type:      dev.Type(),
		Name:      id.Name,
		Area:      id.Area,
		State:     dev.NormalizedState(),
		Protocol:  Protocol,
		Available: dev.Available(),
	}
}

// RequestMessage is sent from Core to the bridge.
// Topic: graylogic/request/control4/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state" or "resync".
	Action string `json:"action"`

	// DeviceID is required for read_state.
	DeviceID string `json:"device_id,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionResync    = "resync"
)

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/control4/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

func newResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func newErrorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &AckError{Code: code, Message: message},
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/control4
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge           string            `json:"bridge"`
	Timestamp        time.Time         `json:"timestamp"`
	Status           HealthStatus      `json:"status"`
	Version          string            `json:"version"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	Director         *DirectorStatus   `json:"director,omitempty"`
	Statistics       *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged   int               `json:"devices_managed"`
	DevicesAvailable int               `json:"devices_available"`
	Reason           string            `json:"reason,omitempty"`
}

// DirectorStatus describes the push stream connection.
type DirectorStatus struct {
	Status     string `json:"status"`
	Reconnects uint64 `json:"reconnects"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	PushReceived   uint64 `json:"push_received"`
	PushIgnored    uint64 `json:"push_ignored"`
	CommandsSent   uint64 `json:"commands_sent"`
	CommandsFailed uint64 `json:"commands_failed"`
}

// NewLWTMessage creates the offline health message for unexpected
// disconnects.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers.

// StateTopic returns the retained state topic for a device.
func StateTopic(deviceID int) string {
	return topics.BridgeState(Protocol, strconv.Itoa(deviceID))
}

// CommandTopic returns the command topic for a device.
func CommandTopic(deviceID int) string {
	return topics.BridgeCommand(Protocol, strconv.Itoa(deviceID))
}

// AckTopic returns the acknowledgement topic for a device id string.
func AckTopic(deviceID string) string {
	return topics.BridgeAck(Protocol, deviceID)
}

// ResponseTopic returns the response topic for a request.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, requestID)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}
