package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Gray Logic topic.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id}.
const TopicPrefix = "graylogic"

// Topic categories used by protocol bridges.
const (
	CategoryState    = "state"
	CategoryCommand  = "command"
	CategoryAck      = "ack"
	CategoryRequest  = "request"
	CategoryResponse = "response"
	CategoryHealth   = "health"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("control4", "123") // graylogic/state/control4/123
type Topics struct{}

// BridgeState returns the retained device state topic.
func (Topics) BridgeState(protocol, deviceID string) string {
	return bridgeTopic(CategoryState, protocol, deviceID)
}

// BridgeCommand returns the topic commands for one device arrive on.
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return bridgeTopic(CategoryCommand, protocol, deviceID)
}

// BridgeAck returns the topic command acknowledgements are published on.
func (Topics) BridgeAck(protocol, deviceID string) string {
	return bridgeTopic(CategoryAck, protocol, deviceID)
}

// BridgeRequest returns the topic for a request to a bridge.
func (Topics) BridgeRequest(protocol, requestID string) string {
	return bridgeTopic(CategoryRequest, protocol, requestID)
}

// BridgeResponse returns the topic a request's response is published on.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return bridgeTopic(CategoryResponse, protocol, requestID)
}

// BridgeHealth returns the retained bridge health topic.
//
// Example: graylogic/health/control4
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, CategoryHealth, protocol)
}

// BridgeCommandWildcard matches commands for every device of a bridge.
//
// Pattern: graylogic/command/control4/+
func (Topics) BridgeCommandWildcard(protocol string) string {
	return bridgeTopic(CategoryCommand, protocol, "+")
}

// BridgeRequestWildcard matches every request addressed to a bridge.
//
// Pattern: graylogic/request/control4/+
func (Topics) BridgeRequestWildcard(protocol string) string {
	return bridgeTopic(CategoryRequest, protocol, "+")
}

// ProcessStatus returns the retained online/offline topic for one MQTT
// client. The LWT is registered here.
//
// Example: graylogic/system/graylogic-control4/status
func (Topics) ProcessStatus(clientID string) string {
	return fmt.Sprintf("%s/system/%s/status", TopicPrefix, clientID)
}

func bridgeTopic(category, protocol, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, category, protocol, id)
}

// ParseBridgeTopic splits graylogic/{category}/{protocol}/{id}.
// ok is false if the topic does not have that shape.
func ParseBridgeTopic(topic string) (category, protocol, id string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix {
		return "", "", "", false
	}
	if parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}
