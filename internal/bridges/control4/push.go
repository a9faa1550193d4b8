package control4

import "maps"

// EventDataToUI is the only push envelope that carries device data.
const EventDataToUI = "OnDataToUI"

// PushMessage is one asynchronous update from the director for a device.
//
// A message with Disconnect set is the transport's "stream lost" sentinel
// and carries nothing else.
type PushMessage struct {
	Disconnect bool
	EventName  string
	DeviceID   int
	Time       string
	Data       map[string]any
}

// DisconnectMessage returns the stream-lost sentinel.
func DisconnectMessage() PushMessage {
	return PushMessage{Disconnect: true}
}

// DataMessage builds an OnDataToUI message for a device.
func DataMessage(deviceID int, data map[string]any) PushMessage {
	return PushMessage{EventName: EventDataToUI, DeviceID: deviceID, Data: data}
}

// Outcome is what a reducer did with a message.
type Outcome int

const (
	// Ignored means the message was not addressed to this device or had an
	// unrecognized envelope. The store is unchanged.
	Ignored Outcome = iota

	// Applied means a data message was merged. It is reported even when no
	// recognized field was present.
	Applied

	// Disconnected means the device was marked unavailable.
	Disconnected
)

// Changed reports whether readers should re-read the normalized state.
func (o Outcome) Changed() bool {
	return o != Ignored
}

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Disconnected:
		return "disconnected"
	default:
		return "ignored"
	}
}

// classify decides how a reducer should treat a message for deviceID.
func classify(deviceID int, msg PushMessage) Outcome {
	if msg.Disconnect {
		return Disconnected
	}
	if msg.DeviceID != 0 && msg.DeviceID != deviceID {
		return Ignored
	}
	if msg.EventName != EventDataToUI || msg.Data == nil {
		return Ignored
	}
	return Applied
}

// withExtras returns a copy of extras with the given entries added. The
// input map is never modified so earlier stores stay valid.
func withExtras(extras map[string]any, add map[string]any) map[string]any {
	if len(add) == 0 {
		return extras
	}
	out := make(map[string]any, len(extras)+len(add))
	maps.Copy(out, extras)
	for k, v := range add {
		if _, stale := v.(staleExtra); stale {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// staleExtra marks a key in an extras delta whose typed attribute now holds
// the value, so any raw copy must go.
type staleExtra struct{}
