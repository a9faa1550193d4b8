package control4

// Identity describes a Control4 item. It does not change after creation.
type Identity struct {
	ID       int    `json:"id"`
	ParentID int    `json:"parent_id"`
	Name     string `json:"name"`
	Area     string `json:"area"`
}

// DeviceType is the device class a configured item is bridged as.
type DeviceType string

// Supported device types.
const (
	TypeClimate DeviceType = "climate"
	TypeFan     DeviceType = "fan"
	TypeContact DeviceType = "contact"
)

// Valid reports whether t is a supported device type.
func (t DeviceType) Valid() bool {
	switch t {
	case TypeClimate, TypeFan, TypeContact:
		return true
	default:
		return false
	}
}

// Device is the surface the bridge needs from every device class.
type Device interface {
	// Identity returns the item identity.
	Identity() Identity

	// Type returns the device class.
	Type() DeviceType

	// Apply runs the device's reducer on a push message.
	Apply(msg PushMessage) Outcome

	// Reseed merges a fresh snapshot into the store and marks the device
	// available.
	Reseed(snapshot map[string]any)

	// Available reports whether the push stream is delivering updates.
	Available() bool

	// NormalizedState returns the device's JSON-serialisable normalized view.
	NormalizedState() any

	// Telemetry returns numeric and short string fields for time-series
	// storage. Unknown values are omitted.
	Telemetry() map[string]any
}

// Logger is the logging surface the bridge needs. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func orNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
