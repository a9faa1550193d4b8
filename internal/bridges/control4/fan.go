package control4

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Director variable names for fans.
const (
	AttrCurrentSpeed = "CURRENT_SPEED"
	AttrPresetSpeed  = "PRESET_SPEED"
)

// Fan speed range. Speed 0 is off; 1..MaxFanSpeed are the running steps.
const (
	MinFanSpeed       = 1
	MaxFanSpeed       = 4
	MaxFanPreset      = 4
	FanPercentageStep = 100 / MaxFanSpeed
)

// FanFeature is a bit set of fan capabilities.
type FanFeature uint32

// Fan features.
const (
	FeatureSetSpeed FanFeature = 1 << iota
	FeaturePresetMode
)

// Names lists the set features.
func (f FanFeature) Names() []string {
	var out []string
	if f&FeatureSetSpeed != 0 {
		out = append(out, "set_speed")
	}
	if f&FeaturePresetMode != 0 {
		out = append(out, "preset_mode")
	}
	return out
}

// FanAttributes is a fan's attribute store.
type FanAttributes struct {
	Available    bool
	CurrentSpeed *int
	PresetSpeed  *int
	Extras       map[string]any
}

// SeedFan merges a director snapshot into prev and marks it available.
func SeedFan(prev FanAttributes, snapshot map[string]any) FanAttributes {
	next := prev
	extras := make(map[string]any)
	for k, v := range snapshot {
		switch k {
		case AttrCurrentSpeed:
			setInt(&next.CurrentSpeed, k, v, extras)
		case AttrPresetSpeed:
			setInt(&next.PresetSpeed, k, v, extras)
		default:
			extras[k] = v
		}
	}
	next.Extras = withExtras(prev.Extras, extras)
	next.Available = true
	return next
}

// ReduceFan applies one push message to a fan store. Speed arrives as
// fan_state.current_speed and preset as fan_setup.preset_speed. Other
// envelope members go to Extras under "fan_state.<member>" and
// "fan_setup.<member>"; other top-level keys are kept as they are.
func ReduceFan(deviceID int, prev FanAttributes, msg PushMessage) (FanAttributes, Outcome) {
	outcome := classify(deviceID, msg)
	switch outcome {
	case Ignored:
		return prev, Ignored
	case Disconnected:
		next := prev
		next.Available = false
		return next, Disconnected
	}

	next := prev
	extras := make(map[string]any)
	for k, v := range msg.Data {
		switch k {
		case "fan_state":
			extractNested(v, k, "current_speed", AttrCurrentSpeed, &next.CurrentSpeed, extras)
		case "fan_setup":
			extractNested(v, k, "preset_speed", AttrPresetSpeed, &next.PresetSpeed, extras)
		default:
			extras[k] = v
		}
	}
	next.Extras = withExtras(prev.Extras, extras)
	next.Available = true
	return next, Applied
}

// extractNested pulls field out of the envelope named name into dst.
// Remaining envelope members are kept in extras as "name.member" so they
// cannot shadow top-level keys. The envelope itself is not modified.
func extractNested(envelope any, name, field, attr string, dst **int, extras map[string]any) {
	m, ok := envelope.(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		if k == field {
			setInt(dst, attr, v, extras)
			continue
		}
		extras[nestedKey(name, k)] = v
	}
}

func nestedKey(envelope, member string) string {
	return envelope + "." + member
}

// IsOn reports whether the fan is running. An unknown speed reads as off.
func (a FanAttributes) IsOn() bool {
	return a.CurrentSpeed != nil && *a.CurrentSpeed != 0
}

// Percentage converts the current speed to 0-100 in steps of
// FanPercentageStep. Nil when the speed is unknown.
func (a FanAttributes) Percentage() *int {
	if a.CurrentSpeed == nil {
		return nil
	}
	return ptr(SpeedToPercentage(*a.CurrentSpeed))
}

// SpeedToPercentage maps speed 0..4 onto 0..100.
func SpeedToPercentage(speed int) int {
	return speed * 100 / MaxFanSpeed
}

// PercentageToSpeed maps a percentage onto the nearest running speed
// 1..4. Zero maps to the lowest speed; use TurnOff to stop the fan.
func PercentageToSpeed(pct float64) int {
	speed := int(math.Round(pct * MaxFanSpeed / 100))
	return min(max(speed, MinFanSpeed), MaxFanSpeed)
}

// FanState is the normalized fan view.
type FanState struct {
	Available         bool           `json:"available"`
	IsOn              bool           `json:"is_on"`
	SpeedStep         *int           `json:"speed_step,omitempty"`
	Percentage        *int           `json:"percentage,omitempty"`
	PercentageStep    int            `json:"percentage_step"`
	PresetMode        *int           `json:"preset_mode,omitempty"`
	PresetModes       []int          `json:"preset_modes"`
	SupportedFeatures []string       `json:"supported_features"`
	Attributes        map[string]any `json:"attributes,omitempty"`
}

// State builds the normalized view.
func (a FanAttributes) State() FanState {
	presets := make([]int, 0, MaxFanPreset+1)
	for p := 0; p <= MaxFanPreset; p++ {
		presets = append(presets, p)
	}
	return FanState{
		Available:         a.Available,
		IsOn:              a.IsOn(),
		SpeedStep:         a.CurrentSpeed,
		Percentage:        a.Percentage(),
		PercentageStep:    FanPercentageStep,
		PresetMode:        a.PresetSpeed,
		PresetModes:       presets,
		SupportedFeatures: (FeatureSetSpeed | FeaturePresetMode).Names(),
		Attributes:        a.Extras,
	}
}

// FanCommander is the hub command channel for one fan.
type FanCommander interface {
	SetSpeed(ctx context.Context, speed int) error
	SetPreset(ctx context.Context, preset int) error
}

// Fan is one bridged fan.
//
// Thread Safety: all methods are safe for concurrent use.
type Fan struct {
	identity Identity
	commands func() FanCommander
	logger   Logger

	mu    sync.RWMutex
	attrs FanAttributes
}

// NewFan creates a fan seeded from snapshot.
func NewFan(id Identity, snapshot map[string]any, commands func() FanCommander, logger Logger) *Fan {
	return &Fan{
		identity: id,
		commands: commands,
		logger:   orNoop(logger),
		attrs:    SeedFan(FanAttributes{}, snapshot),
	}
}

func (f *Fan) Identity() Identity { return f.identity }
func (f *Fan) Type() DeviceType   { return TypeFan }

func (f *Fan) Apply(msg PushMessage) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, outcome := ReduceFan(f.identity.ID, f.attrs, msg)
	f.attrs = next
	return outcome
}

func (f *Fan) Reseed(snapshot map[string]any) {
	f.mu.Lock()
	f.attrs = SeedFan(f.attrs, snapshot)
	f.mu.Unlock()
}

// Attributes returns the current store.
func (f *Fan) Attributes() FanAttributes {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.attrs
}

func (f *Fan) Available() bool      { return f.Attributes().Available }
func (f *Fan) IsOn() bool           { return f.Attributes().IsOn() }
func (f *Fan) State() FanState      { return f.Attributes().State() }
func (f *Fan) NormalizedState() any { return f.State() }

func (f *Fan) Telemetry() map[string]any {
	a := f.Attributes()
	fields := map[string]any{
		"available": a.Available,
		"is_on":     a.IsOn(),
	}
	if a.CurrentSpeed != nil {
		fields["speed"] = *a.CurrentSpeed
		fields["percentage"] = SpeedToPercentage(*a.CurrentSpeed)
	}
	if a.PresetSpeed != nil {
		fields["preset"] = *a.PresetSpeed
	}
	return fields
}

// TurnOn starts the fan at its preset speed, or at speed 1 when no
// nonzero preset is known.
func (f *Fan) TurnOn(ctx context.Context) error {
	a := f.Attributes()
	speed := MinFanSpeed
	if a.PresetSpeed != nil && *a.PresetSpeed != 0 {
		speed = *a.PresetSpeed
	}
	return f.setSpeed(ctx, "turn_on", speed)
}

// TurnOff stops the fan.
func (f *Fan) TurnOff(ctx context.Context) error {
	return f.setSpeed(ctx, "turn_off", 0)
}

// Toggle turns the fan off if it is running, on otherwise.
func (f *Fan) Toggle(ctx context.Context) error {
	if f.IsOn() {
		return f.TurnOff(ctx)
	}
	return f.TurnOn(ctx)
}

// SetPercentage sets the nearest running speed for pct (0-100).
func (f *Fan) SetPercentage(ctx context.Context, pct float64) error {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidPercentage, pct)
	}
	return f.setSpeed(ctx, "percentage", PercentageToSpeed(pct))
}

// SetPreset sends a preset as-is. Presets are opaque levels 0-4.
func (f *Fan) SetPreset(ctx context.Context, preset int) error {
	if preset < 0 || preset > MaxFanPreset {
		return fmt.Errorf("%w: %d", ErrInvalidPreset, preset)
	}
	f.logger.Debug("set fan preset", "device_id", f.identity.ID, "preset", preset)
	if err := f.commands().SetPreset(ctx, preset); err != nil {
		return &UpdateFailedError{
			DeviceID:  f.identity.ID,
			Name:      f.identity.Name,
			Operation: "preset_mode",
			Params:    map[string]any{"preset_mode": preset},
			Err:       err,
		}
	}
	return nil
}

func (f *Fan) setSpeed(ctx context.Context, op string, speed int) error {
	f.logger.Debug("set fan speed", "device_id", f.identity.ID, "op", op, "speed", speed)
	if err := f.commands().SetSpeed(ctx, speed); err != nil {
		return &UpdateFailedError{
			DeviceID:  f.identity.ID,
			Name:      f.identity.Name,
			Operation: op,
			Params:    map[string]any{"speed": speed},
			Err:       err,
		}
	}
	return nil
}
