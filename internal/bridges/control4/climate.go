package control4

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// Director variable names for thermostats.
const (
	AttrHVACState          = "HVAC_STATE"
	AttrHumidity           = "HUMIDITY"
	AttrHeatSetpoint       = "HEAT_SETPOINT"
	AttrHeatSetpointF      = "HEAT_SETPOINT_F"
	AttrHeatSetpointC      = "HEAT_SETPOINT_C"
	AttrCoolSetpoint       = "COOL_SETPOINT"
	AttrCoolSetpointF      = "COOL_SETPOINT_F"
	AttrCoolSetpointC      = "COOL_SETPOINT_C"
	AttrCurrentTemperature = "CURRENT_TEMPERATURE"
	AttrTemperature        = "TEMPERATURE"
	AttrCurrentTempF       = "CURRENT_TEMPERATURE_F"
	AttrCurrentTempC       = "CURRENT_TEMPERATURE_C"
	AttrTemperatureF       = "TEMPERATURE_F"
	AttrTemperatureC       = "TEMPERATURE_C"
	AttrHVACMode           = "HVAC_MODE"
	AttrFanMode            = "FAN_MODE"
	AttrFanState           = "FAN_STATE"
	AttrHVACModesList      = "HVAC_MODES_LIST"
	AttrScale              = "SCALE"
)

// MinTempRange is the smallest gap kept between heat and cool setpoints
// in heat_cool mode, in degrees.
const MinTempRange = 2.0

// setpointTolerance is how close a requested high setpoint must be to the
// current one to count as unchanged.
const setpointTolerance = 0.01

// climatePushKeys maps push data keys to the store's attribute names.
var climatePushKeys = map[string]string{
	"hvac_state":            AttrHVACState,
	"humidity":              AttrHumidity,
	"setpoint_heat":         AttrHeatSetpoint,
	"setpoint_heat_f":       AttrHeatSetpointF,
	"setpoint_heat_c":       AttrHeatSetpointC,
	"setpoint_cool":         AttrCoolSetpoint,
	"setpoint_cool_f":       AttrCoolSetpointF,
	"setpoint_cool_c":       AttrCoolSetpointC,
	"current_temperature":   AttrCurrentTemperature,
	"temperature":           AttrTemperature,
	"current_temperature_f": AttrCurrentTempF,
	"current_temperature_c": AttrCurrentTempC,
	"hvac_mode":             AttrHVACMode,
	"fan_mode":              AttrFanMode,
	"fan_state":             AttrFanState,
}

// ClimateFeature is a bit set of thermostat capabilities.
type ClimateFeature uint32

// Climate features.
const (
	FeatureTargetTemperature ClimateFeature = 1 << iota
	FeatureTargetTemperatureRange
	FeatureFanMode
	FeatureAuxHeat
)

// Names lists the set features.
func (f ClimateFeature) Names() []string {
	var out []string
	for _, n := range []struct {
		bit  ClimateFeature
		name string
	}{
		{FeatureTargetTemperature, "target_temperature"},
		{FeatureTargetTemperatureRange, "target_temperature_range"},
		{FeatureFanMode, "fan_mode"},
		{FeatureAuxHeat, "aux_heat"},
	} {
		if f&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// ClimateAttributes is a thermostat's attribute store. A nil field has not
// been observed yet, which is different from zero.
//
// Values are treated as immutable: ReduceClimate returns a new value and
// never writes through the pointers or into Extras of its input.
type ClimateAttributes struct {
	Available bool

	HVACState     *string
	Humidity      *float64
	HeatSetpoint  *float64
	HeatSetpointF *float64
	HeatSetpointC *float64
	CoolSetpoint  *float64
	CoolSetpointF *float64
	CoolSetpointC *float64
	CurrentTemp   *float64
	Temp          *float64
	CurrentTempF  *float64
	CurrentTempC  *float64
	TempF         *float64
	TempC         *float64
	RawHVACMode   *string
	RawFanMode    *string
	FanState      *string
	HVACModesList *string
	Scale         *string

	// Extras holds every other key seen in snapshots and push data.
	Extras map[string]any
}

// set stores v under a recognized attribute name. It reports false for
// names the store has no field for.
func (a *ClimateAttributes) set(key string, v any, extras map[string]any) bool {
	switch key {
	case AttrHVACState:
		setString(&a.HVACState, key, v, extras)
	case AttrHumidity:
		setFloat(&a.Humidity, key, v, extras)
	case AttrHeatSetpoint:
		setFloat(&a.HeatSetpoint, key, v, extras)
	case AttrHeatSetpointF:
		setFloat(&a.HeatSetpointF, key, v, extras)
	case AttrHeatSetpointC:
		setFloat(&a.HeatSetpointC, key, v, extras)
	case AttrCoolSetpoint:
		setFloat(&a.CoolSetpoint, key, v, extras)
	case AttrCoolSetpointF:
		setFloat(&a.CoolSetpointF, key, v, extras)
	case AttrCoolSetpointC:
		setFloat(&a.CoolSetpointC, key, v, extras)
	case AttrCurrentTemperature:
		setFloat(&a.CurrentTemp, key, v, extras)
	case AttrTemperature:
		setFloat(&a.Temp, key, v, extras)
	case AttrCurrentTempF:
		setFloat(&a.CurrentTempF, key, v, extras)
	case AttrCurrentTempC:
		setFloat(&a.CurrentTempC, key, v, extras)
	case AttrTemperatureF:
		setFloat(&a.TempF, key, v, extras)
	case AttrTemperatureC:
		setFloat(&a.TempC, key, v, extras)
	case AttrHVACMode:
		setString(&a.RawHVACMode, key, v, extras)
	case AttrFanMode:
		setString(&a.RawFanMode, key, v, extras)
	case AttrFanState:
		setString(&a.FanState, key, v, extras)
	case AttrHVACModesList:
		setString(&a.HVACModesList, key, v, extras)
	case AttrScale:
		setString(&a.Scale, key, v, extras)
	default:
		return false
	}
	return true
}

// SeedClimate merges a director snapshot (upper-case variable names) into
// prev and marks the store available.
func SeedClimate(prev ClimateAttributes, snapshot map[string]any) ClimateAttributes {
	next := prev
	extras := make(map[string]any)
	for k, v := range snapshot {
		if !next.set(k, v, extras) {
			extras[k] = v
		}
	}
	next.Extras = withExtras(prev.Extras, extras)
	next.Available = true
	return next
}

// ReduceClimate applies one push message to a thermostat store.
//
// A disconnect marks the store unavailable and keeps every value. An
// OnDataToUI message for deviceID copies each recognized key to its
// attribute, keeps unrecognized keys in Extras, marks the store available
// and reports Applied even if nothing recognized was present. Anything
// else returns prev unchanged with Ignored.
func ReduceClimate(deviceID int, prev ClimateAttributes, msg PushMessage) (ClimateAttributes, Outcome) {
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
		if attr, ok := climatePushKeys[k]; ok {
			next.set(attr, v, extras)
			continue
		}
		extras[k] = v
	}
	next.Extras = withExtras(prev.Extras, extras)
	next.Available = true
	return next, Applied
}

// HVACMode returns the normalized mode. Empty or unknown vendor modes read
// as off.
func (a ClimateAttributes) HVACMode() HVACMode {
	if a.RawHVACMode == nil || *a.RawHVACMode == "" {
		return HVACModeOff
	}
	if m, ok := HVACModes.FromVendor(*a.RawHVACMode); ok {
		return m
	}
	return HVACModeOff
}

// HVACModes returns the modes the thermostat advertises in
// HVAC_MODES_LIST, translated and de-duplicated in first-seen order.
// Never empty: with nothing recognized the result is [off].
func (a ClimateAttributes) HVACModes() []HVACMode {
	var out []HVACMode
	if a.HVACModesList != nil {
		seen := make(map[HVACMode]bool)
		for _, raw := range strings.Split(*a.HVACModesList, ",") {
			m, ok := HVACModes.FromVendor(raw)
			if !ok || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		out = []HVACMode{HVACModeOff}
	}
	return out
}

// HVACAction classifies HVAC_STATE. Unknown reads as off.
func (a ClimateAttributes) HVACAction() HVACAction {
	if a.HVACState == nil {
		return HVACActionOff
	}
	return ClassifyHVACAction(*a.HVACState)
}

// IsAuxHeat reports whether the thermostat is running emergency heat.
func (a ClimateAttributes) IsAuxHeat() bool {
	return a.RawHVACMode != nil && IsEmergencyMode(*a.RawHVACMode)
}

// FanMode returns the normalized fan mode, or false if unknown.
func (a ClimateAttributes) FanMode() (FanMode, bool) {
	if a.RawFanMode == nil {
		return "", false
	}
	return FanModes.FromVendor(*a.RawFanMode)
}

// CurrentTemperature prefers the pushed CURRENT_TEMPERATURE_F, falling
// back to the snapshot's TEMPERATURE_F.
func (a ClimateAttributes) CurrentTemperature() *float64 {
	if a.CurrentTempF != nil {
		return a.CurrentTempF
	}
	return a.TempF
}

// CurrentHumidity returns the humidity rounded to a whole percent.
func (a ClimateAttributes) CurrentHumidity() *int {
	if a.Humidity == nil {
		return nil
	}
	return ptr(int(math.Round(*a.Humidity)))
}

// TargetTemperature is the heat setpoint in heat mode and the cool
// setpoint in cool mode. Unset in every other mode.
func (a ClimateAttributes) TargetTemperature() *float64 {
	switch a.HVACMode() {
	case HVACModeHeat:
		return a.HeatSetpointF
	case HVACModeCool:
		return a.CoolSetpointF
	default:
		return nil
	}
}

// TargetTemperatureHigh is the cool setpoint, only in heat_cool mode.
func (a ClimateAttributes) TargetTemperatureHigh() *float64 {
	if a.HVACMode() != HVACModeHeatCool {
		return nil
	}
	return a.CoolSetpointF
}

// TargetTemperatureLow is the heat setpoint, only in heat_cool mode.
func (a ClimateAttributes) TargetTemperatureLow() *float64 {
	if a.HVACMode() != HVACModeHeatCool {
		return nil
	}
	return a.HeatSetpointF
}

// TemperatureUnit follows SCALE. An unknown scale reads as Fahrenheit,
// matching the _F variables the temperatures are taken from.
func (a ClimateAttributes) TemperatureUnit() TemperatureUnit {
	if a.Scale == nil || *a.Scale == string(Fahrenheit) {
		return Fahrenheit
	}
	return Celsius
}

// SupportedFeatures adds aux heat when the mode list offers emergency heat.
func (a ClimateAttributes) SupportedFeatures() ClimateFeature {
	f := FeatureTargetTemperature | FeatureFanMode | FeatureTargetTemperatureRange
	if a.HVACModesList != nil && IsEmergencyMode(*a.HVACModesList) {
		f |= FeatureAuxHeat
	}
	return f
}

// ClimateState is the normalized thermostat view published on MQTT and the
// API.
type ClimateState struct {
	Available             bool            `json:"available"`
	HVACMode              HVACMode        `json:"hvac_mode"`
	HVACModes             []HVACMode      `json:"hvac_modes"`
	HVACAction            HVACAction      `json:"hvac_action"`
	FanMode               FanMode         `json:"fan_mode,omitempty"`
	FanModes              []FanMode       `json:"fan_modes"`
	CurrentTemperature    *float64        `json:"current_temperature,omitempty"`
	TargetTemperature     *float64        `json:"target_temperature,omitempty"`
	TargetTemperatureLow  *float64        `json:"target_temperature_low,omitempty"`
	TargetTemperatureHigh *float64        `json:"target_temperature_high,omitempty"`
	CurrentHumidity       *int            `json:"current_humidity,omitempty"`
	TemperatureUnit       TemperatureUnit `json:"temperature_unit"`
	IsAuxHeat             bool            `json:"is_aux_heat"`
	AuxModeActive         bool            `json:"aux_mode_active"`
	SupportedFeatures     []string        `json:"supported_features"`
	Attributes            map[string]any  `json:"attributes,omitempty"`
}

// State builds the normalized view. auxActive is the local aux heat flag.
func (a ClimateAttributes) State(auxActive bool) ClimateState {
	s := ClimateState{
		Available:             a.Available,
		HVACMode:              a.HVACMode(),
		HVACModes:             a.HVACModes(),
		HVACAction:            a.HVACAction(),
		FanModes:              FanModes.Modes(),
		CurrentTemperature:    a.CurrentTemperature(),
		TargetTemperature:     a.TargetTemperature(),
		TargetTemperatureLow:  a.TargetTemperatureLow(),
		TargetTemperatureHigh: a.TargetTemperatureHigh(),
		CurrentHumidity:       a.CurrentHumidity(),
		TemperatureUnit:       a.TemperatureUnit(),
		IsAuxHeat:             a.IsAuxHeat(),
		AuxModeActive:         auxActive,
		SupportedFeatures:     a.SupportedFeatures().Names(),
		Attributes:            a.Extras,
	}
	if fm, ok := a.FanMode(); ok {
		s.FanMode = fm
	}
	return s
}

// ClimateCommander is the hub command channel for one thermostat.
type ClimateCommander interface {
	SetHvacMode(ctx context.Context, mode string) error
	SetFanMode(ctx context.Context, mode string) error
	SetHeatSetpoint(ctx context.Context, fahrenheit float64) error
	SetCoolSetpoint(ctx context.Context, fahrenheit float64) error
}

// ClimateOptions tunes a Climate.
type ClimateOptions struct {
	Logger Logger

	// StrictModes makes untranslatable mode requests return
	// ErrUnsupportedMode instead of only being logged.
	StrictModes bool
}

// TemperatureRequest is a set_temperature call: either a single
// Temperature or a Low/High pair for heat_cool.
type TemperatureRequest struct {
	Temperature *float64
	Low         *float64
	High        *float64
}

func (r TemperatureRequest) params() map[string]any {
	p := make(map[string]any, 3)
	if r.Temperature != nil {
		p["temperature"] = *r.Temperature
	}
	if r.Low != nil {
		p["target_temp_low"] = *r.Low
	}
	if r.High != nil {
		p["target_temp_high"] = *r.High
	}
	return p
}

// Climate is one bridged thermostat.
//
// Thread Safety: all methods are safe for concurrent use. Commands read
// the store under a read lock and release it before calling the hub.
type Climate struct {
	identity Identity
	commands func() ClimateCommander
	logger   Logger
	strict   bool

	mu    sync.RWMutex
	attrs ClimateAttributes

	auxHeat atomic.Bool
}

// NewClimate creates a thermostat seeded from snapshot. commands is called
// for every hub operation so each uses the current credentials.
func NewClimate(id Identity, snapshot map[string]any, commands func() ClimateCommander, opts ClimateOptions) *Climate {
	return &Climate{
		identity: id,
		commands: commands,
		logger:   orNoop(opts.Logger),
		strict:   opts.StrictModes,
		attrs:    SeedClimate(ClimateAttributes{}, snapshot),
	}
}

func (c *Climate) Identity() Identity { return c.identity }
func (c *Climate) Type() DeviceType   { return TypeClimate }

// Apply runs ReduceClimate against the store.
func (c *Climate) Apply(msg PushMessage) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, outcome := ReduceClimate(c.identity.ID, c.attrs, msg)
	c.attrs = next
	return outcome
}

// Reseed merges a fresh snapshot.
func (c *Climate) Reseed(snapshot map[string]any) {
	c.mu.Lock()
	c.attrs = SeedClimate(c.attrs, snapshot)
	c.mu.Unlock()
}

// Attributes returns the current store.
func (c *Climate) Attributes() ClimateAttributes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attrs
}

func (c *Climate) Available() bool {
	return c.Attributes().Available
}

// State returns the normalized thermostat view.
func (c *Climate) State() ClimateState {
	return c.Attributes().State(c.auxHeat.Load())
}

func (c *Climate) NormalizedState() any {
	return c.State()
}

func (c *Climate) Telemetry() map[string]any {
	a := c.Attributes()
	fields := map[string]any{
		"available":   a.Available,
		"hvac_mode":   string(a.HVACMode()),
		"hvac_action": string(a.HVACAction()),
	}
	putFloat(fields, "current_temperature", a.CurrentTemperature())
	putFloat(fields, "target_temperature", a.TargetTemperature())
	putFloat(fields, "target_temperature_low", a.TargetTemperatureLow())
	putFloat(fields, "target_temperature_high", a.TargetTemperatureHigh())
	putFloat(fields, "humidity", a.Humidity)
	return fields
}

func putFloat(fields map[string]any, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

// AuxHeatActive reports the local aux heat flag.
func (c *Climate) AuxHeatActive() bool {
	return c.auxHeat.Load()
}

// TurnAuxHeatOn makes later heat requests use emergency heat. Nothing is
// sent to the hub.
func (c *Climate) TurnAuxHeatOn() {
	c.auxHeat.Store(true)
}

// TurnAuxHeatOff reverts heat requests to normal heat. Nothing is sent to
// the hub.
func (c *Climate) TurnAuxHeatOff() {
	c.auxHeat.Store(false)
}

// SetHVACMode sends a mode change. Heat goes out as "Emergency Heat" while
// the aux flag is on.
func (c *Climate) SetHVACMode(ctx context.Context, mode HVACMode) error {
	var vendor string
	switch {
	case mode == HVACModeHeat && c.auxHeat.Load():
		vendor = VendorHVACEmergency
	case mode == HVACModeHeat:
		vendor = VendorHVACHeat
	default:
		v, ok := HVACModes.ToVendor(mode)
		if !ok {
			return c.unsupported("hvac", string(mode))
		}
		vendor = v
	}

	c.logger.Debug("set hvac mode", "device_id", c.identity.ID, "mode", mode, "vendor_mode", vendor)
	if err := c.commands().SetHvacMode(ctx, vendor); err != nil {
		return c.failed("hvac_mode", map[string]any{"hvac_mode": string(mode)}, err)
	}
	return nil
}

// SetFanMode sends a fan mode change.
func (c *Climate) SetFanMode(ctx context.Context, mode FanMode) error {
	vendor, ok := FanModes.ToVendor(mode)
	if !ok {
		return c.unsupported("fan", string(mode))
	}

	c.logger.Debug("set fan mode", "device_id", c.identity.ID, "mode", mode, "vendor_mode", vendor)
	if err := c.commands().SetFanMode(ctx, vendor); err != nil {
		return c.failed("fan_mode", map[string]any{"fan_mode": string(mode)}, err)
	}
	return nil
}

// SetTemperature sends setpoints for the current mode.
//
// In heat_cool both Low and High are required; if they are closer than
// MinTempRange the bound that matches the current high setpoint is moved
// and the other held. Heat is sent before cool. In heat or cool mode only
// Temperature is used. Anything missing for the mode is a no-op.
func (c *Climate) SetTemperature(ctx context.Context, req TemperatureRequest) error {
	attrs := c.Attributes()

	switch attrs.HVACMode() {
	case HVACModeHeatCool:
		if req.Low == nil || req.High == nil {
			return nil
		}
		low, high := enforceMinRange(*req.Low, *req.High, attrs.TargetTemperatureHigh())
		cmd := c.commands()
		if err := cmd.SetHeatSetpoint(ctx, low); err != nil {
			return c.failed("temperature", req.params(), err)
		}
		if err := cmd.SetCoolSetpoint(ctx, high); err != nil {
			return c.failed("temperature", req.params(), err)
		}
	case HVACModeCool:
		if req.Temperature == nil {
			return nil
		}
		if err := c.commands().SetCoolSetpoint(ctx, *req.Temperature); err != nil {
			return c.failed("temperature", req.params(), err)
		}
	case HVACModeHeat:
		if req.Temperature == nil {
			return nil
		}
		if err := c.commands().SetHeatSetpoint(ctx, *req.Temperature); err != nil {
			return c.failed("temperature", req.params(), err)
		}
	}
	return nil
}

// enforceMinRange widens a low/high pair to MinTempRange. When high equals
// the previous high (the caller moved low) high is pushed up; otherwise
// low is pushed down.
func enforceMinRange(low, high float64, prevHigh *float64) (float64, float64) {
	if high-low >= MinTempRange {
		return low, high
	}
	if prevHigh != nil && math.Abs(high-*prevHigh) < setpointTolerance {
		return low, low + MinTempRange
	}
	return high - MinTempRange, high
}

func (c *Climate) unsupported(kind, mode string) error {
	c.logger.Error("request for unsupported mode received",
		"device_id", c.identity.ID, "kind", kind, "mode", mode)
	if c.strict {
		return &UpdateFailedError{
			DeviceID:  c.identity.ID,
			Name:      c.identity.Name,
			Operation: kind + "_mode",
			Params:    map[string]any{kind + "_mode": mode},
			Err:       ErrUnsupportedMode,
		}
	}
	return nil
}

func (c *Climate) failed(op string, params map[string]any, err error) error {
	return &UpdateFailedError{
		DeviceID:  c.identity.ID,
		Name:      c.identity.Name,
		Operation: op,
		Params:    params,
		Err:       err,
	}
}
