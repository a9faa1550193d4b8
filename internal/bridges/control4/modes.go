package control4

import "strings"

// HVACMode is a normalized thermostat mode.
type HVACMode string

// Normalized HVAC modes.
const (
	HVACModeOff      HVACMode = "off"
	HVACModeHeat     HVACMode = "heat"
	HVACModeCool     HVACMode = "cool"
	HVACModeHeatCool HVACMode = "heat_cool"
)

// HVACAction is what the equipment is doing right now.
type HVACAction string

// Normalized HVAC actions.
const (
	HVACActionOff     HVACAction = "off"
	HVACActionHeating HVACAction = "heating"
	HVACActionCooling HVACAction = "cooling"
)

// FanMode is a normalized thermostat fan mode.
type FanMode string

// Normalized fan modes.
const (
	FanModeOn      FanMode = "on"
	FanModeAuto    FanMode = "auto"
	FanModeDiffuse FanMode = "diffuse"
)

// TemperatureUnit is the unit a thermostat displays.
type TemperatureUnit string

// Temperature units.
const (
	Fahrenheit TemperatureUnit = "F"
	Celsius    TemperatureUnit = "C"
)

// Vendor mode strings as the director reports and accepts them.
const (
	VendorHVACOff       = "Off"
	VendorHVACHeat      = "Heat"
	VendorHVACCool      = "Cool"
	VendorHVACAuto      = "Auto"
	VendorHVACEmergency = "Emergency Heat"

	VendorFanOn        = "On"
	VendorFanAuto      = "Auto"
	VendorFanCirculate = "Circulate"
)

type modePair[N comparable] struct {
	mode   N
	vendor string
}

// ModeTable is an immutable two-way mapping between normalized modes and
// vendor strings. Every normalized mode has exactly one canonical vendor
// string; extra vendor aliases may map back onto an existing mode.
type ModeTable[N comparable] struct {
	forward map[N]string
	reverse map[string]N
	order   []N
}

func newModeTable[N comparable](pairs []modePair[N], aliases map[string]N) ModeTable[N] {
	t := ModeTable[N]{
		forward: make(map[N]string, len(pairs)),
		reverse: make(map[string]N, len(pairs)+len(aliases)),
		order:   make([]N, 0, len(pairs)),
	}
	for _, p := range pairs {
		t.forward[p.mode] = p.vendor
		t.reverse[p.vendor] = p.mode
		t.order = append(t.order, p.mode)
	}
	for vendor, mode := range aliases {
		t.reverse[vendor] = mode
	}
	return t
}

// ToVendor returns the canonical vendor string for a normalized mode.
func (t ModeTable[N]) ToVendor(mode N) (string, bool) {
	v, ok := t.forward[mode]
	return v, ok
}

// FromVendor returns the normalized mode for a vendor string. Matching is
// exact and case-sensitive.
func (t ModeTable[N]) FromVendor(vendor string) (N, bool) {
	m, ok := t.reverse[vendor]
	return m, ok
}

// Modes lists the normalized modes in table order.
func (t ModeTable[N]) Modes() []N {
	out := make([]N, len(t.order))
	copy(out, t.order)
	return out
}

// HVACModes translates thermostat modes. "Emergency Heat" reads back as
// heat; sending heat with auxiliary heat enabled is handled by Climate.
var HVACModes = newModeTable(
	[]modePair[HVACMode]{
		{HVACModeOff, VendorHVACOff},
		{HVACModeHeat, VendorHVACHeat},
		{HVACModeCool, VendorHVACCool},
		{HVACModeHeatCool, VendorHVACAuto},
	},
	map[string]HVACMode{VendorHVACEmergency: HVACModeHeat},
)

// FanModes translates thermostat fan modes.
var FanModes = newModeTable(
	[]modePair[FanMode]{
		{FanModeOn, VendorFanOn},
		{FanModeAuto, VendorFanAuto},
		{FanModeDiffuse, VendorFanCirculate},
	},
	nil,
)

// ClassifyHVACAction derives the running action from the free-text
// HVAC_STATE string: "Cool" anywhere means cooling, otherwise "Heat"
// anywhere means heating. Case-sensitive; "Stage 1 Heat" is heating,
// "heat" is not.
func ClassifyHVACAction(state string) HVACAction {
	switch {
	case strings.Contains(state, "Cool"):
		return HVACActionCooling
	case strings.Contains(state, "Heat"):
		return HVACActionHeating
	default:
		return HVACActionOff
	}
}

// IsEmergencyMode reports whether a raw vendor mode or mode list mentions
// emergency (auxiliary) heat.
func IsEmergencyMode(raw string) bool {
	return strings.Contains(raw, "Emergency")
}
