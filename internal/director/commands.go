package director

import "context"

// Director command names and their tParams keys.
const (
	CmdSetModeHVAC     = "SET_MODE_HVAC"
	CmdSetModeFan      = "SET_MODE_FAN"
	CmdSetSetpointHeat = "SET_SETPOINT_HEAT"
	CmdSetSetpointCool = "SET_SETPOINT_COOL"
	CmdSetSpeed        = "SET_SPEED"
	CmdSetPreset       = "SET_PRESET"

	ParamMode       = "MODE"
	ParamFahrenheit = "FAHRENHEIT"
	ParamSpeed      = "SPEED"
	ParamPreset     = "PRESET"
)

// Thermostat issues thermostat commands to one item. It holds no
// credentials; create one per operation with Client.Thermostat.
type Thermostat struct {
	client *Client
	itemID int
}

// Thermostat returns a command channel for the thermostat item.
func (c *Client) Thermostat(itemID int) *Thermostat {
	return &Thermostat{client: c, itemID: itemID}
}

// SetHvacMode sends a vendor HVAC mode string such as "Heat" or "Emergency Heat".
func (t *Thermostat) SetHvacMode(ctx context.Context, mode string) error {
	return t.client.SendCommand(ctx, t.itemID, CmdSetModeHVAC, map[string]any{ParamMode: mode})
}

// SetFanMode sends a vendor fan mode string such as "Auto" or "Circulate".
func (t *Thermostat) SetFanMode(ctx context.Context, mode string) error {
	return t.client.SendCommand(ctx, t.itemID, CmdSetModeFan, map[string]any{ParamMode: mode})
}

// SetHeatSetpoint sets the heat setpoint in °F.
func (t *Thermostat) SetHeatSetpoint(ctx context.Context, fahrenheit float64) error {
	return t.client.SendCommand(ctx, t.itemID, CmdSetSetpointHeat, map[string]any{ParamFahrenheit: fahrenheit})
}

// SetCoolSetpoint sets the cool setpoint in °F.
func (t *Thermostat) SetCoolSetpoint(ctx context.Context, fahrenheit float64) error {
	return t.client.SendCommand(ctx, t.itemID, CmdSetSetpointCool, map[string]any{ParamFahrenheit: fahrenheit})
}

// Fan issues fan commands to one item.
type Fan struct {
	client *Client
	itemID int
}

// Fan returns a command channel for the fan item.
func (c *Client) Fan(itemID int) *Fan {
	return &Fan{client: c, itemID: itemID}
}

// SetSpeed sets the raw speed step, 0 (off) to 4.
func (f *Fan) SetSpeed(ctx context.Context, speed int) error {
	return f.client.SendCommand(ctx, f.itemID, CmdSetSpeed, map[string]any{ParamSpeed: speed})
}

// SetPreset sets the preset speed used when the fan is switched on.
func (f *Fan) SetPreset(ctx context.Context, preset int) error {
	return f.client.SendCommand(ctx, f.itemID, CmdSetPreset, map[string]any{ParamPreset: preset})
}
