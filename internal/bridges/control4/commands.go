package control4

import (
	"context"
	"fmt"
	"math"
)

// Command parameter names.
const (
	ParamHVACMode       = "hvac_mode"
	ParamFanMode        = "fan_mode"
	ParamTemperature    = "temperature"
	ParamTargetTempLow  = "target_temp_low"
	ParamTargetTempHigh = "target_temp_high"
	ParamPercentage     = "percentage"
	ParamPreset         = "preset"
)

// Execute runs a named command against a device. It is shared by the MQTT
// command topic and the HTTP API.
//
// Errors wrap ErrUnknownDevice, ErrUnknownCommand, ErrInvalidParameters,
// the fan range errors, or are *UpdateFailedError for hub failures.
func (b *Bridge) Execute(ctx context.Context, deviceID int, command string, params map[string]any) error {
	dev, ok := b.Device(deviceID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, deviceID)
	}

	var err error
	switch d := dev.(type) {
	case *Climate:
		err = executeClimate(ctx, d, command, params)
	case *Fan:
		err = executeFan(ctx, d, command, params)
	default:
		err = fmt.Errorf("%w: %s does not accept commands", ErrUnknownCommand, dev.Type())
	}

	b.commandsSent.Add(1)
	if err != nil {
		b.commandsFailed.Add(1)
		return err
	}

	// Only local state (aux heat) can have changed; hub state arrives by push.
	b.publishState(dev, SourceCommand)
	return nil
}

func executeClimate(ctx context.Context, c *Climate, command string, params map[string]any) error {
	switch command {
	case CmdSetHVACMode:
		mode, err := stringParam(params, ParamHVACMode)
		if err != nil {
			return err
		}
		return c.SetHVACMode(ctx, HVACMode(mode))
	case CmdSetFanMode:
		mode, err := stringParam(params, ParamFanMode)
		if err != nil {
			return err
		}
		return c.SetFanMode(ctx, FanMode(mode))
	case CmdSetTemperature:
		req, err := temperatureParams(params)
		if err != nil {
			return err
		}
		return c.SetTemperature(ctx, req)
	case CmdAuxHeatOn:
		c.TurnAuxHeatOn()
		return nil
	case CmdAuxHeatOff:
		c.TurnAuxHeatOff()
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func executeFan(ctx context.Context, f *Fan, command string, params map[string]any) error {
	switch command {
	case CmdTurnOn:
		return f.TurnOn(ctx)
	case CmdTurnOff:
		return f.TurnOff(ctx)
	case CmdToggle:
		return f.Toggle(ctx)
	case CmdSetPercentage:
		pct, err := floatParam(params, ParamPercentage)
		if err != nil {
			return err
		}
		return f.SetPercentage(ctx, pct)
	case CmdSetPreset:
		preset, err := floatParam(params, ParamPreset)
		if err != nil {
			return err
		}
		if preset != math.Trunc(preset) {
			return fmt.Errorf("%w: %q must be a whole number", ErrInvalidParameters, ParamPreset)
		}
		return f.SetPreset(ctx, int(preset))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidParameters, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidParameters, key)
	}
	return s, nil
}

func floatParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidParameters, key)
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameters, key)
	}
	return f, nil
}

// optionalFloat returns nil when key is absent or null.
func optionalFloat(params map[string]any, key string) (*float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := asFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a number", ErrInvalidParameters, key)
	}
	return &f, nil
}

func temperatureParams(params map[string]any) (TemperatureRequest, error) {
	var (
		req TemperatureRequest
		err error
	)
	if req.Temperature, err = optionalFloat(params, ParamTemperature); err != nil {
		return req, err
	}
	if req.Low, err = optionalFloat(params, ParamTargetTempLow); err != nil {
		return req, err
	}
	if req.High, err = optionalFloat(params, ParamTargetTempHigh); err != nil {
		return req, err
	}
	if req.Temperature == nil && req.Low == nil && req.High == nil {
		return req, fmt.Errorf("%w: no temperature given", ErrInvalidParameters)
	}
	return req, nil
}
