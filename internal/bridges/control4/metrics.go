package control4

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// DeviceSource lists the devices and counters a MetricsCollector reads.
// *Bridge satisfies it.
type DeviceSource interface {
	Devices() []Device
	GetMetrics() BridgeMetrics
}

// MetricsCollector exposes bridged device readings and bridge counters.
// Values are read from the stores on every scrape.
type MetricsCollector struct {
	source DeviceSource

	available       *prometheus.GaugeVec
	currentTemp     *prometheus.GaugeVec
	targetTemp      *prometheus.GaugeVec
	targetTempLow   *prometheus.GaugeVec
	targetTempHigh  *prometheus.GaugeVec
	humidity        *prometheus.GaugeVec
	hvacMode        *prometheus.GaugeVec
	fanSpeed        *prometheus.GaugeVec
	fanOn           *prometheus.GaugeVec
	contactOpen     *prometheus.GaugeVec
	streamConnected prometheus.Gauge
	pushReceived    prometheus.Gauge
	commandsSent    prometheus.Gauge
	commandsFailed  prometheus.Gauge
}

// NewMetricsCollector creates a collector over source.
func NewMetricsCollector(source DeviceSource) *MetricsCollector {
	labels := []string{"device_id", "name"}
	return &MetricsCollector{
		source: source,
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_device_available",
			Help: "Device availability (1=available, 0=unavailable)",
		}, append(labels, "type")),
		currentTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_current_temperature_fahrenheit",
			Help: "Current temperature per thermostat",
		}, labels),
		targetTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_target_temperature_fahrenheit",
			Help: "Single target temperature per thermostat (heat or cool mode)",
		}, labels),
		targetTempLow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_target_temperature_low_fahrenheit",
			Help: "Heat setpoint per thermostat in heat_cool mode",
		}, labels),
		targetTempHigh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_target_temperature_high_fahrenheit",
			Help: "Cool setpoint per thermostat in heat_cool mode",
		}, labels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_humidity_percent",
			Help: "Current humidity per thermostat",
		}, labels),
		hvacMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_hvac_mode",
			Help: "Active HVAC mode per thermostat (1 for the current mode)",
		}, append(labels, "mode")),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_fan_speed",
			Help: "Current fan speed (0-4)",
		}, labels),
		fanOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_fan_on_bool",
			Help: "Fan running (1=on, 0=off)",
		}, labels),
		contactOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_control4_contact_open_bool",
			Help: "Contact sensor open (1=open, 0=closed)",
		}, labels),
		streamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_control4_stream_connected",
			Help: "Director push stream connected (1=connected, 0=disconnected)",
		}),
		pushReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_control4_push_received_total",
			Help: "Push messages delivered to devices",
		}),
		commandsSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_control4_commands_total",
			Help: "Commands executed",
		}),
		commandsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_control4_commands_failed_total",
			Help: "Commands that returned an error",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.available.Describe(ch)
	c.currentTemp.Describe(ch)
	c.targetTemp.Describe(ch)
	c.targetTempLow.Describe(ch)
	c.targetTempHigh.Describe(ch)
	c.humidity.Describe(ch)
	c.hvacMode.Describe(ch)
	c.fanSpeed.Describe(ch)
	c.fanOn.Describe(ch)
	c.contactOpen.Describe(ch)
	c.streamConnected.Describe(ch)
	c.pushReceived.Describe(ch)
	c.commandsSent.Describe(ch)
	c.commandsFailed.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.available.Reset()
	c.currentTemp.Reset()
	c.targetTemp.Reset()
	c.targetTempLow.Reset()
	c.targetTempHigh.Reset()
	c.humidity.Reset()
	c.hvacMode.Reset()
	c.fanSpeed.Reset()
	c.fanOn.Reset()
	c.contactOpen.Reset()

	for _, dev := range c.source.Devices() {
		id := dev.Identity()
		labels := prometheus.Labels{
			"device_id": strconv.Itoa(id.ID),
			"name":      id.Name,
		}
		c.available.With(prometheus.Labels{
			"device_id": labels["device_id"],
			"name":      id.Name,
			"type":      string(dev.Type()),
		}).Set(boolGauge(dev.Available()))

		switch d := dev.(type) {
		case *Climate:
			c.collectClimate(labels, d.Attributes())
		case *Fan:
			a := d.Attributes()
			if a.CurrentSpeed != nil {
				c.fanSpeed.With(labels).Set(float64(*a.CurrentSpeed))
			}
			c.fanOn.With(labels).Set(boolGauge(a.IsOn()))
		case *ContactSensor:
			if on := d.Attributes().IsOn(); on != nil {
				c.contactOpen.With(labels).Set(boolGauge(*on))
			}
		}
	}

	m := c.source.GetMetrics()
	c.streamConnected.Set(boolGauge(m.Connected))
	c.pushReceived.Set(float64(m.PushReceived))
	c.commandsSent.Set(float64(m.CommandsSent))
	c.commandsFailed.Set(float64(m.CommandsFailed))

	c.collectAll(ch)
}

func (c *MetricsCollector) collectClimate(labels prometheus.Labels, a ClimateAttributes) {
	if v := a.CurrentTemperature(); v != nil {
		c.currentTemp.With(labels).Set(*v)
	}
	if v := a.TargetTemperature(); v != nil {
		c.targetTemp.With(labels).Set(*v)
	}
	if v := a.TargetTemperatureLow(); v != nil {
		c.targetTempLow.With(labels).Set(*v)
	}
	if v := a.TargetTemperatureHigh(); v != nil {
		c.targetTempHigh.With(labels).Set(*v)
	}
	if a.Humidity != nil {
		c.humidity.With(labels).Set(*a.Humidity)
	}
	c.hvacMode.With(prometheus.Labels{
		"device_id": labels["device_id"],
		"name":      labels["name"],
		"mode":      string(a.HVACMode()),
	}).Set(1)
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	c.available.Collect(ch)
	c.currentTemp.Collect(ch)
	c.targetTemp.Collect(ch)
	c.targetTempLow.Collect(ch)
	c.targetTempHigh.Collect(ch)
	c.humidity.Collect(ch)
	c.hvacMode.Collect(ch)
	c.fanSpeed.Collect(ch)
	c.fanOn.Collect(ch)
	c.contactOpen.Collect(ch)
	c.streamConnected.Collect(ch)
	c.pushReceived.Collect(ch)
	c.commandsSent.Collect(ch)
	c.commandsFailed.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
