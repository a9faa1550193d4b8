package control4

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-control4/internal/director"
)

// Config is the root configuration for the Control4 bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge   BridgeConfig     `yaml:"bridge"`
	Director DirectorSettings `yaml:"director"`
	Devices  []DeviceConfig   `yaml:"devices"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID identifies this bridge in health messages.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// StrictModes returns an error for untranslatable mode requests
	// instead of only logging them.
	StrictModes bool `yaml:"strict_modes"`

	// SeedConcurrency limits parallel snapshot fetches at startup and on
	// resync. Default: 4.
	SeedConcurrency int `yaml:"seed_concurrency"`

	// SeedTimeout bounds one full snapshot pass (seconds). Default: 30.
	SeedTimeout int `yaml:"seed_timeout"`
}

// DirectorSettings contains the Control4 Director connection.
type DirectorSettings struct {
	// Host is the director's IP or hostname.
	Host string `yaml:"host"`

	// Token is a director bearer token.
	// WARNING: Never log this value.
	Token string `yaml:"token"`

	// TokenFile is re-read every TokenTTL seconds; takes precedence over Token.
	TokenFile string `yaml:"token_file"`
	TokenTTL  int    `yaml:"token_ttl"`

	// InsecureSkipVerify accepts the director's self-signed certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// RequestTimeout for REST calls (seconds). Default: 10.
	RequestTimeout int `yaml:"request_timeout"`

	// PingInterval for the push stream (seconds). Default: 30.
	PingInterval int `yaml:"ping_interval"`

	// ReconnectMax caps the push stream reconnect backoff (seconds). Default: 60.
	ReconnectMax int `yaml:"reconnect_max"`
}

// String returns a representation with the token masked.
func (d DirectorSettings) String() string {
	token := ""
	if d.Token != "" {
		token = "[REDACTED]"
	}
	return fmt.Sprintf("DirectorSettings{Host:%q, Token:%s, TokenFile:%q, InsecureSkipVerify:%t}",
		d.Host, token, d.TokenFile, d.InsecureSkipVerify)
}

// DeviceConfig declares one Control4 item to bridge.
type DeviceConfig struct {
	ID          int        `yaml:"id"`
	ParentID    int        `yaml:"parent_id"`
	Name        string     `yaml:"name"`
	Area        string     `yaml:"area"`
	Type        DeviceType `yaml:"type"`
	DeviceClass string     `yaml:"device_class"` // contact sensors only
}

// Identity returns the item identity for the entry.
func (d DeviceConfig) Identity() Identity {
	return Identity{ID: d.ID, ParentID: d.ParentID, Name: d.Name, Area: d.Area}
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CONTROL4_BRIDGE_SECTION_KEY
// For example: CONTROL4_BRIDGE_DIRECTOR_HOST, CONTROL4_BRIDGE_DIRECTOR_TOKEN
//
// Device entries are not validated here; see Config.UsableDevices.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:              "control4",
			HealthInterval:  30,
			SeedConcurrency: 4,
			SeedTimeout:     30,
		},
		Director: DirectorSettings{
			TokenTTL:       300,
			RequestTimeout: 10,
			PingInterval:   30,
			ReconnectMax:   60,
		},
		Devices: []DeviceConfig{},
	}
}

// applyEnvOverrides applies CONTROL4_BRIDGE_* environment overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTROL4_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("CONTROL4_BRIDGE_STRICT_MODES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bridge.StrictModes = b
		}
	}

	if v := os.Getenv("CONTROL4_BRIDGE_DIRECTOR_HOST"); v != "" {
		cfg.Director.Host = v
	}
	if v := os.Getenv("CONTROL4_BRIDGE_DIRECTOR_TOKEN"); v != "" {
		cfg.Director.Token = v
	}
	if v := os.Getenv("CONTROL4_BRIDGE_DIRECTOR_TOKEN_FILE"); v != "" {
		cfg.Director.TokenFile = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.SeedConcurrency < 1 {
		errs = append(errs, "bridge.seed_concurrency must be at least 1")
	}

	if c.Director.Host == "" {
		errs = append(errs, "director.host is required")
	}
	if c.Director.Token == "" && c.Director.TokenFile == "" {
		errs = append(errs, "director.token or director.token_file is required (set CONTROL4_BRIDGE_DIRECTOR_TOKEN)")
	}
	if c.Director.RequestTimeout < 1 {
		errs = append(errs, "director.request_timeout must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// UsableDevices returns the device entries that can be bridged. Entries
// without an id, with an unknown type, or repeating an earlier id are
// skipped with a warning; the rest still load.
func (c *Config) UsableDevices(logger Logger) []DeviceConfig {
	logger = orNoop(logger)

	seen := make(map[int]bool, len(c.Devices))
	out := make([]DeviceConfig, 0, len(c.Devices))
	for i, dev := range c.Devices {
		switch {
		case dev.ID <= 0:
			logger.Warn("skipping device without id", "index", i, "name", dev.Name)
			continue
		case !dev.Type.Valid():
			logger.Warn("skipping device with unknown type", "index", i, "device_id", dev.ID, "type", dev.Type)
			continue
		case seen[dev.ID]:
			logger.Warn("skipping duplicate device", "index", i, "device_id", dev.ID)
			continue
		}
		seen[dev.ID] = true
		if dev.Name == "" {
			dev.Name = fmt.Sprintf("%s %d", dev.Type, dev.ID)
		}
		out = append(out, dev)
	}
	return out
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetSeedTimeout returns the snapshot pass timeout as a Duration.
func (c *Config) GetSeedTimeout() time.Duration {
	if c.Bridge.SeedTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Bridge.SeedTimeout) * time.Second
}

// DirectorConfig converts the director settings for the director package.
func (c *Config) DirectorConfig() director.Config {
	return director.Config{
		Host:               c.Director.Host,
		Token:              c.Director.Token,
		TokenFile:          c.Director.TokenFile,
		TokenTTL:           time.Duration(c.Director.TokenTTL) * time.Second,
		InsecureSkipVerify: c.Director.InsecureSkipVerify,
		RequestTimeout:     time.Duration(c.Director.RequestTimeout) * time.Second,
		Stream: director.StreamConfig{
			PingInterval: time.Duration(c.Director.PingInterval) * time.Second,
			ReconnectMax: time.Duration(c.Director.ReconnectMax) * time.Second,
		},
	}
}
