package director

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	defaultTokenTTL         = 5 * time.Minute
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultReconnectInitial = 1 * time.Second
	defaultReconnectMax     = 60 * time.Second
	defaultMaxMessageSize   = 1 << 20

	itemsPath  = "/api/v1/items"
	streamPath = "/api/v1/items/datatoui"
)

// Config holds connection settings for one Director.
type Config struct {
	// Host is the director's address (IP or hostname, optional :port).
	Host string

	// BaseURL overrides the https://{Host} default. Used by tests and
	// reverse-proxied setups.
	BaseURL string

	// Token is a static director bearer token.
	Token string

	// TokenFile is re-read whenever the cached token is older than
	// TokenTTL. Takes precedence over Token.
	TokenFile string
	TokenTTL  time.Duration

	// InsecureSkipVerify disables certificate verification for the
	// director's self-signed certificate.
	InsecureSkipVerify bool

	RequestTimeout time.Duration

	Stream StreamConfig
}

// StreamConfig tunes the push WebSocket.
type StreamConfig struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	MaxMessageSize   int64
}

// withDefaults fills unset durations and sizes.
func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	if c.Stream.PingInterval <= 0 {
		c.Stream.PingInterval = defaultPingInterval
	}
	if c.Stream.PongTimeout <= 0 {
		c.Stream.PongTimeout = defaultPongTimeout
	}
	if c.Stream.ReconnectInitial <= 0 {
		c.Stream.ReconnectInitial = defaultReconnectInitial
	}
	if c.Stream.ReconnectMax < c.Stream.ReconnectInitial {
		c.Stream.ReconnectMax = defaultReconnectMax
		if c.Stream.ReconnectMax < c.Stream.ReconnectInitial {
			c.Stream.ReconnectMax = c.Stream.ReconnectInitial
		}
	}
	if c.Stream.MaxMessageSize <= 0 {
		c.Stream.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

// baseURL returns the REST root without a trailing slash.
func (c Config) baseURL() (string, error) {
	raw := c.BaseURL
	if raw == "" {
		if c.Host == "" {
			return "", fmt.Errorf("%w: host is required", ErrInvalidConfig)
		}
		raw = "https://" + c.Host
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: base url: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: base url scheme %q", ErrInvalidConfig, u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// streamURL returns the ws(s):// URL of the push endpoint.
func (c Config) streamURL() (string, error) {
	base, err := c.baseURL()
	if err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + streamPath, nil
}
