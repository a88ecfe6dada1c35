package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-hello-listeners/pkg/logging"
)

// DefaultPassphrase protects the bundled example server key.
const DefaultPassphrase = "NmNTNA9idsq4iuzH"

// Config represents the application configuration
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners" envconfig:"LISTENERS"`
	TLS       TLSConfig        `yaml:"tls" envconfig:"TLS"`
	Server    ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logging   logging.Config   `yaml:"logging" envconfig:"LOGGING"`
	Metrics   MetricsConfig    `yaml:"metrics" envconfig:"METRICS"`
	RateLimit RateLimitConfig  `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ListenerConfig is one (protocol, address, port) tuple.
// From the environment it is written as "protocol/address/port", e.g.
// HELLO_LISTENERS="http/127.0.0.1/8000,https/::1/4430".
type ListenerConfig struct {
	Protocol string `yaml:"protocol"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
}

// Decode implements envconfig.Decoder
func (l *ListenerConfig) Decode(value string) error {
	// address may itself contain colons (IPv6), so split on '/'
	parts := strings.SplitN(value, "/", 3)
	if len(parts) != 3 {
		return fmt.Errorf("listener %q: expected protocol/address/port", value)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("listener %q: invalid port: %w", value, err)
	}
	*l = ListenerConfig{Protocol: parts[0], Address: parts[1], Port: port}
	return nil
}

// TLSConfig holds the TLS material used by https listeners
type TLSConfig struct {
	CertFile   string `yaml:"cert_file" envconfig:"CERT_FILE"`
	KeyFile    string `yaml:"key_file" envconfig:"KEY_FILE"`
	PKCS12File string `yaml:"pkcs12_file" envconfig:"PKCS12_FILE"` // alternative to cert_file/key_file
	Passphrase string `yaml:"passphrase" envconfig:"PASSPHRASE"`
	// BaseDir anchors relative paths. Empty means the directory of the executable.
	BaseDir string `yaml:"base_dir" envconfig:"BASE_DIR"`
	HTTP2   bool   `yaml:"http2" envconfig:"HTTP2"`
}

// ServerConfig contains per-listener http.Server settings.
// Zero durations keep the net/http behaviour of no timeout.
type ServerConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// MetricsConfig configures the Prometheus listener (port 0 disables it)
type MetricsConfig struct {
	Address string `yaml:"address" envconfig:"ADDRESS"`
	Port    int    `yaml:"port" envconfig:"PORT"`
}

// RateLimitConfig configures per-peer throttling of hello requests
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" envconfig:"ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" envconfig:"BURST"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("HELLO", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration: the four loopback listeners.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Listeners: []ListenerConfig{
			{Protocol: "http", Address: "127.0.0.1", Port: 8000},
			{Protocol: "https", Address: "127.0.0.1", Port: 4430},
			{Protocol: "http", Address: "::1", Port: 8000},
			{Protocol: "https", Address: "::1", Port: 4430},
		},
		TLS: TLSConfig{
			CertFile:   "server.crt",
			KeyFile:    "server.pem",
			Passphrase: DefaultPassphrase,
		},
		Server: ServerConfig{
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}

	needTLS := false
	for i, l := range c.Listeners {
		switch l.Protocol {
		case "http":
		case "https":
			needTLS = true
		default:
			return fmt.Errorf("listener %d: invalid protocol %q (must be http or https)", i, l.Protocol)
		}
		if l.Port < 1 || l.Port > 65535 {
			return fmt.Errorf("listener %d: invalid port: %d", i, l.Port)
		}
		if l.Address == "" {
			return fmt.Errorf("listener %d: address is required", i)
		}
		if !validAddress(l.Address) {
			return fmt.Errorf("listener %d: address %q must be an IP literal or hostname", i, l.Address)
		}
	}

	if needTLS && c.TLS.PKCS12File == "" && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("https listeners require tls cert_file and key_file, or pkcs12_file")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit requests_per_second must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit burst must be at least 1")
		}
	}

	s := c.Server
	if s.ReadTimeout < 0 || s.ReadHeaderTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// validAddress accepts IP literals (IPv6 unbracketed) and DNS hostnames
func validAddress(addr string) bool {
	if _, err := netip.ParseAddr(addr); err == nil {
		return true
	}
	if len(addr) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(addr, "."), ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

// MetricsEnabled reports whether the metrics listener should be started
func (c *MetricsConfig) MetricsEnabled() bool {
	return c.Port > 0
}
