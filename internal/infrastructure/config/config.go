package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-mqtt/backoff"
)

// Config is the root configuration structure for the glmqtt daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Request   RequestConfig   `yaml:"request"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker       MQTTBrokerConfig `yaml:"broker"`
	Auth         MQTTAuthConfig   `yaml:"auth"`
	QoS          int              `yaml:"qos"`
	CleanSession bool             `yaml:"clean_session"`
	KeepAlive    time.Duration    `yaml:"keep_alive"`
	StatusTopic  string           `yaml:"status_topic"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig contains reconnection backoff settings.
type ReconnectConfig struct {
	// InitialDelay is the backoff floor for the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the backoff ceiling.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Jitter selects the jitter mode: "full", "none", or "decorrelated".
	Jitter string `yaml:"jitter"`

	// ResetAfter is how long a connection must hold before the failure
	// count resets.
	ResetAfter time.Duration `yaml:"reset_after"`
}

// RequestConfig contains request/response client settings.
type RequestConfig struct {
	// Timeout bounds a whole request/response exchange.
	Timeout time.Duration `yaml:"timeout"`

	// OperationTimeout bounds individual publish and subscribe calls.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// StoreConfig contains in-flight message persistence settings.
type StoreConfig struct {
	// Enabled switches SQLite persistence of QoS>0 messages on. Off, the
	// in-memory paho store is used and in-flight state dies with the
	// process.
	Enabled bool `yaml:"enabled"`

	// Path is the filesystem path to the SQLite database file.
	Path string `yaml:"path"`

	// BusyTimeout is the maximum time to wait for a database lock.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// TelemetryConfig contains InfluxDB connection telemetry settings.
type TelemetryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GLMQTT_SECTION_KEY
// For example: GLMQTT_MQTT_HOST, GLMQTT_STORE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "glmqtt",
			},
			QoS:         1,
			KeepAlive:   60 * time.Second,
			StatusTopic: "glmqtt/system/status",
		},
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			Jitter:       "full",
			ResetAfter:   30 * time.Second,
		},
		Request: RequestConfig{
			Timeout:          30 * time.Second,
			OperationTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:        "./data/inflight.db",
			BusyTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GLMQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("GLMQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GLMQTT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GLMQTT_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("GLMQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GLMQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Store
	if v := os.Getenv("GLMQTT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Telemetry
	if v := os.Getenv("GLMQTT_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if _, err := c.JitterMode(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "reconnect.initial_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		errs = append(errs, "reconnect.max_delay must be at least reconnect.initial_delay")
	}

	if c.Request.Timeout <= 0 {
		errs = append(errs, "request.timeout must be positive")
	}
	if c.Request.OperationTimeout <= 0 {
		errs = append(errs, "request.operation_timeout must be positive")
	}

	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, "store.path is required when store.enabled is set")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry.enabled is set")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry.enabled is set (set GLMQTT_TELEMETRY_TOKEN environment variable)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// JitterMode maps the configured jitter name onto the backoff package.
func (c *Config) JitterMode() (backoff.JitterMode, error) {
	switch strings.ToLower(c.Reconnect.Jitter) {
	case "", "full":
		return backoff.JitterFull, nil
	case "none":
		return backoff.JitterNone, nil
	case "decorrelated":
		return backoff.JitterDecorrelated, nil
	default:
		return backoff.JitterFull, fmt.Errorf("reconnect.jitter must be \"full\", \"none\", or \"decorrelated\"")
	}
}

// BackoffPolicy builds the reconnection policy from the reconnect section.
func (c *Config) BackoffPolicy() backoff.Policy {
	jitter, _ := c.JitterMode()
	return backoff.Policy{
		MinDelay:   c.Reconnect.InitialDelay,
		MaxDelay:   c.Reconnect.MaxDelay,
		Jitter:     jitter,
		ResetAfter: c.Reconnect.ResetAfter,
	}
}
