package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mqtt/backoff"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
reconnect:
  initial_delay: 2s
  max_delay: 120s
  jitter: "decorrelated"
request:
  timeout: 15s
store:
  enabled: true
  path: "/tmp/inflight.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Reconnect.InitialDelay != 2*time.Second {
		t.Errorf("Reconnect.InitialDelay = %v, want 2s", cfg.Reconnect.InitialDelay)
	}
	if cfg.Request.Timeout != 15*time.Second {
		t.Errorf("Request.Timeout = %v, want 15s", cfg.Request.Timeout)
	}
	if !cfg.Store.Enabled || cfg.Store.Path != "/tmp/inflight.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}

	// Defaults survive a partial file.
	if cfg.Request.OperationTimeout != 10*time.Second {
		t.Errorf("Request.OperationTimeout = %v, want the 10s default", cfg.Request.OperationTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
mqtt:
  broker:
    host: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty broker host, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(*Config) {}, false},
		{"missing broker host", func(c *Config) { c.MQTT.Broker.Host = "" }, true},
		{"missing client ID", func(c *Config) { c.MQTT.Broker.ClientID = "" }, true},
		{"port too low", func(c *Config) { c.MQTT.Broker.Port = 0 }, true},
		{"port too high", func(c *Config) { c.MQTT.Broker.Port = 70000 }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"unknown jitter mode", func(c *Config) { c.Reconnect.Jitter = "bursty" }, true},
		{"zero initial delay", func(c *Config) { c.Reconnect.InitialDelay = 0 }, true},
		{"max below initial", func(c *Config) {
			c.Reconnect.InitialDelay = 10 * time.Second
			c.Reconnect.MaxDelay = time.Second
		}, true},
		{"zero request timeout", func(c *Config) { c.Request.Timeout = 0 }, true},
		{"store enabled without path", func(c *Config) {
			c.Store.Enabled = true
			c.Store.Path = ""
		}, true},
		{"telemetry enabled without URL", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Token = "tok"
		}, true},
		{"telemetry enabled without token", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.URL = "http://influx:8086"
		}, true},
		{"telemetry fully configured", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.URL = "http://influx:8086"
			c.Telemetry.Token = "tok"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_JitterMode(t *testing.T) {
	tests := []struct {
		in      string
		want    backoff.JitterMode
		wantErr bool
	}{
		{"", backoff.JitterFull, false},
		{"full", backoff.JitterFull, false},
		{"Full", backoff.JitterFull, false},
		{"none", backoff.JitterNone, false},
		{"decorrelated", backoff.JitterDecorrelated, false},
		{"bogus", backoff.JitterFull, true},
	}
	for _, tt := range tests {
		cfg := defaultConfig()
		cfg.Reconnect.Jitter = tt.in
		got, err := cfg.JitterMode()
		if (err != nil) != tt.wantErr {
			t.Errorf("JitterMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("JitterMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfig_BackoffPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Reconnect.InitialDelay = 2 * time.Second
	cfg.Reconnect.MaxDelay = 90 * time.Second
	cfg.Reconnect.Jitter = "none"
	cfg.Reconnect.ResetAfter = time.Minute

	policy := cfg.BackoffPolicy()
	if policy.MinDelay != 2*time.Second || policy.MaxDelay != 90*time.Second {
		t.Errorf("policy delays = %v/%v", policy.MinDelay, policy.MaxDelay)
	}
	if policy.Jitter != backoff.JitterNone {
		t.Errorf("policy jitter = %v", policy.Jitter)
	}
	if policy.ResetAfter != time.Minute {
		t.Errorf("policy reset = %v", policy.ResetAfter)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GLMQTT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GLMQTT_MQTT_PORT", "8883")
	t.Setenv("GLMQTT_MQTT_CLIENT_ID", "env-client")
	t.Setenv("GLMQTT_MQTT_USERNAME", "testuser")
	t.Setenv("GLMQTT_MQTT_PASSWORD", "testpass")
	t.Setenv("GLMQTT_STORE_PATH", "/custom/inflight.db")
	t.Setenv("GLMQTT_TELEMETRY_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "env-client" {
		t.Errorf("MQTT.Broker.ClientID = %q", cfg.MQTT.Broker.ClientID)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.Store.Path != "/custom/inflight.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Telemetry.Token != "secret-token" {
		t.Errorf("Telemetry.Token = %q", cfg.Telemetry.Token)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GLMQTT_MQTT_PORT", "not-a-number")
	applyEnvOverrides(cfg)
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want the default", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID == "" {
		t.Error("defaultConfig should have non-empty client ID")
	}
	if cfg.Reconnect.InitialDelay != time.Second || cfg.Reconnect.MaxDelay != 60*time.Second {
		t.Errorf("defaultConfig reconnect = %+v", cfg.Reconnect)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig must validate: %v", err)
	}
}
