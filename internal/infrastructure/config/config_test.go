package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidMosquittoConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 2
broker:
  backend: mosquitto
  mosquitto:
    response_timeout: 3s
sync:
  interval: 5m
  concurrency: 2
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Broker.Mosquitto.ResponseTimeout != 3*time.Second {
		t.Errorf("ResponseTimeout = %v, want 3s", cfg.Broker.Mosquitto.ResponseTimeout)
	}
	// Unset topics keep their defaults.
	if cfg.Broker.Mosquitto.ControlTopic != "$CONTROL/dynamic-security/v1" {
		t.Errorf("ControlTopic = %q", cfg.Broker.Mosquitto.ControlTopic)
	}
	if cfg.Sync.Interval != 5*time.Minute || cfg.Sync.Concurrency != 2 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
}

func TestLoad_EMQXWithEnvPassword(t *testing.T) {
	t.Setenv("MQTTACCESS_EMQX_PASSWORD", "from-env")

	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
broker:
  backend: emqx
  emqx:
    url: "http://emqx:18083"
    username: "admin"
    password: "from-file"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.EMQX.Password != "from-env" {
		t.Errorf("EMQX.Password = %q, want env override", cfg.Broker.EMQX.Password)
	}
	if cfg.Broker.EMQX.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want default 5", cfg.Broker.EMQX.CircuitBreaker.FailureThreshold)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
broker:
  backend: "rabbitmq"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for unknown backend, got nil")
	}
	if !strings.Contains(err.Error(), "broker.backend") {
		t.Errorf("error = %v, want mention of broker.backend", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Broker.EMQX.Username = "admin"
		cfg.Broker.EMQX.Password = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"emqx valid", func(c *Config) { c.Broker.Backend = BackendEMQX }, ""},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"mosquitto missing host", func(c *Config) { c.MQTT.Broker.Host = "" }, "mqtt.broker.host"},
		{"mosquitto bad port", func(c *Config) { c.MQTT.Broker.Port = 70000 }, "mqtt.broker.port"},
		{"mosquitto zero timeout", func(c *Config) { c.Broker.Mosquitto.ResponseTimeout = 0 }, "response_timeout"},
		{"emqx relative url", func(c *Config) {
			c.Broker.Backend = BackendEMQX
			c.Broker.EMQX.URL = "emqx:18083"
		}, "broker.emqx.url"},
		{"emqx missing password", func(c *Config) {
			c.Broker.Backend = BackendEMQX
			c.Broker.EMQX.Password = ""
		}, "password"},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }, "sync.concurrency"},
		{"negative rate", func(c *Config) { c.Sync.RatePerSecond = -1 }, "rate_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MQTTACCESS_DATABASE_PATH", "/env/db.sqlite")
	t.Setenv("MQTTACCESS_BROKER_BACKEND", "emqx")
	t.Setenv("MQTTACCESS_MQTT_PORT", "8883")
	t.Setenv("MQTTACCESS_GLOBAL_WRITER_USER_ID", "ingest")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/db.sqlite" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Broker.Backend != BackendEMQX {
		t.Errorf("Broker.Backend = %q", cfg.Broker.Backend)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d", cfg.MQTT.Broker.Port)
	}
	if cfg.Credentials.GlobalWriterUserID != "ingest" {
		t.Errorf("GlobalWriterUserID = %q", cfg.Credentials.GlobalWriterUserID)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("../../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Load(configs/config.yaml) error = %v", err)
	}
	if cfg.Broker.Backend != BackendMosquitto {
		t.Errorf("Backend = %q, want %q", cfg.Broker.Backend, BackendMosquitto)
	}
	if cfg.Sync.Interval != 15*time.Minute {
		t.Errorf("Sync.Interval = %v, want 15m", cfg.Sync.Interval)
	}
}
