package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker backends.
const (
	BackendMosquitto = "mosquitto"
	BackendEMQX      = "emqx"
)

// Config is the root configuration structure.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Broker      BrokerConfig      `yaml:"broker"`
	Sync        SyncConfig        `yaml:"sync"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the control-plane MQTT connection settings.
// Only used by the mosquitto backend.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// The account must be allowed to publish to the dynamic-security control topic.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BrokerConfig selects and configures the broker control plane.
type BrokerConfig struct {
	// Backend is "mosquitto" (dynamic security over MQTT) or "emqx" (REST).
	Backend   string          `yaml:"backend"`
	Mosquitto MosquittoConfig `yaml:"mosquitto"`
	EMQX      EMQXConfig      `yaml:"emqx"`
}

// MosquittoConfig configures the dynamic-security control client.
type MosquittoConfig struct {
	ControlTopic    string        `yaml:"control_topic"`
	ResponseTopic   string        `yaml:"response_topic"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// EMQXConfig configures the EMQX management API client.
type EMQXConfig struct {
	// URL is the management API base, e.g. http://emqx:18083.
	URL            string               `yaml:"url"`
	Username       string               `yaml:"username"`
	Password       string               `yaml:"password"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig guards the management API against hammering a
// broker that is down.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// SyncConfig controls re-synchronisation of stored credentials.
type SyncConfig struct {
	OnStartup     bool          `yaml:"on_startup"`
	Interval      time.Duration `yaml:"interval"`
	Concurrency   int           `yaml:"concurrency"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

// CredentialsConfig contains credential bootstrap settings.
type CredentialsConfig struct {
	// GlobalWriterUserID, when set, makes startup ensure a credential with
	// GLOBAL_DEVICE_DATA_WRITE exists for this user.
	GlobalWriterUserID string `yaml:"global_writer_user_id"`
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
// Environment variables follow the pattern: MQTTACCESS_SECTION_KEY
// For example: MQTTACCESS_DATABASE_PATH, MQTTACCESS_EMQX_PASSWORD
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

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/mqtt-access.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mqtt-access",
			},
			QoS: 2,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Broker: BrokerConfig{
			Backend: BackendMosquitto,
			Mosquitto: MosquittoConfig{
				ControlTopic:    "$CONTROL/dynamic-security/v1",
				ResponseTopic:   "$CONTROL/dynamic-security/v1/response",
				ResponseTimeout: 10 * time.Second,
			},
			EMQX: EMQXConfig{
				URL:            "http://localhost:18083",
				RequestTimeout: 10 * time.Second,
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     30 * time.Second,
				},
			},
		},
		Sync: SyncConfig{
			OnStartup:     true,
			Interval:      15 * time.Minute,
			Concurrency:   4,
			RatePerSecond: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQTTACCESS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MQTTACCESS_BROKER_BACKEND"); v != "" {
		cfg.Broker.Backend = v
	}

	// MQTT
	if v := os.Getenv("MQTTACCESS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTTACCESS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MQTTACCESS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTTACCESS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// EMQX
	if v := os.Getenv("MQTTACCESS_EMQX_URL"); v != "" {
		cfg.Broker.EMQX.URL = v
	}
	if v := os.Getenv("MQTTACCESS_EMQX_USERNAME"); v != "" {
		cfg.Broker.EMQX.Username = v
	}
	if v := os.Getenv("MQTTACCESS_EMQX_PASSWORD"); v != "" {
		cfg.Broker.EMQX.Password = v
	}

	if v := os.Getenv("MQTTACCESS_GLOBAL_WRITER_USER_ID"); v != "" {
		cfg.Credentials.GlobalWriterUserID = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Broker.Backend {
	case BackendMosquitto:
		errs = append(errs, c.validateMosquitto()...)
	case BackendEMQX:
		errs = append(errs, c.validateEMQX()...)
	default:
		errs = append(errs, fmt.Sprintf("broker.backend must be %q or %q", BackendMosquitto, BackendEMQX))
	}

	if c.Sync.Concurrency < 1 {
		errs = append(errs, "sync.concurrency must be at least 1")
	}
	if c.Sync.RatePerSecond < 0 {
		errs = append(errs, "sync.rate_per_second cannot be negative")
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, "sync.interval cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateMosquitto() []string {
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
	if c.Broker.Mosquitto.ControlTopic == "" || c.Broker.Mosquitto.ResponseTopic == "" {
		errs = append(errs, "broker.mosquitto.control_topic and response_topic are required")
	}
	if c.Broker.Mosquitto.ResponseTimeout <= 0 {
		errs = append(errs, "broker.mosquitto.response_timeout must be positive")
	}
	return errs
}

func (c *Config) validateEMQX() []string {
	var errs []string
	if u, err := url.Parse(c.Broker.EMQX.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "broker.emqx.url must be an absolute URL")
	}
	if c.Broker.EMQX.Username == "" || c.Broker.EMQX.Password == "" {
		errs = append(errs, "broker.emqx.username and password are required (set MQTTACCESS_EMQX_PASSWORD)")
	}
	if c.Broker.EMQX.RequestTimeout <= 0 {
		errs = append(errs, "broker.emqx.request_timeout must be positive")
	}
	if c.Broker.EMQX.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, "broker.emqx.circuit_breaker.failure_threshold must be at least 1")
	}
	return errs
}
