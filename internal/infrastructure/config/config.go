package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when EASYWALLBOX_CONFIG is unset.
// Unlike an explicit path, it may be absent: container deployments
// configure the bridge purely through the environment.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the EasyWallbox bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Wallbox   WallboxConfig   `yaml:"wallbox"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Health    HealthConfig    `yaml:"health"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WallboxConfig contains the charging station link settings.
type WallboxConfig struct {
	// Address is the BLE MAC address (or platform UUID) of the wallbox.
	Address string `yaml:"address"`

	// PIN is the 4-digit pairing PIN. Prefer WALLBOX_PIN over the file.
	PIN string `yaml:"pin"`

	// AuthSettle is the wait after sending the login command.
	AuthSettle time.Duration `yaml:"auth_settle"`

	// PollInterval is the link liveness check interval.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReconnectDelay is the fixed backoff between connection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// ScanTimeout bounds discovery of the wallbox and the connect itself.
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	// RefreshOnConnect reads all settings after every authentication.
	RefreshOnConnect bool `yaml:"refresh_on_connect"`

	// Adapter selects the host controller (e.g. "hci1"). Empty means the
	// platform default; only honoured on Linux.
	Adapter string `yaml:"adapter"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	TopicBase string              `yaml:"topic_base"`
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
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DiscoveryConfig contains Home Assistant MQTT discovery settings.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
	NodeID  string `yaml:"node_id"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite settings for the state snapshot store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// HealthConfig contains bridge health reporting settings.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
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
// A missing file is only an error when path is not DefaultPath.
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
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Wallbox: WallboxConfig{
			AuthSettle:       2 * time.Second,
			PollInterval:     1 * time.Second,
			ReconnectDelay:   5 * time.Second,
			ScanTimeout:      30 * time.Second,
			RefreshOnConnect: true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       1,
			TopicBase: "easywallbox",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Prefix:  "homeassistant",
			NodeID:  "easywallbox",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/easywallbox.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// The wallbox and broker variables keep the names used by the add-on
// manifest; the rest follow EASYWALLBOX_SECTION_KEY.
func applyEnvOverrides(cfg *Config) error {
	// Wallbox
	if v := os.Getenv("WALLBOX_ADDRESS"); v != "" {
		cfg.Wallbox.Address = v
	}
	if v := os.Getenv("WALLBOX_PIN"); v != "" {
		cfg.Wallbox.PIN = v
	}

	// MQTT
	if v := os.Getenv("MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		cfg.MQTT.TopicBase = v
	}

	// Logging
	if v := os.Getenv("EASYWALLBOX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Database
	if v := os.Getenv("EASYWALLBOX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("EASYWALLBOX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("EASYWALLBOX_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EASYWALLBOX_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Wallbox validation
	if c.Wallbox.Address == "" {
		errs = append(errs, "wallbox.address is required (set WALLBOX_ADDRESS)")
	}
	if c.Wallbox.PIN == "" {
		errs = append(errs, "wallbox.pin is required (set WALLBOX_PIN)")
	} else if !isPIN(c.Wallbox.PIN) {
		errs = append(errs, "wallbox.pin must contain only digits")
	}
	for name, d := range map[string]time.Duration{
		"wallbox.auth_settle":     c.Wallbox.AuthSettle,
		"wallbox.poll_interval":   c.Wallbox.PollInterval,
		"wallbox.reconnect_delay": c.Wallbox.ReconnectDelay,
		"wallbox.scan_timeout":    c.Wallbox.ScanTimeout,
		"health.interval":         c.Health.Interval,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if msg := validateTopicBase(c.MQTT.TopicBase); msg != "" {
		errs = append(errs, msg)
	}

	// Discovery validation
	if c.Discovery.Enabled && c.Discovery.Prefix == "" {
		errs = append(errs, "discovery.prefix is required when discovery is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadDuration returns the read timeout as a Duration.
func (t APITimeoutConfig) ReadDuration() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteDuration returns the write timeout as a Duration.
func (t APITimeoutConfig) WriteDuration() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleDuration returns the idle timeout as a Duration.
func (t APITimeoutConfig) IdleDuration() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

func isPIN(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func validateTopicBase(base string) string {
	switch {
	case base == "":
		return "mqtt.topic_base is required"
	case strings.ContainsAny(base, "+#"):
		return "mqtt.topic_base must not contain wildcards"
	case strings.HasPrefix(base, "/") || strings.HasSuffix(base, "/"):
		return "mqtt.topic_base must not start or end with '/'"
	}
	return ""
}
