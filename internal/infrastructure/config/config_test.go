package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable applyEnvOverrides reads so host settings
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WALLBOX_ADDRESS", "WALLBOX_PIN",
		"MQTT_HOST", "MQTT_PORT", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_TOPIC",
		"EASYWALLBOX_LOG_LEVEL", "EASYWALLBOX_DATABASE_PATH",
		"EASYWALLBOX_INFLUXDB_TOKEN", "EASYWALLBOX_API_PORT",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Wallbox.Address = "AA:BB:CC:DD:EE:FF"
	cfg.Wallbox.PIN = "1234"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
wallbox:
  address: "AA:BB:CC:DD:EE:FF"
  pin: "4321"
  auth_settle: 3s
mqtt:
  broker:
    host: "broker.local"
    port: 1884
  qos: 0
  topic_base: "garage/wallbox"
api:
  port: 8100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Wallbox.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Wallbox.Address = %q, want %q", cfg.Wallbox.Address, "AA:BB:CC:DD:EE:FF")
	}
	if cfg.Wallbox.AuthSettle != 3*time.Second {
		t.Errorf("Wallbox.AuthSettle = %v, want 3s", cfg.Wallbox.AuthSettle)
	}
	if cfg.Wallbox.ReconnectDelay != 5*time.Second {
		t.Errorf("Wallbox.ReconnectDelay = %v, want default 5s", cfg.Wallbox.ReconnectDelay)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.TopicBase != "garage/wallbox" {
		t.Errorf("MQTT.TopicBase = %q, want %q", cfg.MQTT.TopicBase, "garage/wallbox")
	}
	if cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT.QoS = %d, want 0", cfg.MQTT.QoS)
	}
	if cfg.API.Port != 8100 {
		t.Errorf("API.Port = %d, want 8100", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MissingDefaultFileUsesEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("WALLBOX_ADDRESS", "11:22:33:44:55:66")
	t.Setenv("WALLBOX_PIN", "0000")
	t.Setenv("MQTT_HOST", "mqtt.example")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MQTT_USERNAME", "bridge")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_TOPIC", "ewb")
	t.Setenv("EASYWALLBOX_LOG_LEVEL", "debug")
	t.Setenv("EASYWALLBOX_API_PORT", "9000")

	// Tests run in the package directory, where configs/config.yaml does not exist.
	cfg, err := Load(DefaultPath)
	if err != nil {
		t.Fatalf("Load(DefaultPath) error = %v", err)
	}

	if cfg.Wallbox.Address != "11:22:33:44:55:66" {
		t.Errorf("Wallbox.Address = %q, want env value", cfg.Wallbox.Address)
	}
	if cfg.Wallbox.PIN != "0000" {
		t.Errorf("Wallbox.PIN = %q, want env value", cfg.Wallbox.PIN)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v, want mqtt.example:8883", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "bridge" || cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("MQTT.Auth = %+v, want env credentials", cfg.MQTT.Auth)
	}
	if cfg.MQTT.TopicBase != "ewb" {
		t.Errorf("MQTT.TopicBase = %q, want %q", cfg.MQTT.TopicBase, "ewb")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("WALLBOX_PIN", "9999")
	path := writeConfig(t, `
wallbox:
  address: "AA:BB:CC:DD:EE:FF"
  pin: "1234"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Wallbox.PIN != "9999" {
		t.Errorf("Wallbox.PIN = %q, want %q", cfg.Wallbox.PIN, "9999")
	}
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WALLBOX_ADDRESS", "AA:BB:CC:DD:EE:FF")
	t.Setenv("WALLBOX_PIN", "1234")
	t.Setenv("MQTT_PORT", "not-a-port")

	_, err := Load(DefaultPath)
	if err == nil || !strings.Contains(err.Error(), "MQTT_PORT") {
		t.Errorf("Load() error = %v, want MQTT_PORT parse error", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
wallbox:
  pin: "1234"
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected validation error for missing wallbox.address, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing address",
			mutate:  func(c *Config) { c.Wallbox.Address = "" },
			wantErr: "wallbox.address is required",
		},
		{
			name:    "missing pin",
			mutate:  func(c *Config) { c.Wallbox.PIN = "" },
			wantErr: "wallbox.pin is required",
		},
		{name: "six digit pin", mutate: func(c *Config) { c.Wallbox.PIN = "123456" }},
		{
			name:    "pin with spaces",
			mutate:  func(c *Config) { c.Wallbox.PIN = "12 4" },
			wantErr: "wallbox.pin must contain only digits",
		},
		{
			name:    "non-numeric pin",
			mutate:  func(c *Config) { c.Wallbox.PIN = "12a4" },
			wantErr: "wallbox.pin must contain only digits",
		},
		{
			name:    "zero reconnect delay",
			mutate:  func(c *Config) { c.Wallbox.ReconnectDelay = 0 },
			wantErr: "wallbox.reconnect_delay must be positive",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos must be 0, 1, or 2",
		},
		{
			name:    "wildcard topic base",
			mutate:  func(c *Config) { c.MQTT.TopicBase = "ewb/#" },
			wantErr: "must not contain wildcards",
		},
		{
			name:    "trailing slash topic base",
			mutate:  func(c *Config) { c.MQTT.TopicBase = "ewb/" },
			wantErr: "must not start or end with '/'",
		},
		{
			name:    "empty topic base",
			mutate:  func(c *Config) { c.MQTT.TopicBase = "" },
			wantErr: "mqtt.topic_base is required",
		},
		{
			name:    "invalid broker port",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: "mqtt.broker.port",
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "API port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path is required",
		},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Org = "home"
				c.InfluxDB.Bucket = "wallbox"
			},
			wantErr: "influxdb.url is required",
		},
		{
			name: "discovery enabled without prefix",
			mutate: func(c *Config) {
				c.Discovery.Prefix = ""
			},
			wantErr: "discovery.prefix is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Wallbox.Address = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want errors")
	}
	for _, want := range []string{"wallbox.address", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, want mention of %s", err, want)
		}
	}
}

func TestConfig_Timeouts(t *testing.T) {
	timeouts := defaultConfig().API.Timeouts

	if got := timeouts.ReadDuration(); got != 30*time.Second {
		t.Errorf("ReadDuration() = %v, want 30s", got)
	}
	if got := timeouts.WriteDuration(); got != 30*time.Second {
		t.Errorf("WriteDuration() = %v, want 30s", got)
	}
	if got := timeouts.IdleDuration(); got != 60*time.Second {
		t.Errorf("IdleDuration() = %v, want 60s", got)
	}
}
