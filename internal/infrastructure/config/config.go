package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for softbus.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bus       BusConfig       `yaml:"bus"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Groups    []GroupConfig   `yaml:"groups"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Multicast MulticastConfig `yaml:"multicast"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BusConfig contains dispatch engine limits.
type BusConfig struct {
	MaxDevices      int `yaml:"max_devices"`
	MaxGroups       int `yaml:"max_groups"`
	MaxGroupMembers int `yaml:"max_group_members"`
	QueueLength     int `yaml:"queue_length"`
	QueueBytes      int `yaml:"queue_bytes"`
	SyncTimeoutMS   int `yaml:"sync_timeout_ms"`
}

// DeviceConfig declares a device to register at startup.
type DeviceConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Driver  string            `yaml:"driver"`
	Options map[string]string `yaml:"options"`
}

// GroupConfig declares a group to create at startup.
type GroupConfig struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Bridge    MQTTBridgeConfig    `yaml:"bridge"`
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

// MQTTBridgeConfig controls group message relaying over MQTT.
type MQTTBridgeConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
	Source      string `yaml:"source"` // CloudEvents source identifying this node
}

// MulticastConfig contains UDP multicast transport settings.
type MulticastConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"` // empty selects the system default
	Loopback  bool   `yaml:"loopback"`
	TTL       int    `yaml:"ttl"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// AuditConfig contains dispatch log settings.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
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
// Environment variables follow the pattern: SOFTBUS_SECTION_KEY
// For example: SOFTBUS_DATABASE_PATH, SOFTBUS_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment overrides
// applied. It is used when no configuration file is supplied.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			MaxDevices:      32,
			MaxGroups:       16,
			MaxGroupMembers: 16,
			QueueLength:     256,
			QueueBytes:      256 * 1024,
			SyncTimeoutMS:   5000,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/softbus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "softbus",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Bridge: MQTTBridgeConfig{
				TopicPrefix: "softbus",
				Source:      "softbus",
			},
		},
		Multicast: MulticastConfig{
			Address:  "239.0.0.1",
			Port:     45678,
			Loopback: false,
			TTL:      1,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SOFTBUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bus
	if v, ok := envInt("SOFTBUS_BUS_SYNC_TIMEOUT_MS"); ok {
		cfg.Bus.SyncTimeoutMS = v
	}

	// Database
	if v := os.Getenv("SOFTBUS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v, ok := envBool("SOFTBUS_DATABASE_ENABLED"); ok {
		cfg.Database.Enabled = v
	}

	// MQTT
	if v, ok := envBool("SOFTBUS_MQTT_ENABLED"); ok {
		cfg.MQTT.Enabled = v
	}
	if v := os.Getenv("SOFTBUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt("SOFTBUS_MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv("SOFTBUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SOFTBUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Multicast
	if v, ok := envBool("SOFTBUS_MULTICAST_ENABLED"); ok {
		cfg.Multicast.Enabled = v
	}
	if v := os.Getenv("SOFTBUS_MULTICAST_INTERFACE"); v != "" {
		cfg.Multicast.Interface = v
	}

	// API
	if v := os.Getenv("SOFTBUS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("SOFTBUS_API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv("SOFTBUS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SOFTBUS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	// Bus validation
	if c.Bus.MaxDevices < 1 {
		errs = append(errs, "bus.max_devices must be positive")
	}
	if c.Bus.MaxGroups < 1 {
		errs = append(errs, "bus.max_groups must be positive")
	}
	if c.Bus.MaxGroupMembers < 1 {
		errs = append(errs, "bus.max_group_members must be positive")
	}
	if c.Bus.QueueLength < 1 {
		errs = append(errs, "bus.queue_length must be positive")
	}
	if c.Bus.QueueBytes < 1 {
		errs = append(errs, "bus.queue_bytes must be positive")
	}
	if c.Bus.SyncTimeoutMS < 1 {
		errs = append(errs, "bus.sync_timeout_ms must be positive")
	}
	if len(c.Devices) > c.Bus.MaxDevices && c.Bus.MaxDevices > 0 {
		errs = append(errs, fmt.Sprintf("devices: %d declared, bus.max_devices is %d", len(c.Devices), c.Bus.MaxDevices))
	}

	// Device and group declarations
	declared := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
			continue
		}
		if _, dup := declared[d.Name]; dup {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate name %q", i, d.Name))
		}
		declared[d.Name] = struct{}{}
		if d.Driver == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].driver is required", i))
		}
	}
	groups := make(map[string]struct{}, len(c.Groups))
	for i, g := range c.Groups {
		if g.Name == "" {
			errs = append(errs, fmt.Sprintf("groups[%d].name is required", i))
			continue
		}
		if _, dup := groups[g.Name]; dup {
			errs = append(errs, fmt.Sprintf("groups[%d]: duplicate name %q", i, g.Name))
		}
		groups[g.Name] = struct{}{}
		if c.Bus.MaxGroupMembers > 0 && len(g.Members) > c.Bus.MaxGroupMembers {
			errs = append(errs, fmt.Sprintf("groups[%d]: %d members exceeds bus.max_group_members", i, len(g.Members)))
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Bridge.Enabled {
		if !c.MQTT.Enabled {
			errs = append(errs, "mqtt.bridge.enabled requires mqtt.enabled")
		}
		if c.MQTT.Bridge.TopicPrefix == "" || strings.ContainsAny(c.MQTT.Bridge.TopicPrefix, "+#") {
			errs = append(errs, "mqtt.bridge.topic_prefix must be non-empty and free of wildcards")
		}
	}

	// Multicast validation
	if c.Multicast.Enabled {
		if c.Multicast.Address == "" {
			errs = append(errs, "multicast.address is required")
		}
		if c.Multicast.Port < 1 || c.Multicast.Port > 65535 {
			errs = append(errs, "multicast.port must be between 1 and 65535")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SyncTimeout returns the default synchronous send timeout as a Duration.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Bus.SyncTimeoutMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
