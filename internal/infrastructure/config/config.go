package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Signature modes accepted by security.signature_mode.
const (
	// SignatureOptional verifies a signature only when the payload carries one.
	SignatureOptional = "optional"

	// SignatureRequired rejects every payload without a signature.
	SignatureRequired = "required"
)

// Store backends accepted by store.backend.
const (
	StoreInfluxDB        = "influxdb"
	StoreVictoriaMetrics = "victoriametrics"
)

// Config is the root configuration structure for Nexlytix Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Store    StoreConfig    `yaml:"store"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	TSDB     TSDBConfig     `yaml:"tsdb"`
	Security SecurityConfig `yaml:"security"`
	Replay   ReplayConfig   `yaml:"replay"`
	Audit    AuditConfig    `yaml:"audit"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Namespace string              `yaml:"namespace"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// OrderMatters makes paho dispatch messages one at a time. When false,
	// each message is handled on its own goroutine.
	OrderMatters bool `yaml:"order_matters"`

	// DrainTimeout bounds how long shutdown waits for in-flight messages (seconds).
	DrainTimeout int `yaml:"drain_timeout"`
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
//
// InitialDelay and MaxDelay bound the client's own reconnect backoff.
// RestartDelay is the pause before the listener rebuilds the connection
// from scratch after a dial or subscribe failure. All values are seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	RestartDelay int `yaml:"restart_delay"`
}

// StoreConfig selects the time-series backend readings are written to.
type StoreConfig struct {
	Backend string `yaml:"backend"`

	// WriteTimeout bounds a single reading write (seconds).
	WriteTimeout int `yaml:"write_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
type TSDBConfig struct {
	URL string `yaml:"url"`
}

// SecurityConfig contains ingestion and API security settings.
type SecurityConfig struct {
	HMACSecret    string          `yaml:"hmac_secret"`
	SignatureMode string          `yaml:"signature_mode"`
	APIKey        string          `yaml:"api_key"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains rate limiting settings for the read API.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// ReplayConfig tunes the replay guard.
type ReplayConfig struct {
	// Shards is the number of independently locked partitions of the
	// per-device sequence map. 1 means a single global lock.
	Shards int `yaml:"shards"`
}

// AuditConfig controls the SQLite rejection audit trail.
type AuditConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NEXLYTIX_SECTION_KEY
// For example: NEXLYTIX_MQTT_HOST, NEXLYTIX_HMAC_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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
				ClientID: "nexlytix-core",
			},
			QoS:       1,
			Namespace: "nexlytix",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
				RestartDelay: 5,
			},
			DrainTimeout: 5,
		},
		Store: StoreConfig{
			Backend:      StoreInfluxDB,
			WriteTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			URL:    "http://localhost:8086",
			Org:    "nexlytix",
			Bucket: "telemetry",
		},
		TSDB: TSDBConfig{
			URL: "http://localhost:8428",
		},
		Security: SecurityConfig{
			SignatureMode: SignatureOptional,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 100,
			},
		},
		Replay: ReplayConfig{
			Shards: 64,
		},
		Audit: AuditConfig{
			Database: DatabaseConfig{
				Path:        "./data/nexlytix.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NEXLYTIX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("NEXLYTIX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NEXLYTIX_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("NEXLYTIX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NEXLYTIX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("NEXLYTIX_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("NEXLYTIX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("NEXLYTIX_INFLUXDB_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("NEXLYTIX_INFLUXDB_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}

	// Store
	if v := os.Getenv("NEXLYTIX_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("NEXLYTIX_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
	}

	// API
	if v := os.Getenv("NEXLYTIX_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NEXLYTIX_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("NEXLYTIX_ALLOWED_ORIGINS"); v != "" {
		cfg.API.CORS.AllowedOrigins = strings.Split(v, ",")
	}

	// Security (IMPORTANT: always override secrets in production)
	if v := os.Getenv("NEXLYTIX_HMAC_SECRET"); v != "" {
		cfg.Security.HMACSecret = v
	}
	if v := os.Getenv("NEXLYTIX_SIGNATURE_MODE"); v != "" {
		cfg.Security.SignatureMode = v
	}
	if v := os.Getenv("NEXLYTIX_API_KEY"); v != "" {
		cfg.Security.APIKey = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Namespace == "" || strings.ContainsAny(c.MQTT.Namespace, "+#/") {
		errs = append(errs, "mqtt.namespace must be a single non-wildcard topic level")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 || c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect requires 1 <= initial_delay <= max_delay")
	}

	// Store validation
	switch c.Store.Backend {
	case StoreInfluxDB:
		if c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url and influxdb.bucket are required")
		}
	case StoreVictoriaMetrics:
		if c.TSDB.URL == "" {
			errs = append(errs, "tsdb.url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be %q or %q", StoreInfluxDB, StoreVictoriaMetrics))
	}

	// Security validation. An empty signature bypasses verification in
	// optional mode, so required mode is meaningless without a secret.
	switch c.Security.SignatureMode {
	case SignatureOptional:
	case SignatureRequired:
		if c.Security.HMACSecret == "" {
			errs = append(errs, "security.hmac_secret is required when signature_mode is required (set NEXLYTIX_HMAC_SECRET)")
		}
	default:
		errs = append(errs, fmt.Sprintf("security.signature_mode must be %q or %q", SignatureOptional, SignatureRequired))
	}
	if c.Security.APIKey == "" {
		errs = append(errs, "security.api_key is required (set NEXLYTIX_API_KEY environment variable)")
	}
	if c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive")
	}

	if c.Replay.Shards < 1 {
		errs = append(errs, "replay.shards must be at least 1")
	}

	if c.Audit.Enabled && c.Audit.Database.Path == "" {
		errs = append(errs, "audit.database.path is required when audit is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Topic returns the telemetry subscription pattern: <namespace>/+/+/telemetry.
func (c MQTTConfig) Topic() string {
	return c.Namespace + "/+/+/telemetry"
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

// GetStoreWriteTimeout returns the per-reading store write timeout.
func (c *Config) GetStoreWriteTimeout() time.Duration {
	return time.Duration(c.Store.WriteTimeout) * time.Second
}
