package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the dispatchd configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Client   ClientConfig   `yaml:"client"`
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains token and session settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Sessions SessionsConfig `yaml:"sessions"`
	// SeedAdminEmail is the account created on first boot when the user table is empty.
	SeedAdminEmail string `yaml:"seed_admin_email"`
}

// JWTConfig contains access/refresh token settings. TTLs are in minutes.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	Issuer          string `yaml:"issuer"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// SessionsConfig controls server-side session behaviour.
type SessionsConfig struct {
	// RotateRefreshTokens issues a new refresh token on every refresh and
	// retires the presented one. Reuse of a retired token revokes its family.
	RotateRefreshTokens bool `yaml:"rotate_refresh_tokens"`

	// ReuseGracePeriod, in minutes, lets a client retry a refresh whose
	// response it never received. 0 makes any reuse revoke the family.
	ReuseGracePeriod int `yaml:"reuse_grace_period"`

	// PurgeInterval is how often expired sessions are swept, in minutes. 0 disables the sweep.
	PurgeInterval int `yaml:"purge_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
// When enabled, auth events are published for dashboards and other services.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for auth activity metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ClientConfig contains defaults for the client session agent.
type ClientConfig struct {
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each login/refresh/logout call, in seconds.
	Timeout int `yaml:"timeout"`
}

// Load builds a Config from defaults, then the YAML file at path, then the
// DISPATCH_* environment, and validates it. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/dispatch-auth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:          "dispatch-auth",
				AccessTokenTTL:  15,
				RefreshTokenTTL: 7 * 24 * 60,
			},
			Sessions: SessionsConfig{
				RotateRefreshTokens: true,
				ReuseGracePeriod:    30,
				PurgeInterval:       60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dispatch-auth",
			},
			QoS:         1,
			TopicPrefix: "dispatch/auth",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "auth",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080/api/v1",
			Timeout: 10,
		},
	}
}

// envOverrides maps each supported DISPATCH_* variable onto its field.
// Unset or empty variables leave the field alone.
var envOverrides = []struct {
	key   string
	apply func(c *Config, v string)
}{
	{"DISPATCH_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"DISPATCH_API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"DISPATCH_API_PORT", func(c *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			c.API.Port = port
		}
	}},
	{"DISPATCH_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"DISPATCH_JWT_SECRET", func(c *Config, v string) { c.Security.JWT.Secret = v }},
	{"DISPATCH_SEED_ADMIN_EMAIL", func(c *Config, v string) { c.Security.SeedAdminEmail = v }},
	{"DISPATCH_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"DISPATCH_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"DISPATCH_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"DISPATCH_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.key); v != "" {
			o.apply(cfg, v)
		}
	}
}

// MinJWTSecretLength is the shortest accepted HMAC signing secret.
const MinJWTSecretLength = 32

// Validate reports every problem at once, joined into a single error.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set DISPATCH_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < MinJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL <= c.Security.JWT.AccessTokenTTL {
		errs = append(errs, "security.jwt.refresh_token_ttl must exceed access_token_ttl")
	}

	if c.Security.Sessions.ReuseGracePeriod < 0 {
		errs = append(errs, "security.sessions.reuse_grace_period must not be negative")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// RefreshTTL returns the refresh token (session) lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Security.JWT.RefreshTokenTTL) * time.Minute
}

// ReuseGrace returns the window for retrying a refresh with a rotated token.
func (c *Config) ReuseGrace() time.Duration {
	return time.Duration(c.Security.Sessions.ReuseGracePeriod) * time.Minute
}

// PurgeInterval returns how often expired sessions are swept.
func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.Security.Sessions.PurgeInterval) * time.Minute
}

// ClientTimeout returns the per-call timeout for the client session agent.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.Timeout) * time.Second
}

// ReadDuration, WriteDuration and IdleDuration convert the second counts.
func (t APITimeoutConfig) ReadDuration() time.Duration {
	return time.Duration(t.Read) * time.Second
}

func (t APITimeoutConfig) WriteDuration() time.Duration {
	return time.Duration(t.Write) * time.Second
}

func (t APITimeoutConfig) IdleDuration() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
