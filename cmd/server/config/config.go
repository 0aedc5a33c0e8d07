// Package config provides configuration structures for the gateway server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TFMV/quarry/pkg/models"
)

// EnvPrefix prefixes every environment override, e.g. QUARRY_LOG_LEVEL.
const EnvPrefix = "QUARRY"

// Config represents the server configuration.
type Config struct {
	// Server settings
	Address         string        `yaml:"address" json:"address" mapstructure:"address"`
	LogLevel        string        `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// Databases lists the configured aliases in display order.
	Databases []models.BackendConfig `yaml:"databases" json:"databases" mapstructure:"databases"`

	Limits      LimitsConfig         `yaml:"limits" json:"limits" mapstructure:"limits"`
	Timeouts    TimeoutsConfig       `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`
	SchemaCache SchemaCacheConfig    `yaml:"schema_cache" json:"schema_cache" mapstructure:"schema_cache"`
	Pool        ConnectionPoolConfig `yaml:"pool" json:"pool" mapstructure:"pool"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth" json:"auth" mapstructure:"auth"`

	// CORS configuration
	CORS CORSConfig `yaml:"cors" json:"cors" mapstructure:"cors"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

// LimitsConfig bounds the rows returned by one query.
type LimitsConfig struct {
	Default int `yaml:"default" json:"default" mapstructure:"default"`
	Max     int `yaml:"max" json:"max" mapstructure:"max"`
}

// TimeoutsConfig holds the per-stage deadlines.
type TimeoutsConfig struct {
	Acquire       time.Duration `yaml:"acquire" json:"acquire" mapstructure:"acquire"`
	Connect       time.Duration `yaml:"connect" json:"connect" mapstructure:"connect"`
	Plan          time.Duration `yaml:"plan" json:"plan" mapstructure:"plan"`
	Data          time.Duration `yaml:"data" json:"data" mapstructure:"data"`
	Introspection time.Duration `yaml:"introspection" json:"introspection" mapstructure:"introspection"`
}

// SchemaCacheConfig configures the per-alias schema cache.
type SchemaCacheConfig struct {
	TTL              time.Duration `yaml:"ttl" json:"ttl" mapstructure:"ttl"`
	MaxEntries       int           `yaml:"max_entries" json:"max_entries" mapstructure:"max_entries"`
	TableConcurrency int           `yaml:"table_concurrency" json:"table_concurrency" mapstructure:"table_concurrency"`
	AliasConcurrency int           `yaml:"alias_concurrency" json:"alias_concurrency" mapstructure:"alias_concurrency"`
}

// ConnectionPoolConfig represents connection pool configuration.
type ConnectionPoolConfig struct {
	MaxOpenConnections int           `yaml:"max_open_connections" json:"max_open_connections" mapstructure:"max_open_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections" json:"max_idle_connections" mapstructure:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `yaml:"health_check_period" json:"health_check_period" mapstructure:"health_check_period"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold" mapstructure:"slow_query_threshold"`
}

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	JWT     JWTAuthConfig `yaml:"jwt" json:"jwt" mapstructure:"jwt"`
}

// JWTAuthConfig represents JWT authentication configuration.
type JWTAuthConfig struct {
	Secret   string `yaml:"secret" json:"secret" mapstructure:"secret"`
	Issuer   string `yaml:"issuer" json:"issuer" mapstructure:"issuer"`
	Audience string `yaml:"audience" json:"audience" mapstructure:"audience"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" mapstructure:"allowed_origins"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" json:"address" mapstructure:"address"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
}

// Validate fills defaults and rejects invalid settings.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	// Limits
	if c.Limits.Max <= 0 || c.Limits.Max > models.MaxLimit {
		c.Limits.Max = models.MaxLimit
	}
	if c.Limits.Default <= 0 {
		c.Limits.Default = models.DefaultLimit
	}
	if c.Limits.Default > c.Limits.Max {
		return fmt.Errorf("limits.default (%d) exceeds limits.max (%d)", c.Limits.Default, c.Limits.Max)
	}

	// Timeouts
	if c.Timeouts.Acquire <= 0 {
		c.Timeouts.Acquire = 10 * time.Second
	}
	if c.Timeouts.Connect <= 0 {
		c.Timeouts.Connect = 30 * time.Second
	}
	if c.Timeouts.Plan <= 0 {
		c.Timeouts.Plan = 15 * time.Second
	}
	if c.Timeouts.Data <= 0 {
		c.Timeouts.Data = 60 * time.Second
	}
	if c.Timeouts.Introspection <= 0 {
		c.Timeouts.Introspection = 60 * time.Second
	}

	// Schema cache
	if c.SchemaCache.TTL <= 0 {
		c.SchemaCache.TTL = 10 * time.Minute
	}
	if c.SchemaCache.MaxEntries <= 0 {
		c.SchemaCache.MaxEntries = 64
	}
	if c.SchemaCache.TableConcurrency <= 0 {
		c.SchemaCache.TableConcurrency = 4
	}
	if c.SchemaCache.AliasConcurrency <= 0 {
		c.SchemaCache.AliasConcurrency = 4
	}

	// Set defaults for connection pool
	if c.Pool.MaxOpenConnections <= 0 {
		c.Pool.MaxOpenConnections = 10
	}
	if c.Pool.MaxIdleConnections <= 0 {
		c.Pool.MaxIdleConnections = 2
	}
	if c.Pool.ConnMaxLifetime <= 0 {
		c.Pool.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Pool.ConnMaxIdleTime <= 0 {
		c.Pool.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.Pool.HealthCheckPeriod <= 0 {
		c.Pool.HealthCheckPeriod = 1 * time.Minute
	}

	// Databases
	seen := make(map[string]struct{}, len(c.Databases))
	for i := range c.Databases {
		db := &c.Databases[i]
		db.Name = strings.TrimSpace(db.Name)
		if db.Name == "" {
			return fmt.Errorf("databases[%d]: name is required", i)
		}
		if _, dup := seen[db.Name]; dup {
			return fmt.Errorf("databases[%d]: duplicate name %q", i, db.Name)
		}
		seen[db.Name] = struct{}{}
		if _, err := db.Kind(); err != nil {
			return fmt.Errorf("databases[%d] %q: %w", i, db.Name, err)
		}
		if db.ConnString == "" {
			return fmt.Errorf("databases[%d] %q: conn_string is required", i, db.Name)
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = c.Pool.MaxOpenConnections
		}
	}

	// Validate auth
	if c.Auth.Enabled && c.Auth.JWT.Secret == "" {
		return fmt.Errorf("JWT auth requires secret")
	}

	// Set defaults for metrics
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// Load reads the configuration from v, which holds defaults, bound flags,
// environment overrides and, when path is set, the config file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewViper returns a viper instance reading QUARRY_* environment variables,
// with nested keys separated by underscores (QUARRY_AUTH_JWT_SECRET).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// that appear in neither a flag nor the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("address", d.Address)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("limits.default", d.Limits.Default)
	v.SetDefault("limits.max", d.Limits.Max)
	v.SetDefault("timeouts.acquire", d.Timeouts.Acquire)
	v.SetDefault("timeouts.connect", d.Timeouts.Connect)
	v.SetDefault("timeouts.plan", d.Timeouts.Plan)
	v.SetDefault("timeouts.data", d.Timeouts.Data)
	v.SetDefault("timeouts.introspection", d.Timeouts.Introspection)
	v.SetDefault("schema_cache.ttl", d.SchemaCache.TTL)
	v.SetDefault("schema_cache.max_entries", d.SchemaCache.MaxEntries)
	v.SetDefault("schema_cache.table_concurrency", d.SchemaCache.TableConcurrency)
	v.SetDefault("schema_cache.alias_concurrency", d.SchemaCache.AliasConcurrency)
	v.SetDefault("pool.max_open_connections", d.Pool.MaxOpenConnections)
	v.SetDefault("pool.max_idle_connections", d.Pool.MaxIdleConnections)
	v.SetDefault("pool.conn_max_lifetime", d.Pool.ConnMaxLifetime)
	v.SetDefault("pool.conn_max_idle_time", d.Pool.ConnMaxIdleTime)
	v.SetDefault("pool.health_check_period", d.Pool.HealthCheckPeriod)
	v.SetDefault("pool.slow_query_threshold", d.Pool.SlowQueryThreshold)
	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.jwt.secret", d.Auth.JWT.Secret)
	v.SetDefault("auth.jwt.issuer", d.Auth.JWT.Issuer)
	v.SetDefault("auth.jwt.audience", d.Auth.JWT.Audience)
	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         "0.0.0.0:8080",
		LogLevel:        "info",
		ShutdownTimeout: 30 * time.Second,
		Limits: LimitsConfig{
			Default: models.DefaultLimit,
			Max:     models.MaxLimit,
		},
		Timeouts: TimeoutsConfig{
			Acquire:       10 * time.Second,
			Connect:       30 * time.Second,
			Plan:          15 * time.Second,
			Data:          60 * time.Second,
			Introspection: 60 * time.Second,
		},
		SchemaCache: SchemaCacheConfig{
			TTL:              10 * time.Minute,
			MaxEntries:       64,
			TableConcurrency: 4,
			AliasConcurrency: 4,
		},
		Pool: ConnectionPoolConfig{
			MaxOpenConnections: 10,
			MaxIdleConnections: 2,
			ConnMaxLifetime:    30 * time.Minute,
			ConnMaxIdleTime:    10 * time.Minute,
			HealthCheckPeriod:  1 * time.Minute,
			SlowQueryThreshold: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}
