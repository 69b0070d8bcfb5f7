package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-service-framework/pkg/logging"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "RSF"

// Config represents the application configuration
type Config struct {
	Logging logging.Config         `yaml:"logging" envconfig:"LOGGING"`
	Admin   AdminConfig            `yaml:"admin" envconfig:"ADMIN"`
	Plugins PluginsConfig          `yaml:"plugins" envconfig:"PLUGINS"`
	Servers map[string]ServerEntry `yaml:"servers" ignored:"true"`
}

// AdminConfig contains the internal admin/status server configuration
type AdminConfig struct {
	Host  string `yaml:"host" envconfig:"HOST"`
	Port  int    `yaml:"port" envconfig:"PORT"`   // 0 disables the admin server
	Token string `yaml:"token" envconfig:"TOKEN"` // Bearer token (auto-generated if empty)
	// RateLimit is the number of admin API requests allowed per second per client
	RateLimit float64    `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	CORS      CORSConfig `yaml:"cors" envconfig:"CORS"`
}

// CORSConfig contains CORS settings for the admin router
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// PluginsConfig selects and configures the pluggable subsystems
type PluginsConfig struct {
	// PreferExternal makes discovered implementations win over bundled defaults
	PreferExternal bool `yaml:"prefer_external" envconfig:"PREFER_EXTERNAL"`
	// Required lists the capabilities resolved at startup: cache, pool, orm, migration
	Required []string `yaml:"required" envconfig:"REQUIRED"`
	// CacheTTL bounds how long a resolved plugin stays cached before re-resolution
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`

	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Pool      PoolConfig      `yaml:"pool" envconfig:"POOL"`
	ORM       ORMConfig       `yaml:"orm" envconfig:"ORM"`
	Migration MigrationConfig `yaml:"migration" envconfig:"MIGRATION"`
}

// CacheConfig contains cache plugin configuration
type CacheConfig struct {
	Type       string        `yaml:"type" envconfig:"TYPE"` // memory, redis
	DefaultTTL time.Duration `yaml:"default_ttl" envconfig:"DEFAULT_TTL"`
	MaxEntries int           `yaml:"max_entries" envconfig:"MAX_ENTRIES"`
	Redis      RedisConfig   `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// PoolConfig contains connection pool plugin configuration
type PoolConfig struct {
	URI             string        `yaml:"uri" envconfig:"URI"`
	MinPoolSize     uint64        `yaml:"min_pool_size" envconfig:"MIN_POOL_SIZE"`
	MaxPoolSize     uint64        `yaml:"max_pool_size" envconfig:"MAX_POOL_SIZE"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" envconfig:"MAX_CONN_IDLE_TIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
}

// ORMConfig contains database plugin configuration
type ORMConfig struct {
	Database string `yaml:"database" envconfig:"DATABASE"`
}

// MigrationConfig contains schema migration plugin configuration
type MigrationConfig struct {
	Enable             bool   `yaml:"enable" envconfig:"ENABLE"`
	ChangeLogFile      string `yaml:"change_log_file" envconfig:"CHANGE_LOG_FILE"`
	DropFirst          bool   `yaml:"drop_first" envconfig:"DROP_FIRST"`
	Tag                string `yaml:"tag" envconfig:"TAG"`
	ChangeLogTable     string `yaml:"change_log_table" envconfig:"CHANGE_LOG_TABLE"`
	ChangeLogLockTable string `yaml:"change_log_lock_table" envconfig:"CHANGE_LOG_LOCK_TABLE"`
}

// ServerEntry is one raw entry of the servers map, as written in the file
type ServerEntry struct {
	Type         string           `yaml:"type"`
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	TLSKey       string           `yaml:"tls_key"`
	TLSCert      string           `yaml:"tls_cert"`
	Metrics      bool             `yaml:"metrics"`
	Forwarded    bool             `yaml:"forwarded"`
	Wiretap      bool             `yaml:"wiretap"`
	Compress     int              `yaml:"compress"`
	StartTimeout string           `yaml:"start_timeout"`
	Broadcast    *BroadcastConfig `yaml:"broadcast"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := Parse(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML data on top of cfg
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Default returns a Config populated with defaults and no servers
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Admin: AdminConfig{
			Host:      "127.0.0.1",
			RateLimit: 10,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         12 * 3600,
			},
		},
		Plugins: PluginsConfig{
			CacheTTL: 10 * time.Minute,
			Cache: CacheConfig{
				Type:       "memory",
				DefaultTTL: 5 * time.Minute,
				MaxEntries: 10000,
				Redis: RedisConfig{
					Address:   "localhost:6379",
					KeyPrefix: "rsf:cache:",
				},
			},
			Pool: PoolConfig{
				URI:             "mongodb://localhost:27017",
				MaxPoolSize:     100,
				MaxConnIdleTime: 5 * time.Minute,
				ConnectTimeout:  10 * time.Second,
			},
			ORM: ORMConfig{
				Database: "service",
			},
			Migration: MigrationConfig{
				ChangeLogTable:     "LIQUIBASE_CHANGE_LOG_TABLE",
				ChangeLogLockTable: "LIQUIBASE_CHANGE_LOCK_TABLE",
			},
		},
		Servers: make(map[string]ServerEntry),
	}
}

// Validate validates the configuration. Individual server entries are not
// validated here: unmappable entries are skipped by ServerConfigs.
func (c *Config) Validate() error {
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	switch c.Plugins.Cache.Type {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache type: %s (must be memory or redis)", c.Plugins.Cache.Type)
	}

	for _, name := range c.Plugins.Required {
		if !isKnownPlugin(name) {
			return fmt.Errorf("unknown plugin %q (must be one of %s)", name, strings.Join(KnownPlugins, ", "))
		}
	}

	if c.Plugins.Migration.Enable && c.Plugins.Migration.ChangeLogFile == "" {
		return fmt.Errorf("needed configuration of migration change_log_file not found")
	}

	return nil
}

// KnownPlugins lists the plugin names accepted in plugins.required
var KnownPlugins = []string{"cache", "pool", "orm", "migration"}

func isKnownPlugin(name string) bool {
	for _, k := range KnownPlugins {
		if k == name {
			return true
		}
	}
	return false
}

// ServerNames returns the configured server names in sorted order
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MappingError reports a server entry that could not be mapped
type MappingError struct {
	Name string
	Err  error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("server %q: %v", e.Name, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// ServerConfigs maps every entry of the servers map to a ServerConfig, in
// sorted name order. Entries that fail to map are returned as MappingErrors
// and left out of the result.
func (c *Config) ServerConfigs() ([]ServerConfig, []error) {
	var (
		out  []ServerConfig
		errs []error
	)
	for _, name := range c.ServerNames() {
		sc, err := c.Servers[name].ToServerConfig(name)
		if err != nil {
			errs = append(errs, &MappingError{Name: name, Err: err})
			continue
		}
		out = append(out, sc)
	}
	return out, errs
}

// Address returns the admin server address
func (c *AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
