package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration, loaded from an optional YAML file
// with environment variable overrides on top.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	Redis   RedisConfig   `yaml:"redis"`
	Mongo   MongoConfig   `yaml:"mongo"`
	Refresh RefreshConfig `yaml:"refresh"`
	Health  HealthConfig  `yaml:"health"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Rate limit applied to the management API, requests per second per client.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

type AuthConfig struct {
	// Dir holds the credential JSON files.
	Dir string `yaml:"dir"`
	// ManagementKey protects the management API. Either the plain key or a
	// bcrypt hash of it can be configured; the hash wins when both are set.
	ManagementKey     string `yaml:"management_key"`
	ManagementKeyHash string `yaml:"management_key_hash"`
}

type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	File  string `yaml:"file"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	StateTTL string `yaml:"state_ttl"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type RefreshConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	AheadSeconds    int `yaml:"ahead_seconds"`
	MaxRetries      int `yaml:"max_retries"`
}

type HealthConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8045,
			RatePerSecond: 10,
			RateBurst:     20,
		},
		Auth: AuthConfig{
			Dir: "./auths",
		},
		Redis: RedisConfig{
			Prefix: "antigravity:cred",
		},
		Mongo: MongoConfig{
			Database:   "antigravity",
			Collection: "credential_states",
		},
		Refresh: RefreshConfig{
			IntervalSeconds: 60,
			AheadSeconds:    300,
			MaxRetries:      3,
		},
		Health: HealthConfig{
			TimeoutSeconds: 10,
		},
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides, and validates the result. An empty path loads defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override file settings without
// touching the file. Every variable is optional.
func (c *Config) applyEnv() {
	setString(&c.Server.Host, "ANTIGRAVITY_HOST")
	setInt(&c.Server.Port, "ANTIGRAVITY_PORT")
	setString(&c.Auth.Dir, "ANTIGRAVITY_AUTH_DIR")
	setString(&c.Auth.ManagementKey, "ANTIGRAVITY_MANAGEMENT_KEY")
	setString(&c.Auth.ManagementKeyHash, "ANTIGRAVITY_MANAGEMENT_KEY_HASH")
	setBool(&c.Logging.Debug, "ANTIGRAVITY_DEBUG")
	setString(&c.Logging.File, "ANTIGRAVITY_LOG_FILE")
	setString(&c.Redis.Addr, "ANTIGRAVITY_REDIS_ADDR")
	setString(&c.Redis.Password, "ANTIGRAVITY_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "ANTIGRAVITY_REDIS_DB")
	setString(&c.Mongo.URI, "ANTIGRAVITY_MONGO_URI")
	setString(&c.Mongo.Database, "ANTIGRAVITY_MONGO_DATABASE")
	setInt(&c.Refresh.IntervalSeconds, "ANTIGRAVITY_REFRESH_INTERVAL")
	setInt(&c.Refresh.AheadSeconds, "ANTIGRAVITY_REFRESH_AHEAD")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Auth.Dir == "" {
		return fmt.Errorf("auth dir is required")
	}
	if c.Refresh.IntervalSeconds <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.Redis.StateTTL != "" {
		if _, err := time.ParseDuration(c.Redis.StateTTL); err != nil {
			return fmt.Errorf("invalid redis state_ttl: %w", err)
		}
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RedisStateTTL parses the configured TTL, zero when unset.
func (c *Config) RedisStateTTL() time.Duration {
	if c.Redis.StateTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Redis.StateTTL)
	if err != nil {
		return 0
	}
	return d
}

func setString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
