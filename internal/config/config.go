package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	JWT      JWTConfig      `yaml:"jwt" envPrefix:"JWT_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Cache    CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Audit    AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port string `yaml:"port" env:"PORT"`
	Mode string `yaml:"mode" env:"MODE"` // debug, release, test
	// Write routes are limited per client IP.
	WriteRPS   float64 `yaml:"write_rps" env:"WRITE_RPS"`
	WriteBurst int     `yaml:"write_burst" env:"WRITE_BURST"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn" env:"DSN"`
	Debug  bool   `yaml:"debug" env:"DEBUG"`
}

type JWTConfig struct {
	Secret string `yaml:"secret" env:"SECRET"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json or console
}

// CacheConfig controls the settings read cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Broadcast publishes invalidations over Redis so other instances drop
	// their entries too. Requires Redis.Enabled.
	Broadcast bool   `yaml:"broadcast" env:"BROADCAST"`
	Channel   string `yaml:"channel" env:"CHANNEL"`
}

// RedisConfig for optional cross-instance cache invalidation
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Cron spec for the retention cleanup job.
	CleanupSchedule string `yaml:"cleanup_schedule" env:"CLEANUP_SCHEDULE"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       "8080",
			Mode:       "debug",
			WriteRPS:   5,
			WriteBurst: 10,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "erp.db",
		},
		JWT: JWTConfig{
			Secret: "erp-secret-key-change-in-production",
		},
		Log: LogConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			TTL:     time.Hour,
			Channel: "erp:config:invalidate",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Audit: AuditConfig{
			Enabled:         true,
			CleanupSchedule: "30 3 * * *",
		},
	}
}

func (c *Config) overrideFromEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.Broadcast && !c.Redis.Enabled {
		return fmt.Errorf("cache.broadcast requires redis.enabled")
	}
	return nil
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
