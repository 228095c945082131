package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Sync       SyncConfig       `yaml:"sync"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// CORSOrigins limits browser callers; empty allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   float64  `yaml:"rate_limit"` // API requests per second per client IP
	Burst       int      `yaml:"burst"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // sqlite, mysql, postgres
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// EncryptionConfig holds the key used for stored tracker secrets.
// Key is either a base64 encoded 32 byte AES key or a passphrase.
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// TrackerConfig tunes the outbound issue tracker client.
type TrackerConfig struct {
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	PageSize        int           `yaml:"page_size"`  // max keys per search query
	RateLimit       float64       `yaml:"rate_limit"` // requests per second, shared by all calls
	Burst           int           `yaml:"burst"`
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"` // 0 disables read retries
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl"`      // 0 disables snapshot caching
	CredentialTTL   time.Duration `yaml:"credential_ttl"`    // 0 disables decrypted secret caching
}

// SyncConfig drives the background sweeps.
type SyncConfig struct {
	Enabled         bool          `yaml:"enabled"`
	BatchSize       int           `yaml:"batch_size"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	RetryAfter      time.Duration `yaml:"retry_after"`
	Timeout         time.Duration `yaml:"timeout"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	SweepBudget     time.Duration `yaml:"sweep_budget"`
	PendingCron     string        `yaml:"pending_cron"`
	RetryCron       string        `yaml:"retry_cron"`
	TimeoutCron     string        `yaml:"timeout_cron"`
	StatsCron       string        `yaml:"stats_cron"`
	UseSharedConfig bool          `yaml:"use_shared_config"` // records without an executor act as the shared identity
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables still win
	_ = godotenv.Load()

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
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			RateLimit: 20,
			Burst:     40,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "testcasecraft.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			Secret:     "testcasecraft-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracker: TrackerConfig{
			HTTPTimeout:     15 * time.Second,
			PageSize:        50,
			RateLimit:       5,
			Burst:           5,
			RetryMaxElapsed: 10 * time.Second,
			SnapshotTTL:     time.Minute,
			CredentialTTL:   5 * time.Minute,
		},
		Sync: SyncConfig{
			Enabled:       true,
			BatchSize:     20,
			MaxConcurrent: 5,
			RetryAfter:    30 * time.Minute,
			Timeout:       30 * time.Minute,
			CallTimeout:   20 * time.Second,
			SweepBudget:   4 * time.Minute,
			PendingCron:   "@every 5m",
			RetryCron:     "@every 30m",
			TimeoutCron:   "@every 5m",
			StatsCron:     "@every 1h",
		},
	}
}

// Validate rejects settings the sweeps cannot run with.
func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxConcurrent <= 0 {
		return fmt.Errorf("sync.max_concurrent must be positive, got %d", c.Sync.MaxConcurrent)
	}
	if c.Sync.CallTimeout <= 0 {
		return fmt.Errorf("sync.call_timeout must be positive")
	}
	if c.Sync.Timeout <= c.Sync.CallTimeout {
		return fmt.Errorf("sync.timeout (%v) must be longer than sync.call_timeout (%v)", c.Sync.Timeout, c.Sync.CallTimeout)
	}
	if c.Tracker.PageSize <= 0 {
		return fmt.Errorf("tracker.page_size must be positive, got %d", c.Tracker.PageSize)
	}
	if c.Server.RateLimit <= 0 || c.Server.Burst <= 0 {
		return fmt.Errorf("server.rate_limit and server.burst must be positive, got %v/%d", c.Server.RateLimit, c.Server.Burst)
	}
	return nil
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, o)
			}
		}
	}
	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.Server.RateLimit = rps
		}
	}
	if v := os.Getenv("API_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Burst = n
		}
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		c.Encryption.Key = key
	}
	if v := os.Getenv("SYNC_ENABLED"); v != "" {
		c.Sync.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SYNC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.MaxConcurrent = n
		}
	}
	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("TRACKER_RATE_LIMIT"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracker.RateLimit = rps
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
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
