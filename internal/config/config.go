package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"cohortlive/internal/telemetry"
	dbconfig "cohortlive/pkg/database"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "COHORTLIVE_"

// EnvFileVar names the variable pointing at an optional .env file.
const EnvFileVar = EnvPrefix + "ENV_FILE"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings
// coordinator; components receive plain values, never the loader.
type Config struct {
	Database  DatabaseConfig   `json:"database" envPrefix:"DATABASE_"`
	HTTP      HTTPConfig       `json:"http" envPrefix:"HTTP_"`
	WebSocket WebSocketConfig  `json:"websocket" envPrefix:"WEBSOCKET_"`
	Redis     RedisConfig      `json:"redis" envPrefix:"REDIS_"`
	Auth      AuthConfig       `json:"auth" envPrefix:"AUTH_"`
	Telemetry telemetry.Config `json:"telemetry"`
	RateLimit RateLimitConfig  `json:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

type DatabaseConfig struct {
	Path           string        `json:"path" env:"PATH"`
	Timeout        time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxConnections int           `json:"max_connections" env:"MAX_CONNECTIONS"`
	MigrationsPath string        `json:"migrations_path" env:"MIGRATIONS_PATH"`
	// CatalogFile, when set, is imported into the store at startup.
	CatalogFile string `json:"catalog_file" env:"CATALOG_FILE"`
}

type HTTPConfig struct {
	Host            string        `json:"host" env:"HOST"`
	Port            int           `json:"port" env:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	BufferSize   int           `json:"buffer_size" env:"BUFFER_SIZE"`
	HubQueueSize int           `json:"hub_queue_size" env:"HUB_QUEUE_SIZE"`
}

// RedisConfig enables the optional redis event publisher.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" env:"ENABLED"`
	Addr     string `json:"addr" env:"ADDR"`
	Username string `json:"username" env:"USERNAME"`
	Password string `json:"-" env:"PASSWORD"`
	DB       int    `json:"db" env:"DB"`
}

// AuthConfig verifies bearer tokens issued by the identity service.
type AuthConfig struct {
	Secret string `json:"-" env:"SECRET"`
	Issuer string `json:"issuer" env:"ISSUER"`
}

type RateLimitConfig struct {
	PerMinute       int           `json:"per_minute" env:"PER_MINUTE"`
	CleanupInterval time.Duration `json:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// DefaultConfig returns local-development defaults. Auth.Secret has no
// default and must be provided.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           "./data/cohortlive.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
			HubQueueSize: 1000,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Telemetry: telemetry.Config{
			ServiceName: "cohortlive",
		},
		RateLimit: RateLimitConfig{
			PerMinute:       120,
			CleanupInterval: 5 * time.Minute,
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path cannot be empty"))
	}
	if c.Database.Timeout <= 0 {
		errs = append(errs, errors.New("database timeout must be positive"))
	}
	if c.Database.MaxConnections <= 0 {
		errs = append(errs, errors.New("database max connections must be positive"))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, errors.New("HTTP port must be between 1 and 65535"))
	}
	if c.HTTP.Host == "" {
		errs = append(errs, errors.New("HTTP host cannot be empty"))
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("HTTP timeouts must be positive"))
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		errs = append(errs, errors.New("WebSocket timeouts must be positive"))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		errs = append(errs, errors.New("WebSocket ping interval must be shorter than the read timeout"))
	}
	if c.WebSocket.BufferSize <= 0 || c.WebSocket.HubQueueSize <= 0 {
		errs = append(errs, errors.New("WebSocket buffer sizes must be positive"))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis address is required when redis is enabled"))
	}

	if c.Auth.Secret == "" {
		errs = append(errs, fmt.Errorf("auth secret is required (%sAUTH_SECRET)", EnvPrefix))
	}

	if c.RateLimit.PerMinute <= 0 {
		errs = append(errs, errors.New("rate limit per minute must be positive"))
	}
	if c.RateLimit.CleanupInterval <= 0 {
		errs = append(errs, errors.New("rate limit cleanup interval must be positive"))
	}

	return errors.Join(errs...)
}

// Store returns the store configuration derived from the database section.
func (c *Config) Store() *dbconfig.Config {
	store := dbconfig.DefaultConfig()
	store.DatabasePath = c.Database.Path
	store.WriteTimeout = c.Database.Timeout
	store.MaxConnections = c.Database.MaxConnections
	store.MigrationsPath = c.Database.MigrationsPath
	return store
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays COHORTLIVE_* environment variables on cfg, after
// loading the .env file named by COHORTLIVE_ENV_FILE (default ".env") if it
// exists. Variables already set in the environment win over the file.
func LoadFromEnv(cfg *Config) error {
	envFile := os.Getenv(EnvFileVar)
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", envFile, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// fileConfig mirrors Config with durations as strings ("30s") for JSON files.
type fileConfig struct {
	Database *struct {
		Path           string `json:"path"`
		Timeout        string `json:"timeout"`
		MaxConnections int    `json:"max_connections"`
		MigrationsPath string `json:"migrations_path"`
		CatalogFile    string `json:"catalog_file"`
	} `json:"database"`
	HTTP *struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
		HubQueueSize int    `json:"hub_queue_size"`
	} `json:"websocket"`
	Redis *struct {
		Enabled  *bool  `json:"enabled"`
		Addr     string `json:"addr"`
		Username string `json:"username"`
		DB       *int   `json:"db"`
	} `json:"redis"`
	Auth *struct {
		Issuer string `json:"issuer"`
	} `json:"auth"`
	Telemetry *struct {
		Endpoint    string `json:"endpoint"`
		ServiceName string `json:"service_name"`
	} `json:"telemetry"`
	RateLimit *struct {
		PerMinute       int    `json:"per_minute"`
		CleanupInterval string `json:"cleanup_interval"`
	} `json:"rate_limit"`
}

// LoadFromFile overlays the JSON file at path on cfg. Secrets are never read
// from the file.
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var f fileConfig
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	var errs []error
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, field, v string) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if d := f.Database; d != nil {
		setString(&cfg.Database.Path, d.Path)
		setDuration(&cfg.Database.Timeout, "database.timeout", d.Timeout)
		setInt(&cfg.Database.MaxConnections, d.MaxConnections)
		setString(&cfg.Database.MigrationsPath, d.MigrationsPath)
		setString(&cfg.Database.CatalogFile, d.CatalogFile)
	}
	if h := f.HTTP; h != nil {
		setString(&cfg.HTTP.Host, h.Host)
		setInt(&cfg.HTTP.Port, h.Port)
		setDuration(&cfg.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		setDuration(&cfg.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		setDuration(&cfg.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout)
	}
	if w := f.WebSocket; w != nil {
		setDuration(&cfg.WebSocket.PingInterval, "websocket.ping_interval", w.PingInterval)
		setDuration(&cfg.WebSocket.ReadTimeout, "websocket.read_timeout", w.ReadTimeout)
		setDuration(&cfg.WebSocket.WriteTimeout, "websocket.write_timeout", w.WriteTimeout)
		setInt(&cfg.WebSocket.BufferSize, w.BufferSize)
		setInt(&cfg.WebSocket.HubQueueSize, w.HubQueueSize)
	}
	if r := f.Redis; r != nil {
		if r.Enabled != nil {
			cfg.Redis.Enabled = *r.Enabled
		}
		setString(&cfg.Redis.Addr, r.Addr)
		setString(&cfg.Redis.Username, r.Username)
		if r.DB != nil {
			cfg.Redis.DB = *r.DB
		}
	}
	if a := f.Auth; a != nil {
		setString(&cfg.Auth.Issuer, a.Issuer)
	}
	if t := f.Telemetry; t != nil {
		setString(&cfg.Telemetry.Endpoint, t.Endpoint)
		setString(&cfg.Telemetry.ServiceName, t.ServiceName)
	}
	if rl := f.RateLimit; rl != nil {
		setInt(&cfg.RateLimit.PerMinute, rl.PerMinute)
		setDuration(&cfg.RateLimit.CleanupInterval, "rate_limit.cleanup_interval", rl.CleanupInterval)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// Load builds the runtime configuration: defaults, then environment, then
// the optional JSON file at path, then validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := LoadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
