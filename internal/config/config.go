package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Platform  EndpointConfig `yaml:"platform"`
	Metrics   EndpointConfig `yaml:"metrics"`
	Predictor EndpointConfig `yaml:"predictor"`
	Engine    EngineConfig   `yaml:"engine"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP API listen settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for cross-process campaign
// locks. Disabled when Addr is empty; in-process locks are used instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EndpointConfig holds credentials for one external HTTP collaborator:
// the ad platform, the metrics service, or the forecast service.
type EndpointConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c EndpointConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EngineConfig holds scheduler and dispatcher tuning.
type EngineConfig struct {
	EvalIntervalSeconds int `yaml:"eval_interval_seconds"`
	CooldownSeconds     int `yaml:"cooldown_seconds"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	Workers             int `yaml:"workers"`
	DispatchMaxAttempts int `yaml:"dispatch_max_attempts"`
}

// EvalInterval returns the evaluation cadence as a duration.
func (c EngineConfig) EvalInterval() time.Duration {
	return time.Duration(c.EvalIntervalSeconds) * time.Second
}

// Cooldown returns the minimum gap between executed actions as a duration.
func (c EngineConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// PollInterval returns the scheduler poll cadence as a duration.
func (c EngineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	RedactSecrets *bool  `yaml:"redact_secrets"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Platform.TimeoutSeconds == 0 {
		cfg.Platform.TimeoutSeconds = 30
	}
	if cfg.Metrics.TimeoutSeconds == 0 {
		cfg.Metrics.TimeoutSeconds = 30
	}
	if cfg.Predictor.TimeoutSeconds == 0 {
		cfg.Predictor.TimeoutSeconds = 30
	}
	if cfg.Engine.EvalIntervalSeconds == 0 {
		cfg.Engine.EvalIntervalSeconds = 300
	}
	if cfg.Engine.CooldownSeconds == 0 {
		cfg.Engine.CooldownSeconds = 900
	}
	if cfg.Engine.PollIntervalSeconds == 0 {
		cfg.Engine.PollIntervalSeconds = 5
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 8
	}
	if cfg.Engine.DispatchMaxAttempts == 0 {
		cfg.Engine.DispatchMaxAttempts = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if apiKey := os.Getenv("PLATFORM_API_KEY"); apiKey != "" {
		cfg.Platform.APIKey = apiKey
	}
	if baseURL := os.Getenv("PLATFORM_BASE_URL"); baseURL != "" {
		cfg.Platform.BaseURL = baseURL
	}
	if apiKey := os.Getenv("METRICS_API_KEY"); apiKey != "" {
		cfg.Metrics.APIKey = apiKey
	}
	if baseURL := os.Getenv("METRICS_BASE_URL"); baseURL != "" {
		cfg.Metrics.BaseURL = baseURL
	}
	if apiKey := os.Getenv("PREDICTOR_API_KEY"); apiKey != "" {
		cfg.Predictor.APIKey = apiKey
	}
	if baseURL := os.Getenv("PREDICTOR_BASE_URL"); baseURL != "" {
		cfg.Predictor.BaseURL = baseURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// Validate checks that the settings required to run the engine are present.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required (or set DATABASE_URL)")
	}
	if cfg.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if cfg.Metrics.BaseURL == "" {
		return fmt.Errorf("metrics.base_url is required")
	}
	return nil
}
