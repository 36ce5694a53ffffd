// Package config loads service configuration from the environment.
// A .env file in the working directory is honored in development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Backend names accepted for SESSION_BACKEND
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Archive   ArchiveConfig
	OpenAI    OpenAIConfig
}

type ServerConfig struct {
	Port        int
	Environment string
	LogLevel    string
}

type SessionConfig struct {
	Backend       string
	TTLMinutes    int
	MaxHistory    int
	Platform      string
	SweepMinutes  int
	OpTimeoutSecs int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ConnString builds the lib/pq connection string
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
}

type AuthConfig struct {
	JWTSecret         string
	AdminPasswordHash string
	TokenTTLMinutes   int
}

type ArchiveConfig struct {
	Bucket string
	Region string
}

// Enabled reports whether expired/ended sessions should be archived to S3
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Session: SessionConfig{
			Backend:       getEnv("SESSION_BACKEND", BackendMemory),
			TTLMinutes:    getEnvInt("SESSION_TTL_MINUTES", 1440),
			MaxHistory:    getEnvInt("SESSION_MAX_HISTORY", 50),
			Platform:      getEnv("SESSION_PLATFORM", "whatsapp"),
			SweepMinutes:  getEnvInt("SESSION_SWEEP_MINUTES", 60),
			OpTimeoutSecs: getEnvInt("SESSION_OP_TIMEOUT_SECONDS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   getEnvInt("RATE_LIMIT_MAX_REQUESTS", 10),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			TokenTTLMinutes:   getEnvInt("TOKEN_TTL_MINUTES", 60),
		},
		Archive: ArchiveConfig{
			Bucket: getEnv("ARCHIVE_S3_BUCKET", ""),
			Region: getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		},
		OpenAI: OpenAIConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Session.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("invalid SESSION_BACKEND %q (want %s, %s or %s)",
			c.Session.Backend, BackendMemory, BackendRedis, BackendPostgres)
	}

	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive, got %d", c.Session.TTLMinutes)
	}
	if c.Session.MaxHistory <= 0 {
		return fmt.Errorf("SESSION_MAX_HISTORY must be positive, got %d", c.Session.MaxHistory)
	}

	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive, got %d", c.RateLimit.WindowSeconds)
	}

	if c.Session.Backend == BackendPostgres {
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			return fmt.Errorf("postgres backend requires DB_HOST, DB_USER and DB_NAME")
		}
	}

	return nil
}

// IsDevelopment reports whether the service runs in a dev environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
