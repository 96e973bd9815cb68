package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Intake   IntakeConfig   `json:"intake"`
	Breaker  BreakerConfig  `json:"breaker"`
	Alerting AlertingConfig `json:"alerting"`
	Fallback FallbackConfig `json:"fallback"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// IntakeConfig contains error intake and classification configuration
type IntakeConfig struct {
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	RequeueLimit  int           `json:"requeue_limit"`
}

// BreakerConfig contains circuit breaker defaults
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// AlertingConfig contains alert engine configuration
type AlertingConfig struct {
	QueueSize       int           `json:"queue_size"`
	ActionTimeout   time.Duration `json:"action_timeout"`
	ActionRetries   int           `json:"action_retries"`
	ThrottleMinutes int           `json:"throttle_minutes"`
}

// FallbackConfig contains fallback provider configuration
type FallbackConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	ProbeTimeout        time.Duration `json:"probe_timeout"`
	FailureThreshold    int           `json:"failure_threshold"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "sentinel"),
			User:            getEnvString("DB_USER", "sentinel"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Intake: IntakeConfig{
			BatchSize:     getEnvInt("INTAKE_BATCH_SIZE", 50),
			FlushInterval: getEnvDuration("INTAKE_FLUSH_INTERVAL", 5*time.Second),
			RequeueLimit:  getEnvInt("INTAKE_REQUEUE_LIMIT", 10),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
		},
		Alerting: AlertingConfig{
			QueueSize:       getEnvInt("ALERT_QUEUE_SIZE", 1000),
			ActionTimeout:   getEnvDuration("ALERT_ACTION_TIMEOUT", 10*time.Second),
			ActionRetries:   getEnvInt("ALERT_ACTION_RETRIES", 2),
			ThrottleMinutes: getEnvInt("ALERT_THROTTLE_MINUTES", 15),
		},
		Fallback: FallbackConfig{
			HealthCheckInterval: getEnvDuration("FALLBACK_HEALTH_INTERVAL", 60*time.Second),
			ProbeTimeout:        getEnvDuration("FALLBACK_PROBE_TIMEOUT", 5*time.Second),
			FailureThreshold:    getEnvInt("FALLBACK_FAILURE_THRESHOLD", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Intake.BatchSize <= 0 {
		return fmt.Errorf("intake batch size must be positive")
	}
	if c.Intake.RequeueLimit < 0 {
		return fmt.Errorf("intake requeue limit must not be negative")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Fallback.FailureThreshold <= 0 {
		return fmt.Errorf("fallback failure threshold must be positive")
	}
	return nil
}

// RedisAddr returns the host:port address for the Redis client
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
