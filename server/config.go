package main

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// Config carries everything read from the environment at startup.
type Config struct {
	DBHost string
	DBPort int
	DBUser string
	DBPass string
	DBName string

	SMTPServer   string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	ShardIndex int

	AppHost string
	AppPort int

	RedisAddr     string
	RedisPassword string
}

// loadConfig reads the environment with local-development defaults.
// Malformed integers keep the default and are logged.
func loadConfig(log *zap.Logger) Config {
	return Config{
		DBHost: getEnv("DB_HOST", "localhost"),
		DBPort: getEnvInt(log, "DB_PORT", 5432),
		DBUser: getEnv("DB_USER", "postgres"),
		DBPass: getEnv("DB_PASS", "postgres"),
		DBName: getEnv("DB_NAME", "alerting"),

		SMTPServer:   getEnv("SMTP_SERVER", "localhost"),
		SMTPPort:     getEnvInt(log, "SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		ShardIndex: getEnvInt(log, "SHARD_INDEX", 0),

		AppHost: getEnv("APP_HOST", "localhost"),
		AppPort: getEnvInt(log, "APP_PORT", 8080),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
	}
}

// DatabaseURL builds the Postgres DSN used by migrations and the pool.
func (c Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

// ListenAddr is the admin API bind address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.AppPort)
}

// AckBaseURL is the externally reachable prefix baked into the
// acknowledgement links mailed to admins.
func (c Config) AckBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.AppHost, c.AppPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(log *zap.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("environment variable is not an integer, using default",
			zap.String("key", key),
			zap.String("value", v),
			zap.Int("default", fallback))
		return fallback
	}
	return n
}
