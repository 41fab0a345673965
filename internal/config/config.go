package config

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the runtime configuration of the service.
type Config struct {
	AppPort     string `validate:"required"`
	ServiceName string `validate:"required"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	DatabaseDriver       string `validate:"oneof=postgres mysql sqlite memory"`
	DatabaseDSN          string `validate:"required_unless=DatabaseDriver memory"`
	DatabaseMaxOpenConns int    `validate:"gte=1"`
	TxIsolation          string `validate:"oneof=default read_committed repeatable_read serializable"`

	JWTSecret string        `validate:"required"`
	JWTTTL    time.Duration `validate:"gt=0"`

	RabbitMQURL    string
	KafkaBrokers   []string
	KafkaTopic     string `validate:"required"`
	RedisAddr      string
	IdempotencyTTL time.Duration `validate:"gt=0"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("SERVICE_NAME", "toko-order")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "toko.db")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_TX_ISOLATION", "default")
	v.SetDefault("JWT_SECRET", "change-me")
	v.SetDefault("JWT_TTL", 24*time.Hour)
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "order.events")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
}

// Load reads .env (when present) and the environment into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}
	SetDefaults(v)
	v.AutomaticEnv()

	cfg := Config{
		AppPort:              v.GetString("APP_PORT"),
		ServiceName:          v.GetString("SERVICE_NAME"),
		LogLevel:             strings.ToLower(v.GetString("LOG_LEVEL")),
		DatabaseDriver:       strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseDSN:          v.GetString("DATABASE_DSN"),
		DatabaseMaxOpenConns: v.GetInt("DATABASE_MAX_OPEN_CONNS"),
		TxIsolation:          strings.ToLower(v.GetString("DB_TX_ISOLATION")),
		JWTSecret:            v.GetString("JWT_SECRET"),
		JWTTTL:               v.GetDuration("JWT_TTL"),
		RabbitMQURL:          v.GetString("RABBITMQ_URL"),
		KafkaBrokers:         splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:           v.GetString("KAFKA_TOPIC"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		IdempotencyTTL:       v.GetDuration("IDEMPOTENCY_TTL"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Isolation maps DB_TX_ISOLATION to a database/sql isolation level.
func (c Config) Isolation() sql.IsolationLevel {
	switch c.TxIsolation {
	case "read_committed":
		return sql.LevelReadCommitted
	case "repeatable_read":
		return sql.LevelRepeatableRead
	case "serializable":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
