package config_test

import (
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/RajaSunrise/toko-order/internal/config"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppPort)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "toko.db", cfg.DatabaseDSN)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "order.events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RabbitMQURL)
	assert.Equal(t, sql.LevelDefault, cfg.Isolation())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "Memory")
	t.Setenv("DB_TX_ISOLATION", "SERIALIZABLE")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ,")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.DatabaseDriver)
	assert.Equal(t, sql.LevelSerializable, cfg.Isolation())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Minute, cfg.JWTTTL)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown driver":    {"DATABASE_DRIVER": "oracle"},
		"unknown isolation": {"DB_TX_ISOLATION": "chaos"},
		"unknown log level": {"LOG_LEVEL": "verbose"},
		"negative jwt ttl":  {"JWT_TTL": "-1h"},
		"zero pool size":    {"DATABASE_MAX_OPEN_CONNS": "0"},
		"zero idem ttl":     {"IDEMPOTENCY_TTL": "0s"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load(viper.New())
			assert.Error(t, err)
		})
	}
}

func TestIsolation(t *testing.T) {
	cases := map[string]sql.IsolationLevel{
		"default":         sql.LevelDefault,
		"read_committed":  sql.LevelReadCommitted,
		"repeatable_read": sql.LevelRepeatableRead,
		"serializable":    sql.LevelSerializable,
		"":                sql.LevelDefault,
	}
	for name, want := range cases {
		assert.Equal(t, want, config.Config{TxIsolation: name}.Isolation(), name)
	}
}
