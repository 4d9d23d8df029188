package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "stream.orders", cfg.Order.Stream)
	assert.Equal(t, "g1", cfg.Order.Group)
	assert.Equal(t, "c1", cfg.Order.Consumer)
	assert.Equal(t, 2*time.Second, cfg.Order.Block)
	assert.Equal(t, time.Second, cfg.BuyRateWindow)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_DSN", "root:pass@tcp(127.0.0.1:3306)/seckill?parseTime=true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ORDER_CONSUMER", "c2")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BUY_RATE_WINDOW", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "mysql", cfg.DB.Driver)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "c2", cfg.Order.Consumer)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.BuyRateWindow)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"unknown driver":     {"DB_DRIVER", "oracle"},
		"zero rate limit":    {"BUY_RATE_LIMIT", "0"},
		"sub-second window":  {"BUY_RATE_WINDOW", "100ms"},
		"empty group":        {"ORDER_GROUP", " "},
		"bad log format":     {"LOG_FORMAT", "xml"},
		"not an int":         {"REDIS_DB", "abc"},
		"non-positive block": {"ORDER_BLOCK", "-1s"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
