package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	DB    DBConfig
	Redis RedisConfig
	Order OrderConfig
	Kafka KafkaConfig
	Log   LogConfig

	// 购买接口限流
	BuyRateLimit  int           `envconfig:"BUY_RATE_LIMIT" default:"1000"`
	BuyRateWindow time.Duration `envconfig:"BUY_RATE_WINDOW" default:"1s"`

	// 预热接口的简单管理员令牌（demo 级别保护）
	PreloadAdminToken string `envconfig:"PRELOAD_ADMIN_TOKEN" default:"dev-admin-token"`
}

type DBConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"DB_DSN" default:"seckill.db?_busy_timeout=5000&_journal_mode=WAL"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	Password string `envconfig:"REDIS_PASSWORD"`
}

// OrderConfig 下单队列（Redis Stream + 消费者组）
type OrderConfig struct {
	Stream   string        `envconfig:"ORDER_STREAM" default:"stream.orders"`
	Group    string        `envconfig:"ORDER_GROUP" default:"g1"`
	Consumer string        `envconfig:"ORDER_CONSUMER" default:"c1"`
	Block    time.Duration `envconfig:"ORDER_BLOCK" default:"2s"`
}

// KafkaConfig 订单创建事件，关闭时不连接 Kafka。
type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"seckill-order-events"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"` // json | console
}

// Load 先尝试加载 .env，再读取环境变量并校验。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, errors.Wrap(err, "load .env")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, errors.Wrap(err, "process env config")
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		return errors.Newf("DB_DRIVER must be sqlite or mysql, got %q", c.DB.Driver)
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		return errors.New("DB_DSN must not be empty")
	}
	if c.BuyRateLimit <= 0 {
		return errors.New("BUY_RATE_LIMIT must be > 0")
	}
	if c.BuyRateWindow < time.Second {
		return errors.New("BUY_RATE_WINDOW must be >= 1s")
	}
	if strings.TrimSpace(c.Order.Stream) == "" {
		return errors.New("ORDER_STREAM must not be empty")
	}
	if strings.TrimSpace(c.Order.Group) == "" {
		return errors.New("ORDER_GROUP must not be empty")
	}
	if strings.TrimSpace(c.Order.Consumer) == "" {
		return errors.New("ORDER_CONSUMER must not be empty")
	}
	if c.Order.Block <= 0 {
		return errors.New("ORDER_BLOCK must be > 0")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS must not be empty")
		}
		if c.Kafka.Topic == "" {
			return errors.New("KAFKA_TOPIC must not be empty")
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.Newf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	return nil
}
