package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "STOREFRONT"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Media       MediaConfig       `mapstructure:"media"`
	Payment     PaymentConfig     `mapstructure:"payment"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	// Driver is "memory" or "mongo".
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI          string `mapstructure:"uri"`
	Database     string `mapstructure:"database"`
	Transactions bool   `mapstructure:"transactions"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MediaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Segment string `mapstructure:"segment"`
}

type PaymentConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	APIKey                string        `mapstructure:"api_key"`
	IntegrationID         int64         `mapstructure:"integration_id"`
	IframeID              string        `mapstructure:"iframe_id"`
	Currency              string        `mapstructure:"currency"`
	HMACSecret            string        `mapstructure:"hmac_secret"`
	Timeout               time.Duration `mapstructure:"timeout"`
	KeyExpiration         int           `mapstructure:"key_expiration"`
	AllowUnsignedWebhooks bool          `mapstructure:"allow_unsigned_webhooks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9091")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "storefront")
	v.SetDefault("mongo.transactions", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "storefront.orders")
	v.SetDefault("media.base_url", "")
	v.SetDefault("media.segment", "products")
	v.SetDefault("payment.base_url", "https://accept.paymob.com/api")
	v.SetDefault("payment.api_key", "")
	v.SetDefault("payment.integration_id", 0)
	v.SetDefault("payment.iframe_id", "")
	v.SetDefault("payment.currency", "EGP")
	v.SetDefault("payment.hmac_secret", "")
	v.SetDefault("payment.timeout", 10*time.Second)
	v.SetDefault("payment.key_expiration", 3600)
	v.SetDefault("payment.allow_unsigned_webhooks", false)
}

// Load reads defaults, then the optional config file, then STOREFRONT_* env
// variables (server.addr -> STOREFRONT_SERVER_ADDR).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitBrokers(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitBrokers accepts both a list and a single comma separated value.
func splitBrokers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, b := range strings.Split(item, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("config: mongo.uri and mongo.database are required for the mongo driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Idempotency.TTL <= 0 {
		return errors.New("config: idempotency.ttl must be positive")
	}
	return nil
}

// WebhookSigningRequired reports whether provider notifications must carry a
// valid signature. A configured secret is always enforced.
func (c *Config) WebhookSigningRequired() bool {
	return c.Payment.HMACSecret != "" || !c.Payment.AllowUnsignedWebhooks
}
