package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env       string `mapstructure:"env"`
	Port      string `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers               []string `mapstructure:"brokers"`
	TopicMessagePersisted string   `mapstructure:"topic_message_persisted"`
	TopicChatEvents       string   `mapstructure:"topic_chat_events"`
}

type WSConfig struct {
	PingIntervalSeconds int   `mapstructure:"ping_interval_seconds"`
	PongTimeoutSeconds  int   `mapstructure:"pong_timeout_seconds"`
	MaxMessageSizeBytes int64 `mapstructure:"max_message_size_bytes"`
}

type HubConfig struct {
	// DuplicateSessionPolicy is "evict" (default: the old session gets a
	// DISCONNECTED notice and is replaced) or "ignore" (the new channel is
	// never registered).
	DuplicateSessionPolicy string `mapstructure:"duplicate_session_policy"`
}

type RateLimitConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	WS        WSConfig        `mapstructure:"ws"`
	Hub       HubConfig       `mapstructure:"hub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// derived
	PingInterval    time.Duration
	PongTimeout     time.Duration
	RateLimitWindow time.Duration
}

func (c *Config) Development() bool {
	return c.App.Env == "development"
}

// Load reads configuration from a YAML file (optional when path is empty),
// .env and process environment, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	// nested override: APP_JWT_SECRET, MONGO_URI, REDIS_ADDR, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.env", "production")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.jwt_secret", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "chatapp")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chatapp")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_message_persisted", "chat.message.persisted")
	v.SetDefault("kafka.topic_chat_events", "chat.lifecycle")
	v.SetDefault("ws.ping_interval_seconds", 5)
	v.SetDefault("ws.pong_timeout_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 64*1024)
	v.SetDefault("hub.duplicate_session_policy", "evict")
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window_seconds", 60)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.PongTimeout = time.Duration(c.WS.PongTimeoutSeconds) * time.Second
	c.RateLimitWindow = time.Duration(c.RateLimit.WindowSeconds) * time.Second
	return &c, nil
}
