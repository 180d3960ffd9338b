package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-chat/pkg/database"
	pkgconfig "github.com/weiawesome/wes-io-chat/pkg/config"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

// Durations are read from their string form after unmarshalling so that a
// malformed value falls back to the default instead of failing the load.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  database.Config
	Presence  PresenceConfig
	Relay     RelayConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	Path            string
	PingInterval    time.Duration `mapstructure:"-"`
	PongWait        time.Duration `mapstructure:"-"`
	WriteWait       time.Duration `mapstructure:"-"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	EventsPerSecond float64       `mapstructure:"events_per_second"`
	EventBurst      int           `mapstructure:"event_burst"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
}

type PresenceConfig struct {
	Debounce          time.Duration `mapstructure:"-"`
	MinInterval       time.Duration `mapstructure:"-"`
	StoreTimeout      time.Duration `mapstructure:"-"`
	ReconcileInterval time.Duration `mapstructure:"-"`
}

type RelayConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
	HistoryLimit     int `mapstructure:"history_limit"`
}

type RedisConfig struct {
	Enabled           bool
	Address           string
	Password          string
	DB                int
	RegistryPrefix    string        `mapstructure:"registry_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"-"`
	KeyTTL            time.Duration `mapstructure:"-"`
	Channel           string
}

// Client returns the connection settings shared by the registry and the bus.
func (c RedisConfig) Client() pubsub.RedisConfig {
	cfg := pubsub.DefaultRedisConfig()
	cfg.Address = c.Address
	cfg.Password = c.Password
	cfg.DB = c.DB
	return cfg
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.path", "/chat/ws")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.events_per_second", 20)
	v.SetDefault("websocket.event_burst", 40)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("presence.debounce", "500ms")
	v.SetDefault("presence.min_interval", "2s")
	v.SetDefault("presence.store_timeout", "5s")
	v.SetDefault("presence.reconcile_interval", "30s")
	v.SetDefault("relay.max_content_length", 4000)
	v.SetDefault("relay.history_limit", 50)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.registry_prefix", "chat:live")
	v.SetDefault("redis.heartbeat_interval", "10s")
	v.SetDefault("redis.key_ttl", "30s")
	v.SetDefault("redis.channel", pubsub.ChannelChatBus)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Presence.Debounce = pkgconfig.Duration(v, "presence.debounce", 500*time.Millisecond)
	cfg.Presence.MinInterval = pkgconfig.Duration(v, "presence.min_interval", 2*time.Second)
	cfg.Presence.StoreTimeout = pkgconfig.Duration(v, "presence.store_timeout", 5*time.Second)
	cfg.Presence.ReconcileInterval = pkgconfig.Duration(v, "presence.reconcile_interval", 30*time.Second)
	cfg.Redis.HeartbeatInterval = pkgconfig.Duration(v, "redis.heartbeat_interval", 10*time.Second)
	cfg.Redis.KeyTTL = pkgconfig.Duration(v, "redis.key_ttl", 30*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return errors.New("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	if c.Redis.Enabled && c.Redis.HeartbeatInterval >= c.Redis.KeyTTL {
		return errors.New("redis.heartbeat_interval must be shorter than redis.key_ttl")
	}
	if c.Relay.MaxContentLength <= 0 {
		return errors.New("relay.max_content_length must be positive")
	}
	return nil
}
