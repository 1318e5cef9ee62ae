package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/manpreetbhatti/inkroom/internal/bus"
	"github.com/manpreetbhatti/inkroom/internal/logging"
	"github.com/manpreetbhatti/inkroom/internal/storage"
)

// Load reads configName.yaml from configPath, "." or "./config" and layers
// environment variables on top. A missing file is not an error.
func Load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}

type Server struct {
	Server    HTTPConfig
	Database  DatabaseConfig
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Relay     RelayConfig
	Bus       bus.Config
	Storage   storage.Config
	Sweeper   SweeperConfig
	Discovery DiscoveryConfig
	Log       logging.Config
}

type HTTPConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"-"`
}

// Addr is the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Path string
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	WriteWait      time.Duration `mapstructure:"-"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RelayConfig struct {
	HistoryLimit      int     `mapstructure:"history_limit"`
	ReplayOnJoin      bool    `mapstructure:"replay_on_join"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	MessageBurst      int     `mapstructure:"message_burst"`
	MaxViolations     int     `mapstructure:"max_violations"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"-"`
	MaxIdle  time.Duration `mapstructure:"-"`
}

type DiscoveryConfig struct {
	Enabled  bool
	Instance string
}

// LoadServer reads the relay server configuration from ./config/config.yaml
// and the environment.
func LoadServer() (*Server, error) {
	v, err := Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return unmarshalServer(v)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.path", "./data/inkroom.db")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 64*1024)
	v.SetDefault("websocket.send_buffer", 512)
	v.SetDefault("relay.history_limit", 50000)
	v.SetDefault("relay.replay_on_join", false)
	v.SetDefault("relay.messages_per_second", 100)
	v.SetDefault("relay.message_burst", 200)
	v.SetDefault("relay.max_violations", 1000)
	v.SetDefault("bus.driver", "")
	v.SetDefault("bus.redis.address", "localhost:6379")
	v.SetDefault("bus.redis.password", "")
	v.SetDefault("bus.redis.db", 0)
	v.SetDefault("bus.redis.pool_size", 10)
	v.SetDefault("bus.redis.read_timeout", "3s")
	v.SetDefault("bus.redis.write_timeout", "3s")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/exports")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("sweeper.interval", "5m")
	v.SetDefault("sweeper.max_idle", "24h")
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "inkroom-relay")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.path", "INKROOM_DB_PATH")
	v.BindEnv("relay.replay_on_join", "INKROOM_REPLAY_ON_JOIN")
	v.BindEnv("bus.driver", "BUS_DRIVER")
	v.BindEnv("bus.redis.address", "REDIS_ADDRESS")
	v.BindEnv("bus.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.region", "S3_REGION")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("storage.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("discovery.enabled", "INKROOM_DISCOVERY")
	v.BindEnv("log.level", "LOG_LEVEL")
}

func unmarshalServer(v *viper.Viper) (*Server, error) {
	setServerDefaults(v)

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 54*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Bus.Redis.ReadTimeout = parseDuration(v, "bus.redis.read_timeout", 3*time.Second)
	cfg.Bus.Redis.WriteTimeout = parseDuration(v, "bus.redis.write_timeout", 3*time.Second)
	cfg.Sweeper.Interval = parseDuration(v, "sweeper.interval", 5*time.Minute)
	cfg.Sweeper.MaxIdle = parseDuration(v, "sweeper.max_idle", 24*time.Hour)

	// Pings must go out before the peer's read deadline expires
	if cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		cfg.WebSocket.PingInterval = cfg.WebSocket.PongWait * 9 / 10
	}

	return &cfg, nil
}
