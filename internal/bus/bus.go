package bus

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const channelPrefix = "inkroom:room:"

// Message is an accepted canvas-update frame forwarded between relays.
type Message struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"room_id"`
	Frame  json.RawMessage `json:"frame"`
}

// Bus fans accepted frames out to the other relay instances.
type Bus interface {
	Publish(ctx context.Context, roomID string, frame []byte) error

	// Subscribe delivers frames published by other instances, for every room.
	Subscribe(ctx context.Context) (<-chan *Message, error)

	Close() error
}

type Config struct {
	Driver string      `mapstructure:"driver"` // "", "redis"
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func ChannelName(roomID string) string {
	return channelPrefix + roomID
}

func roomFromChannel(channel string) string {
	return strings.TrimPrefix(channel, channelPrefix)
}
