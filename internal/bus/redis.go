package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type RedisBus struct {
	client   *redis.Client
	instance string

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisBus(ctx context.Context, cfg RedisConfig, instanceID string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{client: client, instance: instanceID}, nil
}

func (b *RedisBus) Publish(ctx context.Context, roomID string, frame []byte) error {
	data, err := json.Marshal(Message{Origin: b.instance, RoomID: roomID, Frame: frame})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.client.Publish(ctx, ChannelName(roomID), data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan *Message, error) {
	ps := b.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	out := make(chan *Message, 256)
	go b.processMessages(ctx, ps, out)
	return out, nil
}

// Frames from this instance are skipped; full consumers lose frames rather than stall redis.
func (b *RedisBus) processMessages(ctx context.Context, ps *redis.PubSub, out chan<- *Message) {
	defer close(out)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				continue
			}
			if m.Origin == b.instance {
				continue
			}
			if m.RoomID == "" {
				m.RoomID = roomFromChannel(msg.Channel)
			}

			select {
			case out <- &m:
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	for _, ps := range b.subs {
		ps.Close()
	}
	b.subs = nil
	b.mu.Unlock()

	return b.client.Close()
}
