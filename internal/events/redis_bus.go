package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ConfidentialLedger/pkg/logger"
)

// RedisConfig 描述 Redis 通知通道。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

// RedisBus 通过 Redis pub/sub 发布通知。
type RedisBus struct {
	client  *redis.Client
	channel string
}

var _ Publisher = (*RedisBus)(nil)

// NewRedisBus 创建 Redis 通知总线。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisBus(client, cfg.Channel), nil
}

func newRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "ledger:events"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish 实现 Publisher 接口。
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布通知失败: %w", err)
	}
	return nil
}

// Subscribe 订阅通知直到 ctx 取消。
func (b *RedisBus) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	sub := b.client.Subscribe(ctx, b.channel)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.L().Warn("忽略无法解析的通知", slog.Any("error", err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
