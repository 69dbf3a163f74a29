package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"ConfidentialLedger/internal/acl"
	"ConfidentialLedger/internal/auth"
	"ConfidentialLedger/internal/config"
	"ConfidentialLedger/internal/decryption"
	"ConfidentialLedger/internal/events"
	"ConfidentialLedger/internal/observability/alerting"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/internal/storage/mysql"
	"ConfidentialLedger/internal/storage/sqlite"
	"ConfidentialLedger/pkg/logger"
)

type backend struct {
	store record.Store
	acl   acl.Manager
}

// openStore 打开记录存储。SQL 后端在同一个库里保存能力表。
func openStore(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return &backend{store: record.NewMemoryStore(), acl: acl.NewMemoryManager()}, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, err
		}
		closeOnDone(ctx, "SQLite", store)
		return &backend{store: store, acl: store}, nil
	case "mysql":
		store, err := mysql.NewRecordStore(ctx, cfg.Storage.MySQL)
		if err != nil {
			return nil, err
		}
		closeOnDone(ctx, "MySQL", store)
		return &backend{store: store, acl: store}, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func openQueue(ctx context.Context, cfg *config.Config) (decryption.Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return decryption.NewMemoryQueue(cfg.Queue.MemorySize), nil
	case "redis":
		return decryption.NewRedisQueue(ctx, cfg.Queue.Redis)
	case "rabbitmq":
		return decryption.NewRabbitMQQueue(cfg.Queue.RabbitMQ)
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func openEvents(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "none":
		return events.Nop{}, nil
	case "memory":
		bus := events.NewMemoryBus()
		ch, cancel := bus.Subscribe(64)
		go func() {
			<-ctx.Done()
			cancel()
		}()
		go func() {
			for event := range ch {
				logger.L().Debug("账本通知",
					slog.String("type", string(event.Type)),
					slog.Uint64("record_id", event.RecordID),
					slog.String("owner", event.Owner.Hex()),
					slog.String("request_id", event.RequestID))
			}
		}()
		return bus, nil
	case "redis":
		bus, err := events.NewRedisBus(ctx, cfg.Events.Redis)
		if err != nil {
			return nil, err
		}
		closeOnDone(ctx, "Redis 通知通道", bus)
		return bus, nil
	default:
		return nil, fmt.Errorf("未知的通知驱动: %s", cfg.Events.Driver)
	}
}

// newAuthenticator 构造请求签名校验器。Redis 防重放表复用通知或队列的 Redis 配置。
func newAuthenticator(ctx context.Context, cfg *config.Config) (*auth.Authenticator, error) {
	opts := []auth.Option{auth.WithMaxSkew(cfg.Auth.MaxSkew)}
	switch cfg.Auth.Replay {
	case "none":
	case "memory":
		opts = append(opts, auth.WithReplayGuard(auth.NewMemoryReplayGuard()))
	case "redis":
		opt := &redis.Options{
			Addr:     cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		}
		if opt.Addr == "" {
			opt = &redis.Options{
				Addr:     cfg.Queue.Redis.Address,
				Password: cfg.Queue.Redis.Password,
				DB:       cfg.Queue.Redis.DB,
			}
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("连接防重放 Redis 失败: %w", err)
		}
		closeOnDone(ctx, "防重放 Redis", client)
		opts = append(opts, auth.WithReplayGuard(auth.NewRedisReplayGuard(client, "")))
	default:
		return nil, fmt.Errorf("未知的防重放后端: %s", cfg.Auth.Replay)
	}
	return auth.NewAuthenticator(opts...), nil
}

func newAlerter(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

// closeOnDone 在进程退出时关闭资源。
func closeOnDone(ctx context.Context, name string, c interface{ Close() error }) {
	go func() {
		<-ctx.Done()
		closeQuietly(name, c)
	}()
}
