package decryption

import "context"

// Handler 处理来自队列的解密任务。返回错误时由具体队列决定是否重投。
type Handler func(ctx context.Context, job Job) error

// Producer 负责向预言机队列投递任务。
type Producer interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
