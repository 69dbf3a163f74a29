// Package oracle runs the off-ledger decryption service. It consumes jobs
// queued by the coordinator, threshold-decrypts the score ciphertext, signs
// the plaintext and reports it back through a Fulfiller.
package oracle

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ConfidentialLedger/internal/decryption"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/observability/alerting"
	"ConfidentialLedger/internal/observability/metrics"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/pkg/logger"
)

// Decrypter 是门限解密能力，fhe.Decryptor 实现了该接口。
type Decrypter interface {
	Decrypt(ctx context.Context, c *fhe.Ciphertext) (uint64, error)
}

// Fulfiller 将签名后的结果交还给账本。
type Fulfiller interface {
	Fulfill(ctx context.Context, f decryption.Fulfillment) error
}

var _ Decrypter = (*fhe.Decryptor)(nil)

const (
	// DefaultMaxAttempts 是回填失败后最多尝试的次数。
	DefaultMaxAttempts = 5
	// DefaultRetryBackoff 是首次重投前的等待时间，之后逐次翻倍。
	DefaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// Processor 负责从队列消费解密任务。
type Processor struct {
	decrypter   Decrypter
	key         *ecdsa.PrivateKey
	fulfiller   Fulfiller
	consumer    decryption.Consumer
	producer    decryption.Producer
	workerCount int
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRetryPolicy 设置回填的最多尝试次数与首次退避时间。
func WithRetryPolicy(maxAttempts int, backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			p.backoff = backoff
		}
	}
}

// WithRetryProducer 指定重投任务使用的生产者，默认复用实现了 Producer 的消费者。
func WithRetryProducer(producer decryption.Producer) ProcessorOption {
	return func(p *Processor) {
		p.producer = producer
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(decrypter Decrypter, key *ecdsa.PrivateKey, fulfiller Fulfiller, consumer decryption.Consumer, opts ...ProcessorOption) (*Processor, error) {
	if decrypter == nil || key == nil || fulfiller == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "预言机依赖不完整")
	}
	p := &Processor{
		decrypter:   decrypter,
		key:         key,
		fulfiller:   fulfiller,
		consumer:    consumer,
		workerCount: 1,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultRetryBackoff,
		sleep:       sleepContext,
	}
	if producer, ok := consumer.(decryption.Producer); ok {
		p.producer = producer
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Address 返回预言机签名地址。
func (p *Processor) Address() common.Address {
	return proofs.Address(p.key)
}

// Start 启动任务处理循环，直到上下文取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单个任务。可重试的回填失败由 Processor 退避后自行重投，
// 只有重投本身失败时才返回错误交给队列处理。
func (p *Processor) Handle(ctx context.Context, job decryption.Job) error {
	start := time.Now()
	c, err := job.Cipher()
	if err != nil {
		p.fail(ctx, job, xerrors.Wrap(fhe.CodeMalformedCiphertext, err, "任务密文无效"), "decode")
		metrics.ObserveOracleJob("malformed", 0)
		return nil
	}
	plaintext, err := p.decrypter.Decrypt(ctx, c)
	if err != nil {
		p.fail(ctx, job, err, "decrypt")
		metrics.ObserveOracleJob("decrypt_failed", time.Since(start))
		return nil
	}
	elapsed := time.Since(start)
	sig, err := proofs.SignFulfillment(p.key, job.RecordID, job.RequestID, job.Handle, plaintext)
	if err != nil {
		p.fail(ctx, job, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "签名解密结果失败"), "sign")
		metrics.ObserveOracleJob("sign_failed", elapsed)
		return nil
	}
	err = p.fulfiller.Fulfill(ctx, decryption.Fulfillment{
		RecordID:  job.RecordID,
		RequestID: job.RequestID,
		Handle:    job.Handle,
		Plaintext: plaintext,
		Signature: sig,
	})
	if err != nil {
		if retryable(err) {
			return p.retry(ctx, job, err, elapsed)
		}
		p.fail(ctx, job, err, "fulfill")
		metrics.ObserveOracleJob("rejected", elapsed)
		return nil
	}
	metrics.ObserveOracleJob("fulfilled", elapsed)
	logger.Audit().Info("解密任务完成",
		slog.Uint64("record_id", job.RecordID),
		slog.String("request_id", job.RequestID),
		slog.Int64("duration_ms", elapsed.Milliseconds()))
	p.logDebug("已回填解密结果", slog.Uint64("record_id", job.RecordID))
	return nil
}

// retry 记录一次失败尝试。次数用尽或没有生产者时放弃任务，记录仍处于待解密状态，
// 由下一次 Redrive 重新投递。
func (p *Processor) retry(ctx context.Context, job decryption.Job, cause error, elapsed time.Duration) error {
	job.Attempts++
	if job.Attempts >= p.maxAttempts || p.producer == nil {
		p.fail(ctx, job, cause, "terminal")
		metrics.ObserveOracleJob("exhausted", elapsed)
		logger.Audit().Warn("解密任务重试次数用尽",
			slog.Uint64("record_id", job.RecordID),
			slog.String("request_id", job.RequestID),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", p.maxAttempts))
		return nil
	}
	p.fail(ctx, job, cause, "retry")
	metrics.ObserveOracleJob("retry", elapsed)
	if err := p.sleep(ctx, p.backoffFor(job.Attempts)); err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, job); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "重投解密任务失败")
	}
	p.logDebug("解密任务已重新排队",
		slog.String("request_id", job.RequestID),
		slog.Int("attempts", job.Attempts))
	return nil
}

// backoffFor 返回第 attempts 次失败后的等待时间。
func (p *Processor) backoffFor(attempts int) time.Duration {
	d := p.backoff
	for i := 1; i < attempts && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable 判断回填失败是否值得重投。非统一错误多为网络故障，按可重试处理。
func retryable(err error) bool {
	if _, ok := xerrors.From(err); !ok {
		return true
	}
	return xerrors.RetryableError(err)
}

func (p *Processor) fail(ctx context.Context, job decryption.Job, err error, stage string) {
	logger.L().Error("处理解密任务失败",
		slog.Any("error", err),
		slog.Uint64("record_id", job.RecordID),
		slog.String("request_id", job.RequestID),
		slog.String("stage", stage))
	if p.alerter == nil {
		return
	}
	event := alerting.FromError(err, stage)
	event.RecordID = job.RecordID
	event.RequestID = job.RequestID
	if notifyErr := p.alerter.Notify(ctx, event); notifyErr != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", notifyErr),
			slog.String("request_id", job.RequestID),
			slog.String("stage", stage))
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

var _ Fulfiller = (*decryption.Coordinator)(nil)
