package decryption

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"ConfidentialLedger/internal/acl"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/events"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/pkg/logger"
)

// Coordinator 实现两阶段解密：Request 只置位并投递任务，
// 结果由预言机通过 Fulfill 异步回填，Retrieve 从不阻塞等待。
type Coordinator struct {
	store    record.Store
	acl      acl.Manager
	producer Producer
	oracle   common.Address
	events   events.Publisher
	now      func() time.Time
	newID    func() string
}

// Option 定义可选配置。
type Option func(*Coordinator)

// WithEvents 指定通知发布器。
func WithEvents(p events.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.events = p
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRequestIDs 替换请求 ID 生成器。
func WithRequestIDs(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// NewCoordinator 构造协调器。oracle 是唯一被信任的回填签名地址。
func NewCoordinator(store record.Store, manager acl.Manager, producer Producer, oracle common.Address, opts ...Option) (*Coordinator, error) {
	if store == nil || manager == nil || producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "解密协调器依赖不完整")
	}
	if oracle == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置预言机地址")
	}
	c := &Coordinator{
		store:    store,
		acl:      manager,
		producer: producer,
		oracle:   oracle,
		events:   events.Nop{},
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Oracle 返回受信任的预言机地址。
func (c *Coordinator) Oracle() common.Address {
	return c.oracle
}

// authorize 依次检查记录存在、调用者是所有者、调用者持有得分句柄的能力。
func (c *Coordinator) authorize(ctx context.Context, id uint64, caller common.Address) (*record.Record, error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != rec.Owner {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "仅记录所有者可以操作解密",
			xerrors.WithMetadata("caller", caller.Hex()))
	}
	allowed, err := c.acl.Allowed(ctx, rec.Score.Handle(), caller)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询能力表失败")
	}
	if !allowed {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "调用者未持有得分句柄的能力",
			xerrors.WithMetadata("caller", caller.Hex()))
	}
	return rec, nil
}

// Request 发起解密请求并返回请求 ID。
func (c *Coordinator) Request(ctx context.Context, id uint64, caller common.Address) (string, error) {
	rec, err := c.authorize(ctx, id, caller)
	if err != nil {
		return "", err
	}
	if rec.DecryptionRequested {
		return "", record.ErrAlreadyRequested
	}
	requestID := c.newID()
	if err := c.store.MarkRequested(ctx, id, requestID); err != nil {
		return "", err
	}
	requestedAt := c.now().Unix()
	job := NewJob(rec, requestID, requestedAt)
	if err := c.producer.Publish(ctx, job); err != nil {
		// 标志已置位，由 Redrive 补投。
		logger.L().Error("投递解密任务失败",
			slog.Any("error", xerrors.Wrap(CodeJobPublish, err, "publish")),
			slog.Uint64("record_id", id),
			slog.String("request_id", requestID))
	}
	logger.Audit().Info("发起解密请求",
		slog.Uint64("record_id", id),
		slog.String("owner", rec.Owner.Hex()),
		slog.String("request_id", requestID))
	c.publish(ctx, events.Event{
		Type:       events.TypeDecryptionRequested,
		RecordID:   id,
		Owner:      rec.Owner,
		RequestID:  requestID,
		OccurredAt: requestedAt,
	})
	return requestID, nil
}

// Retrieve 返回已回填的明文得分。
func (c *Coordinator) Retrieve(ctx context.Context, id uint64, caller common.Address) (uint64, error) {
	rec, err := c.authorize(ctx, id, caller)
	if err != nil {
		return 0, err
	}
	if !rec.DecryptionRequested {
		return 0, ErrNotRequested
	}
	result, err := c.store.Result(ctx, id)
	if err != nil {
		if stdErrors.Is(err, record.ErrResultNotFound) {
			return 0, ErrNotFulfilled
		}
		return 0, err
	}
	return result.Plaintext, nil
}

// Fulfill 接收预言机回填。重复回填相同结果是幂等的。
func (c *Coordinator) Fulfill(ctx context.Context, f Fulfillment) error {
	if err := proofs.VerifyFulfillment(c.oracle, f.RecordID, f.RequestID, f.Handle, f.Plaintext, f.Signature); err != nil {
		return err
	}
	rec, err := c.store.Get(ctx, f.RecordID)
	if err != nil {
		return err
	}
	if !rec.DecryptionRequested {
		return ErrNotRequested
	}
	if rec.RequestID != f.RequestID || rec.Score.Handle() != f.Handle {
		return xerrors.New(CodeRequestMismatch, "回填结果与解密请求不符",
			xerrors.WithMetadata("request_id", f.RequestID))
	}
	if f.Plaintext > rec.Score.Type().Max() {
		return xerrors.New(xerrors.CodeInvalidArgument, "回填明文超出密文类型范围")
	}
	if existing, err := c.store.Result(ctx, f.RecordID); err == nil {
		if existing.Plaintext != f.Plaintext {
			return record.ErrResultConflict
		}
		return nil
	} else if !stdErrors.Is(err, record.ErrResultNotFound) {
		return err
	}
	fulfilledAt := c.now().Unix()
	if err := c.store.SaveResult(ctx, record.Result{
		RecordID:    f.RecordID,
		RequestID:   f.RequestID,
		Plaintext:   f.Plaintext,
		FulfilledAt: fulfilledAt,
	}); err != nil {
		return err
	}
	logger.Audit().Info("解密结果已回填",
		slog.Uint64("record_id", f.RecordID),
		slog.String("request_id", f.RequestID))
	c.publish(ctx, events.Event{
		Type:       events.TypeDecryptionFulfilled,
		RecordID:   f.RecordID,
		Owner:      rec.Owner,
		RequestID:  f.RequestID,
		OccurredAt: fulfilledAt,
	})
	return nil
}

// Redrive 重新投递已请求但尚未回填的任务，返回投递数量。
func (c *Coordinator) Redrive(ctx context.Context, limit int) (int, error) {
	pending, err := c.store.PendingRequests(ctx, limit)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, rec := range pending {
		job := NewJob(rec, rec.RequestID, c.now().Unix())
		if err := c.producer.Publish(ctx, job); err != nil {
			return published, xerrors.Wrap(CodeJobPublish, err, "重投解密任务失败",
				xerrors.WithMetadata("request_id", rec.RequestID))
		}
		published++
	}
	if published > 0 {
		logger.L().Info("已重投待处理的解密任务", slog.Int("count", published))
	}
	return published, nil
}

func (c *Coordinator) publish(ctx context.Context, event events.Event) {
	if err := c.events.Publish(ctx, event); err != nil {
		logger.L().Warn("发布账本通知失败",
			slog.Any("error", err),
			slog.String("type", string(event.Type)),
			slog.Uint64("record_id", event.RecordID))
	}
}
