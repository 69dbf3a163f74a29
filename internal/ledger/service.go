// Package ledger is the single entry point for ledger operations. It owns the
// record store, the scoring engine, the capability table, the fee gate and
// the decryption coordinator, and is the only place that mutates them.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ConfidentialLedger/internal/acl"
	"ConfidentialLedger/internal/decryption"
	"ConfidentialLedger/internal/economics"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/events"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/observability/metrics"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/internal/scoring"
	"ConfidentialLedger/pkg/logger"
)

// InputVerifier 校验提交附带的输入证明。
type InputVerifier interface {
	Verify(owner common.Address, handles []fhe.Handle, proof []byte) error
}

// Submission 是一次记录提交。Inputs 按权重表顺序排列。
type Submission struct {
	Owner   common.Address
	Inputs  []*fhe.Ciphertext
	Proof   []byte
	Payment *big.Int
}

// Dependencies 汇总 Service 依赖的组件。
type Dependencies struct {
	Store       record.Store
	ACL         acl.Manager
	Algebra     fhe.Algebra
	Engine      *scoring.Engine
	Inputs      InputVerifier
	Gate        *economics.Gate
	Coordinator *decryption.Coordinator
	Events      events.Publisher
	// Identity 是账本自身的身份，所有句柄同时授予该身份。
	Identity common.Address
}

// Service 实现账本对外的全部操作。
type Service struct {
	store    record.Store
	acl      acl.Manager
	algebra  fhe.Algebra
	engine   *scoring.Engine
	inputs   InputVerifier
	gate     *economics.Gate
	coord    *decryption.Coordinator
	events   events.Publisher
	identity common.Address
	now      func() time.Time
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New 构造 Service。
func New(deps Dependencies, opts ...Option) (*Service, error) {
	if deps.Store == nil || deps.ACL == nil || deps.Algebra == nil || deps.Engine == nil ||
		deps.Inputs == nil || deps.Gate == nil || deps.Coordinator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本依赖不完整")
	}
	if deps.Identity == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置账本身份")
	}
	s := &Service{
		store:    deps.Store,
		acl:      deps.ACL,
		algebra:  deps.Algebra,
		engine:   deps.Engine,
		inputs:   deps.Inputs,
		gate:     deps.Gate,
		coord:    deps.Coordinator,
		events:   deps.Events,
		identity: deps.Identity,
		now:      time.Now,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// ServiceIdentity 返回账本身份。
func (s *Service) ServiceIdentity() common.Address {
	return s.identity
}

// Table 返回评分使用的权重表。
func (s *Service) Table() scoring.Table {
	return s.engine.Table()
}

// CreateRecord 校验费用与输入、计算加密得分、授予能力并持久化记录。
// 任何一步失败都不会分配 ID，也不会改变余额。
func (s *Service) CreateRecord(ctx context.Context, sub Submission) (id uint64, err error) {
	defer func() { observe("create_record", err) }()

	if sub.Owner == (common.Address{}) {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "缺少记录所有者")
	}
	if err := s.gate.CheckPayment(sub.Payment); err != nil {
		return 0, err
	}
	table := s.engine.Table()
	if len(sub.Inputs) != len(table.Weights) {
		return 0, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("需要 %d 个输入，实际 %d 个", len(table.Weights), len(sub.Inputs)))
	}
	handles := make([]fhe.Handle, len(sub.Inputs))
	for i, in := range sub.Inputs {
		if in == nil || in.Type() != fhe.TypeBool {
			return 0, xerrors.New(fhe.CodeTypeMismatch, fmt.Sprintf("输入 %s 必须为 ebool", table.Weights[i].Name))
		}
		if v, ok := s.algebra.(fhe.Verifier); ok {
			if err := v.Validate(in); err != nil {
				return 0, err
			}
		}
		handles[i] = in.Handle()
	}
	if err := s.inputs.Verify(sub.Owner, handles, sub.Proof); err != nil {
		return 0, err
	}

	score, err := s.engine.Score(sub.Inputs)
	if err != nil {
		return 0, err
	}
	rec := &record.Record{
		Owner:       sub.Owner,
		Score:       score,
		SubmittedAt: s.now().Unix(),
		Payment:     new(big.Int).Set(sub.Payment),
	}
	for i, in := range sub.Inputs {
		rec.Inputs = append(rec.Inputs, record.Input{Name: table.Weights[i].Name, Ciphertext: in})
	}
	// 能力先于记录写入，失败时遗留的授权指向无人引用的句柄。
	if err := acl.GrantAll(ctx, s.acl, rec.Handles(), sub.Owner, s.identity); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "授予能力失败")
	}
	id, err = s.store.Create(ctx, rec)
	if err != nil {
		return 0, err
	}

	metrics.RecordCreated()
	logger.Audit().Info("记录已创建",
		slog.Uint64("record_id", id),
		slog.String("owner", sub.Owner.Hex()),
		slog.String("payment", sub.Payment.String()),
		slog.String("score_handle", score.Handle().Hex()))
	s.publish(ctx, events.Event{
		Type:       events.TypeRecordCreated,
		RecordID:   id,
		Owner:      sub.Owner,
		OccurredAt: rec.SubmittedAt,
	})
	return id, nil
}

// GetRecordMetadata 返回记录的公开视图。
func (s *Service) GetRecordMetadata(ctx context.Context, id uint64) (record.Metadata, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return record.Metadata{}, err
	}
	return rec.Metadata(), nil
}

// ListRecords 按创建顺序返回所有者的记录 ID，无记录时返回空切片。
func (s *Service) ListRecords(ctx context.Context, owner common.Address) ([]uint64, error) {
	ids, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// RequestDecrypt 为记录的得分发起解密请求。
func (s *Service) RequestDecrypt(ctx context.Context, id uint64, caller common.Address) (requestID string, err error) {
	defer func() { observe("request_decrypt", err) }()
	return s.coord.Request(ctx, id, caller)
}

// RetrieveDecrypt 返回已回填的明文得分。
func (s *Service) RetrieveDecrypt(ctx context.Context, id uint64, caller common.Address) (value uint64, err error) {
	defer func() { observe("retrieve_decrypt", err) }()
	return s.coord.Retrieve(ctx, id, caller)
}

// Fulfill 接收预言机回填的结果。
func (s *Service) Fulfill(ctx context.Context, f decryption.Fulfillment) (err error) {
	defer func() { observe("fulfill", err) }()
	return s.coord.Fulfill(ctx, f)
}

// Redrive 重投尚未回填的解密任务。
func (s *Service) Redrive(ctx context.Context, limit int) (int, error) {
	return s.coord.Redrive(ctx, limit)
}

// Withdraw 将余额提取给提取者。
func (s *Service) Withdraw(ctx context.Context, caller common.Address) (amount *big.Int, err error) {
	defer func() { observe("withdraw", err) }()
	return s.gate.Withdraw(ctx, caller)
}

// GetBalance 返回当前余额。
func (s *Service) GetBalance(ctx context.Context) (*big.Int, error) {
	return s.gate.Balance(ctx)
}

// Count 返回记录总数。
func (s *Service) Count(ctx context.Context) (uint64, error) {
	return s.store.Count(ctx)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		logger.L().Warn("发布账本通知失败",
			slog.Any("error", err),
			slog.String("type", string(event.Type)),
			slog.Uint64("record_id", event.RecordID))
	}
}

func observe(operation string, err error) {
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	metrics.ObserveOperation(operation, code)
}
