// Package record defines confidential records and the store that allocates
// their ids, maintains the per-owner index and accumulates the ledger
// balance in one atomic unit.
package record

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
)

// Input 是记录中一个具名的输入密文。
type Input struct {
	Name       string          `json:"name"`
	Ciphertext *fhe.Ciphertext `json:"ciphertext"`
}

// Record 描述一次提交。创建后仅 DecryptionRequested 与 RequestID 可变。
type Record struct {
	ID                  uint64          `json:"id"`
	Owner               common.Address  `json:"owner"`
	Inputs              []Input         `json:"inputs"`
	Score               *fhe.Ciphertext `json:"score"`
	SubmittedAt         int64           `json:"submitted_at"`
	DecryptionRequested bool            `json:"decryption_requested"`
	RequestID           string          `json:"request_id,omitempty"`
	Payment             *big.Int        `json:"payment"`
}

// NamedHandle 是对外暴露的输入句柄。
type NamedHandle struct {
	Name   string     `json:"name"`
	Type   fhe.Type   `json:"type"`
	Handle fhe.Handle `json:"handle"`
}

// Metadata 是记录的公开视图，密文只以句柄出现。
type Metadata struct {
	ID                  uint64         `json:"id"`
	Owner               common.Address `json:"owner"`
	SubmittedAt         int64          `json:"submitted_at"`
	DecryptionRequested bool           `json:"decryption_requested"`
	Inputs              []NamedHandle  `json:"inputs"`
	ScoreHandle         fhe.Handle     `json:"score_handle"`
	ScoreType           fhe.Type       `json:"score_type"`
}

// Metadata 生成公开视图。
func (r *Record) Metadata() Metadata {
	inputs := make([]NamedHandle, len(r.Inputs))
	for i, in := range r.Inputs {
		inputs[i] = NamedHandle{Name: in.Name, Type: in.Ciphertext.Type(), Handle: in.Ciphertext.Handle()}
	}
	meta := Metadata{
		ID:                  r.ID,
		Owner:               r.Owner,
		SubmittedAt:         r.SubmittedAt,
		DecryptionRequested: r.DecryptionRequested,
		Inputs:              inputs,
	}
	if r.Score != nil {
		meta.ScoreHandle = r.Score.Handle()
		meta.ScoreType = r.Score.Type()
	}
	return meta
}

// Handles 返回记录涉及的全部密文句柄，得分句柄位于末尾。
func (r *Record) Handles() []fhe.Handle {
	handles := make([]fhe.Handle, 0, len(r.Inputs)+1)
	for _, in := range r.Inputs {
		handles = append(handles, in.Ciphertext.Handle())
	}
	if r.Score != nil {
		handles = append(handles, r.Score.Handle())
	}
	return handles
}

// Clone 返回深拷贝。密文本身不可变，可共享。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Inputs = append([]Input(nil), r.Inputs...)
	if r.Payment != nil {
		clone.Payment = new(big.Int).Set(r.Payment)
	}
	return &clone
}

// Result 是预言机回填的解密结果。
type Result struct {
	RecordID    uint64 `json:"record_id"`
	RequestID   string `json:"request_id"`
	Plaintext   uint64 `json:"plaintext"`
	FulfilledAt int64  `json:"fulfilled_at"`
}

// Store 抽象记录、所有者索引与账本余额的持久化。
type Store interface {
	// Create 分配下一个 ID，并在同一原子单元内写入记录、追加索引、累加余额。
	Create(ctx context.Context, rec *Record) (uint64, error)
	Get(ctx context.Context, id uint64) (*Record, error)
	ListByOwner(ctx context.Context, owner common.Address) ([]uint64, error)
	// MarkRequested 以比较并交换方式置位解密请求标志。
	MarkRequested(ctx context.Context, id uint64, requestID string) error
	SaveResult(ctx context.Context, result Result) error
	Result(ctx context.Context, id uint64) (*Result, error)
	PendingRequests(ctx context.Context, limit int) ([]*Record, error)
	Balance(ctx context.Context) (*big.Int, error)
	// DrainBalance 原子地将余额清零并返回清零前的值。
	DrainBalance(ctx context.Context) (*big.Int, error)
	Count(ctx context.Context) (uint64, error)
	Close() error
}

// Validate 检查写入前的记录是否完整。
func Validate(rec *Record) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	if rec.Owner == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录缺少所有者")
	}
	if len(rec.Inputs) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录缺少输入密文")
	}
	for _, in := range rec.Inputs {
		if in.Name == "" || in.Ciphertext == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "记录输入不完整")
		}
	}
	if rec.Score == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录缺少得分密文")
	}
	if rec.Payment == nil || rec.Payment.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录支付金额非法")
	}
	return nil
}
