// Package economics enforces the submission fee and the withdrawer's right
// to drain the accumulated balance.
package economics

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/pkg/logger"
)

// CodeInsufficientPayment 表示提交附带的金额低于最低费用。
const CodeInsufficientPayment xerrors.Code = "INSUFFICIENT_PAYMENT"

// ErrInsufficientPayment 可用于 errors.Is 判断。
var ErrInsufficientPayment = xerrors.New(CodeInsufficientPayment, "insufficient payment")

func init() {
	xerrors.Register(CodeInsufficientPayment, xerrors.Attributes{
		Message:  "insufficient payment",
		Severity: xerrors.SeverityInfo,
		Kind:     xerrors.KindValidation,
	})
}

// Gate 校验费用并控制提取。
type Gate struct {
	store      record.Store
	minPayment *big.Int
	withdrawer common.Address
}

// NewGate 构造费用闸门。minPayment 为 nil 时视为 0。
func NewGate(store record.Store, minPayment *big.Int, withdrawer common.Address) (*Gate, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "费用闸门缺少存储")
	}
	if minPayment == nil {
		minPayment = new(big.Int)
	}
	if minPayment.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "最低费用不能为负")
	}
	if withdrawer == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置提取地址")
	}
	return &Gate{store: store, minPayment: new(big.Int).Set(minPayment), withdrawer: withdrawer}, nil
}

// MinPayment 返回最低费用。
func (g *Gate) MinPayment() *big.Int {
	return new(big.Int).Set(g.minPayment)
}

// Withdrawer 返回被授权的提取地址。
func (g *Gate) Withdrawer() common.Address {
	return g.withdrawer
}

// CheckPayment 拒绝为空、为负或低于最低费用的金额。
func (g *Gate) CheckPayment(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 || amount.Cmp(g.minPayment) < 0 {
		got := "<nil>"
		if amount != nil {
			got = amount.String()
		}
		return xerrors.New(CodeInsufficientPayment, "提交费用不足",
			xerrors.WithMetadata("required", g.minPayment.String()),
			xerrors.WithMetadata("got", got))
	}
	return nil
}

// Withdraw 将余额全部转给提取者。余额为零时不产生任何变更。
func (g *Gate) Withdraw(ctx context.Context, caller common.Address) (*big.Int, error) {
	if caller != g.withdrawer {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "仅提取者可以提取余额",
			xerrors.WithMetadata("caller", caller.Hex()))
	}
	amount, err := g.store.DrainBalance(ctx)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		logger.Audit().Info("余额已提取",
			slog.String("withdrawer", caller.Hex()),
			slog.String("amount", amount.String()))
	}
	return amount, nil
}

// Balance 返回当前余额。
func (g *Gate) Balance(ctx context.Context) (*big.Int, error) {
	return g.store.Balance(ctx)
}
