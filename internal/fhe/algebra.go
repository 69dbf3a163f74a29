package fhe

import (
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"

	xerrors "ConfidentialLedger/internal/errors"
)

// Algebra 是核心逻辑唯一可以使用的密文运算集合。
type Algebra interface {
	// Const 返回公开常量的确定性加密。
	Const(t Type, v uint64) (*Ciphertext, error)
	// Add 返回两个数值密文的同态和。
	Add(a, b *Ciphertext) (*Ciphertext, error)
	// Select 在 cond 为真时返回 a 的加密，否则返回 b 的加密。
	Select(cond, a, b *Ciphertext) (*Ciphertext, error)
}

// Verifier 校验外部提交的密文是否属于公钥的密文空间。
type Verifier interface {
	Validate(c *Ciphertext) error
}

// PaillierAlgebra 基于门限 Paillier 公钥实现 Algebra。
//
// Paillier 只支持加法同态与明文标量乘法，因此 Select 要求两个分支都是
// Const 产生的公开常量：结果按 b + cond·(a−b) 线性计算，不会暴露 cond。
type PaillierAlgebra struct {
	pk      *tcpaillier.PubKey
	modulus *big.Int
}

var (
	_ Algebra  = (*PaillierAlgebra)(nil)
	_ Verifier = (*PaillierAlgebra)(nil)
)

// NewPaillierAlgebra 使用公钥构造代数实现。
func NewPaillierAlgebra(pk *tcpaillier.PubKey) (*PaillierAlgebra, error) {
	if pk == nil || pk.N == nil || pk.N.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "Paillier 公钥未配置")
	}
	return &PaillierAlgebra{
		pk:      pk,
		modulus: new(big.Int).Mul(pk.N, pk.N),
	}, nil
}

// PublicKey 返回底层公钥。
func (a *PaillierAlgebra) PublicKey() *tcpaillier.PubKey {
	return a.pk
}

// Validate 检查密文取值落在 Z*_{N^2} 内。
func (a *PaillierAlgebra) Validate(c *Ciphertext) error {
	if c == nil {
		return xerrors.New(CodeMalformedCiphertext, "密文为空")
	}
	v := c.value
	if v.Sign() <= 0 || v.Cmp(a.modulus) >= 0 {
		return xerrors.New(CodeMalformedCiphertext, "密文超出密文空间", xerrors.WithMetadata("handle", c.handle.Hex()))
	}
	if new(big.Int).GCD(nil, nil, v, a.pk.N).Cmp(big.NewInt(1)) != 0 {
		return xerrors.New(CodeMalformedCiphertext, "密文与模数不互素", xerrors.WithMetadata("handle", c.handle.Hex()))
	}
	return nil
}

// Const 使用固定随机数 1 生成平凡密文，同一常量总是得到同一句柄。
func (a *PaillierAlgebra) Const(t Type, v uint64) (*Ciphertext, error) {
	if !t.Valid() {
		return nil, xerrors.New(CodeTypeMismatch, fmt.Sprintf("不支持的常量类型 %d", uint8(t)))
	}
	if v > t.Max() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("常量 %d 超出 %s 的取值范围", v, t))
	}
	m := new(big.Int).SetUint64(v)
	value, err := a.pk.EncryptFixed(m, big.NewInt(1))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "常量加密失败")
	}
	c, err := NewCiphertext(t, value)
	if err != nil {
		return nil, err
	}
	c.public = m
	return c, nil
}

// Add 计算同态加法，结果取两个操作数中较宽的类型。
func (a *PaillierAlgebra) Add(x, y *Ciphertext) (*Ciphertext, error) {
	if x == nil || y == nil {
		return nil, xerrors.New(CodeTypeMismatch, "加法操作数为空")
	}
	if !x.typ.Numeric() || !y.typ.Numeric() {
		return nil, xerrors.New(CodeTypeMismatch, fmt.Sprintf("加法要求数值操作数，得到 %s 与 %s", x.typ, y.typ))
	}
	sum, err := a.pk.Add(x.value, y.value)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "同态加法失败")
	}
	out, err := NewCiphertext(wider(x.typ, y.typ), sum)
	if err != nil {
		return nil, err
	}
	if x.public != nil && y.public != nil {
		out.public = new(big.Int).Add(x.public, y.public)
	}
	return out, nil
}

// Select 在不解密 cond 的情况下选择两个公开常量之一。
func (a *PaillierAlgebra) Select(cond, x, y *Ciphertext) (*Ciphertext, error) {
	if cond == nil || x == nil || y == nil {
		return nil, xerrors.New(CodeTypeMismatch, "选择操作数为空")
	}
	if cond.typ != TypeBool {
		return nil, xerrors.New(CodeTypeMismatch, fmt.Sprintf("选择条件必须为 ebool，得到 %s", cond.typ))
	}
	if x.typ != y.typ {
		return nil, xerrors.New(CodeTypeMismatch, fmt.Sprintf("选择分支类型不一致: %s 与 %s", x.typ, y.typ))
	}
	if x.public == nil || y.public == nil {
		return nil, xerrors.New(CodeUnsupportedOperand, "Paillier 代数仅支持公开常量分支的选择")
	}

	diff := new(big.Int).Sub(x.public, y.public)
	scaled, _, err := a.pk.Multiply(cond.value, diff)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "同态标量乘法失败")
	}
	base, err := a.Const(y.typ, y.public.Uint64())
	if err != nil {
		return nil, err
	}
	sum, err := a.pk.Add(base.value, scaled)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "同态加法失败")
	}
	return NewCiphertext(x.typ, sum)
}

func wider(a, b Type) Type {
	if a.Bits() >= b.Bits() {
		return a
	}
	return b
}
