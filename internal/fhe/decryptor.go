package fhe

import (
	"context"
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"

	xerrors "ConfidentialLedger/internal/errors"
)

// Decryptor 持有门限数量的私钥分片，只在预言机进程中使用。
type Decryptor struct {
	pk        *tcpaillier.PubKey
	shares    []*tcpaillier.KeyShare
	threshold int
	algebra   *PaillierAlgebra
}

// NewDecryptor 基于完整的密钥集合构造解密器。
func NewDecryptor(keys *KeySet) (*Decryptor, error) {
	if err := keys.Validate(true); err != nil {
		return nil, err
	}
	algebra, err := NewPaillierAlgebra(keys.Public)
	if err != nil {
		return nil, err
	}
	return &Decryptor{
		pk:        keys.Public,
		shares:    keys.Shares,
		threshold: keys.Threshold,
		algebra:   algebra,
	}, nil
}

// Threshold 返回组合所需的分片数量。
func (d *Decryptor) Threshold() int {
	return d.threshold
}

// Decrypt 收集门限数量的部分解密并组合，结果约减到密文类型的位宽。
func (d *Decryptor) Decrypt(ctx context.Context, c *Ciphertext) (uint64, error) {
	if err := d.algebra.Validate(c); err != nil {
		return 0, err
	}
	partials := make([]*tcpaillier.DecryptionShare, 0, d.threshold)
	for _, share := range d.shares[:d.threshold] {
		if err := ctx.Err(); err != nil {
			return 0, xerrors.Wrap(xerrors.CodeTimeout, err, "解密被取消")
		}
		partial, err := share.PartialDecrypt(c.value)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "部分解密失败")
		}
		partials = append(partials, partial)
	}
	plain, err := d.pk.CombineShares(partials...)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "组合解密分片失败")
	}
	return reduce(plain, c.typ)
}

func reduce(plain *big.Int, t Type) (uint64, error) {
	bits := t.Bits()
	if bits == 0 {
		return 0, xerrors.New(CodeTypeMismatch, fmt.Sprintf("未知的密文类型 %d", uint8(t)))
	}
	mask := new(big.Int).Lsh(big.NewInt(1), bits)
	return new(big.Int).Mod(plain, mask).Uint64(), nil
}
