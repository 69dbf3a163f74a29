package fhe

import (
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"

	xerrors "ConfidentialLedger/internal/errors"
)

// EncryptedInput 是客户端生成的密文，附带明文知识证明以及交给可信校验方的开启值。
type EncryptedInput struct {
	Ciphertext *Ciphertext

	pk    *tcpaillier.PubKey
	proof *tcpaillier.EncryptZK
	// plaintext 与 randomness 只在客户端与校验方之间传递，不会提交给账本。
	plaintext  *big.Int
	randomness *big.Int
}

// VerifyKnowledge 校验加密方知道密文对应的明文。
func (in *EncryptedInput) VerifyKnowledge() error {
	if in == nil || in.Ciphertext == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "加密输入为空")
	}
	if in.proof == nil || in.pk == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "加密输入缺少明文知识证明")
	}
	if err := in.proof.Verify(in.pk, in.Ciphertext.Value()); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "明文知识证明校验失败")
	}
	return nil
}

// VerifyOpening 用开启值重新加密，确认密文确实承载 [0, Type.Max()] 内的明文。
// 知识证明本身不约束明文范围，ebool 输入必须经过这一步才能保证取值为 0 或 1。
func (in *EncryptedInput) VerifyOpening() error {
	if in == nil || in.Ciphertext == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "加密输入为空")
	}
	if in.pk == nil || in.plaintext == nil || in.randomness == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "加密输入缺少开启值")
	}
	typ := in.Ciphertext.Type()
	limit := new(big.Int).SetUint64(typ.Max())
	if in.plaintext.Sign() < 0 || in.plaintext.Cmp(limit) > 0 {
		return xerrors.New(CodeMalformedCiphertext, fmt.Sprintf("明文超出 %s 的取值范围", typ))
	}
	expected, err := in.pk.EncryptFixed(in.plaintext, in.randomness)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCryptoFailure, err, "重新加密失败")
	}
	if expected.Cmp(in.Ciphertext.Value()) != 0 {
		return xerrors.New(CodeMalformedCiphertext, "开启值与密文不一致")
	}
	return nil
}

// Encryptor 在客户端侧使用公钥加密输入。
type Encryptor struct {
	pk *tcpaillier.PubKey
}

// NewEncryptor 创建加密器。
func NewEncryptor(pk *tcpaillier.PubKey) *Encryptor {
	return &Encryptor{pk: pk}
}

// EncryptBool 对布尔值进行随机化加密。
func (e *Encryptor) EncryptBool(v bool) (*EncryptedInput, error) {
	m := big.NewInt(0)
	if v {
		m = big.NewInt(1)
	}
	return e.Encrypt(TypeBool, m)
}

// EncryptUint8 对 8 位整数进行随机化加密。
func (e *Encryptor) EncryptUint8(v uint8) (*EncryptedInput, error) {
	return e.Encrypt(TypeUint8, big.NewInt(int64(v)))
}

// Encrypt 以类型 t 加密任意明文。这里不检查取值范围，范围由校验方通过 VerifyOpening 确认。
func (e *Encryptor) Encrypt(t Type, m *big.Int) (*EncryptedInput, error) {
	if e == nil || e.pk == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "加密器缺少公钥")
	}
	if m == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "明文为空")
	}
	r, err := e.pk.RandomModNToSPlusOneStar()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "生成加密随机数失败")
	}
	value, proof, err := e.pk.EncryptFixedWithProof(m, r)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "加密失败")
	}
	c, err := NewCiphertext(t, value)
	if err != nil {
		return nil, err
	}
	return &EncryptedInput{
		Ciphertext: c,
		pk:         e.pk,
		proof:      proof,
		plaintext:  new(big.Int).Set(m),
		randomness: r,
	}, nil
}
