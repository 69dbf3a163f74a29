package proofs

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
)

const inputDomain = "confidential-ledger/input-attestation/v1"

// InputDigest 计算输入证明的签名摘要，绑定提交者与密文句柄顺序。
func InputDigest(owner common.Address, handles []fhe.Handle) []byte {
	parts := make([][]byte, 0, len(handles)+2)
	parts = append(parts, []byte(inputDomain), owner.Bytes())
	for _, h := range handles {
		hh := h
		parts = append(parts, hh[:])
	}
	return crypto.Keccak256(parts...)
}

// InputAttester 代表可信的输入校验方：确认明文知识证明、ebool 标签以及明文取值为 0 或 1 后签发证明。
type InputAttester struct {
	key *ecdsa.PrivateKey
}

// NewInputAttester 创建输入校验方。
func NewInputAttester(key *ecdsa.PrivateKey) *InputAttester {
	return &InputAttester{key: key}
}

// Address 返回校验方地址，账本需在配置中信任该地址。
func (a *InputAttester) Address() common.Address {
	return Address(a.key)
}

// Attest 校验每个加密输入后对 owner 与句柄序列签名。
func (a *InputAttester) Attest(owner common.Address, inputs []*fhe.EncryptedInput) ([]byte, error) {
	if len(inputs) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少加密输入")
	}
	handles := make([]fhe.Handle, 0, len(inputs))
	for i, in := range inputs {
		if in == nil || in.Ciphertext == nil {
			return nil, xerrors.New(CodeInvalidProof, fmt.Sprintf("第 %d 个输入为空", i))
		}
		if in.Ciphertext.Type() != fhe.TypeBool {
			return nil, xerrors.New(CodeInvalidProof, fmt.Sprintf("第 %d 个输入不是 ebool", i))
		}
		if err := in.VerifyKnowledge(); err != nil {
			return nil, xerrors.Wrap(CodeInvalidProof, err, fmt.Sprintf("第 %d 个输入证明无效", i))
		}
		if err := in.VerifyOpening(); err != nil {
			return nil, xerrors.Wrap(CodeInvalidProof, err, fmt.Sprintf("第 %d 个输入不是 0 或 1", i))
		}
		handles = append(handles, in.Ciphertext.Handle())
	}
	return sign(InputDigest(owner, handles), a.key)
}

// InputVerifier 在账本侧校验输入证明。
type InputVerifier struct {
	trusted map[common.Address]struct{}
}

// NewInputVerifier 使用受信任的校验方地址集合创建验证器。
func NewInputVerifier(trusted ...common.Address) *InputVerifier {
	set := make(map[common.Address]struct{}, len(trusted))
	for _, addr := range trusted {
		set[addr] = struct{}{}
	}
	return &InputVerifier{trusted: set}
}

// Verify 检查签名由受信任的校验方针对 owner 与 handles 签发。
func (v *InputVerifier) Verify(owner common.Address, handles []fhe.Handle, proof []byte) error {
	if len(proof) == 0 {
		return xerrors.New(CodeInvalidProof, "缺少输入证明")
	}
	signer, err := recoverSigner(InputDigest(owner, handles), proof)
	if err != nil {
		return err
	}
	if _, ok := v.trusted[signer]; !ok {
		return xerrors.New(CodeInvalidProof, "输入证明签名方不受信任", xerrors.WithMetadata("signer", signer.Hex()))
	}
	return nil
}
