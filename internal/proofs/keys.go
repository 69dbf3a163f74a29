package proofs

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ConfidentialLedger/internal/errors"
)

// ParsePrivateKey 解析十六进制 secp256k1 私钥，允许 0x 前缀。
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "私钥格式错误")
	}
	return key, nil
}

// LoadPrivateKey 从文件读取十六进制私钥。
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("读取私钥文件 %s 失败", path))
	}
	return ParsePrivateKey(string(data))
}

// SavePrivateKey 以十六进制写出私钥。
func SavePrivateKey(path string, key *ecdsa.PrivateKey) error {
	return crypto.SaveECDSA(path, key)
}

// Address 返回私钥对应的地址。
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ParseAddress 严格解析十六进制地址。
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法地址: %q", raw))
	}
	return common.HexToAddress(raw), nil
}

func sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "签名私钥未配置")
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "签名失败")
	}
	return sig, nil
}

func recoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, xerrors.New(CodeInvalidProof, fmt.Sprintf("签名长度应为 %d 字节", crypto.SignatureLength))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, xerrors.Wrap(CodeInvalidProof, err, "无法从签名恢复公钥")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
