package fhe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/niclabs/tcpaillier"

	xerrors "ConfidentialLedger/internal/errors"
)

// KeySet 组合公钥与预言机持有的私钥分片。
type KeySet struct {
	Public    *tcpaillier.PubKey     `json:"public"`
	Shares    []*tcpaillier.KeyShare `json:"shares,omitempty"`
	Threshold int                    `json:"threshold"`
	Parties   int                    `json:"parties"`
}

// GenerateKeySet 由可信分发者生成 parties 个分片，任意 threshold 个即可解密。
func GenerateKeySet(bits, threshold, parties int) (*KeySet, error) {
	if bits < 256 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("密钥长度过短: %d", bits))
	}
	if parties < 2 || parties > 255 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("分片数量必须位于 2..255: %d", parties))
	}
	// tcpaillier 要求门限超过分片数的一半。
	if minimum := parties/2 + 1; threshold < minimum || threshold > parties {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("门限 %d 必须位于 %d..%d", threshold, minimum, parties))
	}
	shares, pk, err := tcpaillier.NewKey(bits, 1, uint8(parties), uint8(threshold))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "生成门限密钥失败")
	}
	return &KeySet{Public: pk, Shares: shares, Threshold: threshold, Parties: parties}, nil
}

// PublicOnly 返回不含私钥分片的副本，用于分发给客户端与账本。
func (k *KeySet) PublicOnly() *KeySet {
	return &KeySet{Public: k.Public, Threshold: k.Threshold, Parties: k.Parties}
}

// Validate 检查密钥集合是否可用于解密。
func (k *KeySet) Validate(requireShares bool) error {
	if k == nil || k.Public == nil || k.Public.N == nil {
		return xerrors.New(xerrors.CodeConfiguration, "密钥集合缺少公钥")
	}
	if !requireShares {
		return nil
	}
	if k.Threshold <= 0 {
		return xerrors.New(xerrors.CodeConfiguration, "密钥集合缺少门限配置")
	}
	if len(k.Shares) < k.Threshold {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("私钥分片不足: 需要 %d，实际 %d", k.Threshold, len(k.Shares)))
	}
	return nil
}

// SaveKeySet 以 JSON 写入密钥文件，权限限定为当前用户。
func SaveKeySet(path string, keys *KeySet) error {
	if keys == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "密钥集合为空")
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCryptoFailure, err, "序列化密钥失败")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// LoadKeySet 读取 SaveKeySet 写出的密钥文件。
func LoadKeySet(path string) (*KeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("读取密钥文件 %s 失败", path))
	}
	var keys KeySet
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("解析密钥文件 %s 失败", path))
	}
	if err := keys.Validate(false); err != nil {
		return nil, err
	}
	return &keys, nil
}
