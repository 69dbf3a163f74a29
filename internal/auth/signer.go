package auth

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	xerrors "ConfidentialLedger/internal/errors"
)

const (
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
	// HeaderNonce 携带客户端生成的一次性随机串，同一秒内的重复调用依靠它区分。
	HeaderNonce = "X-Ledger-Nonce"
)

// MaxNonceLength 限制随机串长度。
const MaxNonceLength = 128

// Message 构造被签名的规范文本。
func Message(method, path, nonce string, timestamp int64, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(crypto.Keccak256(body)))
	return []byte(b.String())
}

// Sign 以 EIP-191 personal_sign 方式对请求签名。
func Sign(key *ecdsa.PrivateKey, method, path, nonce string, timestamp int64, body []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(Message(method, path, nonce, timestamp, body)), key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCryptoFailure, err, "请求签名失败")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover 恢复请求签名者地址。
func Recover(method, path, nonce string, timestamp int64, body, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrSignatureInvalid
	}
	normalized := bytes.Clone(sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(Message(method, path, nonce, timestamp, body)), normalized)
	if err != nil {
		return common.Address{}, xerrors.Wrap(CodeSignatureInvalid, err, "无法恢复签名者")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignRequest 为已构造的请求附加随机串、时间戳与签名头，body 必须与请求体一致。
func SignRequest(req *http.Request, key *ecdsa.PrivateKey, body []byte, now time.Time) error {
	ts := now.Unix()
	nonce := uuid.NewString()
	sig, err := Sign(key, req.Method, req.URL.Path, nonce, ts, body)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}
