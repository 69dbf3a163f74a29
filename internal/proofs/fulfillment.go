package proofs

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
)

const fulfillmentDomain = "confidential-ledger/oracle-fulfillment/v1"

// FulfillmentDigest 绑定记录、请求、密文句柄与明文结果。
func FulfillmentDigest(recordID uint64, requestID string, handle fhe.Handle, plaintext uint64) []byte {
	var id, value [8]byte
	binary.BigEndian.PutUint64(id[:], recordID)
	binary.BigEndian.PutUint64(value[:], plaintext)
	return crypto.Keccak256([]byte(fulfillmentDomain), id[:], []byte(requestID), handle[:], value[:])
}

// SignFulfillment 由预言机对解密结果签名。
func SignFulfillment(key *ecdsa.PrivateKey, recordID uint64, requestID string, handle fhe.Handle, plaintext uint64) ([]byte, error) {
	return sign(FulfillmentDigest(recordID, requestID, handle, plaintext), key)
}

// VerifyFulfillment 校验签名来自预期的预言机地址。
func VerifyFulfillment(oracle common.Address, recordID uint64, requestID string, handle fhe.Handle, plaintext uint64, sig []byte) error {
	signer, err := recoverSigner(FulfillmentDigest(recordID, requestID, handle, plaintext), sig)
	if err != nil {
		return err
	}
	if signer != oracle {
		return xerrors.New(CodeInvalidProof, "解密结果签名方不是预言机", xerrors.WithMetadata("signer", signer.Hex()))
	}
	return nil
}
