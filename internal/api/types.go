package api

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/scoring"
)

// CreateRecordRequest 是提交记录的请求体，所有者取自请求签名。
type CreateRecordRequest struct {
	Inputs  []*fhe.Ciphertext `json:"inputs"`
	Proof   hexutil.Bytes     `json:"proof"`
	Payment string            `json:"payment"`
}

// CreateRecordResponse 返回新记录 ID。
type CreateRecordResponse struct {
	ID uint64 `json:"id"`
}

// ListRecordsResponse 返回所有者的记录 ID 列表。
type ListRecordsResponse struct {
	Owner common.Address `json:"owner"`
	IDs   []uint64       `json:"ids"`
}

// DecryptionRequestResponse 返回请求 ID。
type DecryptionRequestResponse struct {
	RecordID  uint64 `json:"record_id"`
	RequestID string `json:"request_id"`
}

// DecryptionResultResponse 返回明文得分。
type DecryptionResultResponse struct {
	RecordID uint64 `json:"record_id"`
	Value    uint64 `json:"value"`
}

// AmountResponse 以十进制字符串返回金额。
type AmountResponse struct {
	Amount string `json:"amount"`
}

// KeyInfo 是客户端加密与校验所需的公开参数。
type KeyInfo struct {
	PublicKey      json.RawMessage  `json:"public_key"`
	InputVerifiers []common.Address `json:"input_verifiers"`
	Oracle         common.Address   `json:"oracle"`
	Identity       common.Address   `json:"identity"`
	Withdrawer     common.Address   `json:"withdrawer"`
	MinPayment     string           `json:"min_payment"`
	Scoring        scoring.Table    `json:"scoring"`
	ScoreType      fhe.Type         `json:"score_type"`
}

// ErrorBody 是错误响应的统一格式。
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 描述错误码与信息。
type ErrorDetail struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
