// Package decryption coordinates the two-phase decryption protocol:
// an owner requests decryption of a record's score, a job is queued for the
// oracle, the oracle reports the plaintext through a signed fulfillment and
// the owner retrieves it. The coordinator never decrypts anything itself.
package decryption

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/record"
)

// Job 是投递给预言机的解密任务，自带密文以便预言机无需访问存储。
type Job struct {
	RecordID    uint64     `json:"record_id"`
	RequestID   string     `json:"request_id"`
	Handle      fhe.Handle `json:"handle"`
	Type        fhe.Type   `json:"type"`
	Ciphertext  []byte     `json:"ciphertext"`
	RequestedAt int64      `json:"requested_at"`
	// Attempts 记录预言机已经尝试回填的次数，由预言机在重投时递增。
	Attempts int `json:"attempts,omitempty"`
}

// NewJob 由已请求的记录构造任务。
func NewJob(rec *record.Record, requestID string, requestedAt int64) Job {
	return Job{
		RecordID:    rec.ID,
		RequestID:   requestID,
		Handle:      rec.Score.Handle(),
		Type:        rec.Score.Type(),
		Ciphertext:  rec.Score.Bytes(),
		RequestedAt: requestedAt,
	}
}

// Cipher 恢复任务中的密文并校验句柄。
func (j Job) Cipher() (*fhe.Ciphertext, error) {
	c, err := fhe.FromBytes(j.Type, j.Ciphertext)
	if err != nil {
		return nil, err
	}
	if c.Handle() != j.Handle {
		return nil, fmt.Errorf("任务 %s 的密文句柄不一致", j.RequestID)
	}
	return c, nil
}

// EncodeJob 序列化任务。
func EncodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob 反序列化任务。
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("解析解密任务失败: %w", err)
	}
	return job, nil
}

// Fulfillment 是预言机回填的解密结果，签名绑定全部字段。
type Fulfillment struct {
	RecordID  uint64        `json:"record_id"`
	RequestID string        `json:"request_id"`
	Handle    fhe.Handle    `json:"handle"`
	Plaintext uint64        `json:"plaintext"`
	Signature hexutil.Bytes `json:"signature"`
}
