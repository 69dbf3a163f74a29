package decryption

import xerrors "ConfidentialLedger/internal/errors"

const (
	CodeNotRequested    xerrors.Code = "NOT_REQUESTED"
	CodeNotFulfilled    xerrors.Code = "NOT_FULFILLED"
	CodeRequestMismatch xerrors.Code = "REQUEST_MISMATCH"
	CodeJobPublish      xerrors.Code = "JOB_PUBLISH_FAILED"
)

var (
	// ErrNotRequested 表示记录尚未发起解密请求。
	ErrNotRequested = xerrors.New(CodeNotRequested, "decryption not requested")
	// ErrNotFulfilled 表示请求已发起但结果尚未回填，调用方稍后重试即可。
	ErrNotFulfilled = xerrors.New(CodeNotFulfilled, "decryption not fulfilled yet")
	// ErrRequestMismatch 表示回填结果与当前请求不符。
	ErrRequestMismatch = xerrors.New(CodeRequestMismatch, "fulfillment does not match request")
)

func init() {
	xerrors.Register(CodeNotRequested, xerrors.Attributes{
		Message:  "decryption not requested",
		Severity: xerrors.SeverityInfo,
		Kind:     xerrors.KindState,
	})
	xerrors.Register(CodeNotFulfilled, xerrors.Attributes{
		Message:   "decryption not fulfilled yet",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Kind:      xerrors.KindPending,
	})
	xerrors.Register(CodeRequestMismatch, xerrors.Attributes{
		Message:  "fulfillment does not match request",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
		Kind:     xerrors.KindState,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish decryption job",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
		Kind:      xerrors.KindInternal,
	})
}
