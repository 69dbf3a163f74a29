package record

import xerrors "ConfidentialLedger/internal/errors"

const (
	CodeRecordNotFound   xerrors.Code = "RECORD_NOT_FOUND"
	CodeAlreadyRequested xerrors.Code = "ALREADY_REQUESTED"
	CodeResultConflict   xerrors.Code = "RESULT_CONFLICT"
	CodeResultNotFound   xerrors.Code = "RESULT_NOT_FOUND"
)

var (
	// ErrRecordNotFound 表示记录 ID 不存在。
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "record not found")
	// ErrAlreadyRequested 表示记录的解密请求标志已置位。
	ErrAlreadyRequested = xerrors.New(CodeAlreadyRequested, "decryption already requested")
	// ErrResultConflict 表示同一记录收到不同的解密结果。
	ErrResultConflict = xerrors.New(CodeResultConflict, "conflicting decryption result")
	// ErrResultNotFound 表示记录尚无解密结果。
	ErrResultNotFound = xerrors.New(CodeResultNotFound, "decryption result not found")
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:  "record not found",
		Severity: xerrors.SeverityInfo,
		Kind:     xerrors.KindNotFound,
	})
	xerrors.Register(CodeAlreadyRequested, xerrors.Attributes{
		Message:  "decryption already requested",
		Severity: xerrors.SeverityInfo,
		Kind:     xerrors.KindState,
	})
	xerrors.Register(CodeResultConflict, xerrors.Attributes{
		Message:  "conflicting decryption result",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Kind:     xerrors.KindState,
	})
	xerrors.Register(CodeResultNotFound, xerrors.Attributes{
		Message:  "decryption result not found",
		Severity: xerrors.SeverityInfo,
		Kind:     xerrors.KindNotFound,
	})
}
