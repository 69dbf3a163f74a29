package proofs

import xerrors "ConfidentialLedger/internal/errors"

// CodeInvalidProof 表示密文证明或签名校验失败。
const CodeInvalidProof xerrors.Code = "INVALID_PROOF"

// ErrInvalidProof 可用于 errors.Is 判断。
var ErrInvalidProof = xerrors.New(CodeInvalidProof, "invalid proof")

func init() {
	xerrors.Register(CodeInvalidProof, xerrors.Attributes{
		Message:  "invalid proof",
		Severity: xerrors.SeverityWarning,
		Kind:     xerrors.KindValidation,
	})
}
