package fhe

import xerrors "ConfidentialLedger/internal/errors"

const (
	// CodeUnsupportedOperand 表示代数无法在给定操作数上执行运算。
	CodeUnsupportedOperand xerrors.Code = "UNSUPPORTED_OPERAND"
	// CodeTypeMismatch 表示操作数类型不满足运算要求。
	CodeTypeMismatch xerrors.Code = "TYPE_MISMATCH"
	// CodeMalformedCiphertext 表示密文不在公钥定义的密文空间内。
	CodeMalformedCiphertext xerrors.Code = "MALFORMED_CIPHERTEXT"
)

// ErrUnsupportedOperand 可用于 errors.Is 判断。
var ErrUnsupportedOperand = xerrors.New(CodeUnsupportedOperand, "unsupported operand")

func init() {
	xerrors.Register(CodeUnsupportedOperand, xerrors.Attributes{
		Message:  "operation not supported for operand",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Kind:     xerrors.KindInternal,
	})
	xerrors.Register(CodeTypeMismatch, xerrors.Attributes{
		Message:  "ciphertext type mismatch",
		Severity: xerrors.SeverityInfo,
		Kind:     xerrors.KindValidation,
	})
	xerrors.Register(CodeMalformedCiphertext, xerrors.Attributes{
		Message:  "malformed ciphertext",
		Severity: xerrors.SeverityInfo,
		Kind:     xerrors.KindValidation,
	})
}
