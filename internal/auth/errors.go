package auth

import xerrors "ConfidentialLedger/internal/errors"

const (
	CodeSignatureMissing xerrors.Code = "SIGNATURE_MISSING"
	CodeSignatureInvalid xerrors.Code = "SIGNATURE_INVALID"
	CodeRequestExpired   xerrors.Code = "REQUEST_EXPIRED"
	CodeRequestReplayed  xerrors.Code = "REQUEST_REPLAYED"
)

var (
	ErrSignatureMissing = xerrors.New(CodeSignatureMissing, "request signature missing")
	ErrSignatureInvalid = xerrors.New(CodeSignatureInvalid, "request signature invalid")
	ErrRequestExpired   = xerrors.New(CodeRequestExpired, "request timestamp outside allowed window")
	ErrRequestReplayed  = xerrors.New(CodeRequestReplayed, "request already seen")
)

func init() {
	for code, msg := range map[xerrors.Code]string{
		CodeSignatureMissing: "request signature missing",
		CodeSignatureInvalid: "request signature invalid",
		CodeRequestExpired:   "request timestamp outside allowed window",
		CodeRequestReplayed:  "request already seen",
	} {
		xerrors.Register(code, xerrors.Attributes{
			Message:  msg,
			Severity: xerrors.SeverityWarning,
			Kind:     xerrors.KindAuthorization,
		})
	}
}
