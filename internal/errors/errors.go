// Package errors defines the ledger's unified error type: a registered code
// with default attributes (kind, severity, retryability, alerting) that
// callers branch on instead of matching messages.
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind 将错误码归入调用方可以据此分支的几大类。
type Kind string

const (
	KindInternal      Kind = "internal"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	// KindPending 表示稍后重试即可成功，例如解密结果尚未回填。
	KindPending Kind = "pending"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	Kind      Kind
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeConfiguration         Code = "CONFIGURATION_INVALID"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeCryptoFailure         Code = "CRYPTO_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// define 以紧凑形式描述一个错误码。
func define(kind Kind, sev Severity, retryable, alert bool, message string) Attributes {
	return Attributes{Message: message, Severity: sev, Retryable: retryable, Alert: alert, Kind: kind}
}

var (
	registryMu sync.RWMutex
	// registry 只收录跨包共享的基础错误码，业务码由各包在 init 中注册。
	registry = map[Code]Attributes{
		CodeUnknown:               define(KindInternal, SeverityCritical, false, true, "unknown error"),
		CodeInvalidArgument:       define(KindValidation, SeverityInfo, false, false, "invalid argument"),
		CodeUnauthorized:          define(KindAuthorization, SeverityWarning, false, false, "caller is not authorized"),
		CodeNotFound:              define(KindNotFound, SeverityInfo, false, false, "resource not found"),
		CodeConflict:              define(KindState, SeverityWarning, false, false, "resource conflict"),
		CodeConfiguration:         define(KindConfiguration, SeverityCritical, false, true, "invalid configuration"),
		CodeInitializationFailure: define(KindInternal, SeverityWarning, true, true, "service not initialized"),
		CodeStorageFailure:        define(KindInternal, SeverityCritical, true, true, "storage failure"),
		CodeQueueFailure:          define(KindInternal, SeverityCritical, true, true, "queue failure"),
		CodeCryptoFailure:         define(KindInternal, SeverityCritical, false, true, "encrypted value operation failed"),
		CodeTimeout:               define(KindInternal, SeverityWarning, true, true, "operation timed out"),
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	if attr.Kind == "" {
		attr.Kind = KindInternal
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	alert     *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithAlert 指定错误是否需要告警。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Attributes 返回叠加了实例级覆盖项后的属性。
func (e *Error) Attributes() Attributes {
	if e == nil {
		return Attributes{Severity: SeverityInfo, Kind: KindInternal}
	}
	attr := AttributesOf(e.code)
	attr.Message = e.message
	if e.retryable != nil {
		attr.Retryable = *e.retryable
	}
	if e.alert != nil {
		attr.Alert = *e.alert
	}
	if e.severity != nil {
		attr.Severity = *e.severity
	}
	return attr
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool { return e.Attributes().Retryable }

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool { return e.Attributes().Alert }

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity { return e.Attributes().Severity }

// Kind 返回错误所属的大类。
func (e *Error) Kind() Kind { return e.Attributes().Kind }

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// describe 返回任意 error 的属性，非统一错误视为 UNKNOWN。
func describe(err error) (Code, Attributes) {
	if e, ok := From(err); ok {
		return e.Code(), e.Attributes()
	}
	return CodeUnknown, AttributesOf(CodeUnknown)
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	code, _ := describe(err)
	return code
}

// KindOf 返回错误对应的大类，非统一错误一律视为内部错误。
func KindOf(err error) Kind {
	_, attr := describe(err)
	return attr.Kind
}

// IsKind 判断错误是否属于指定大类。
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryableError 判断任意 error 是否可重试。非统一错误不可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	_, attr := describe(err)
	return attr.Severity
}
