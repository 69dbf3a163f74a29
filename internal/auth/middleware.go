package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "ConfidentialLedger/internal/errors"
	loggerpkg "ConfidentialLedger/pkg/logger"
)

// DefaultMaxSkew 是请求时间戳与服务器时间允许的最大偏差。
const DefaultMaxSkew = 5 * time.Minute

// MaxBodyBytes 限制被签名请求体的大小。
const MaxBodyBytes = 4 << 20

// Authenticator 校验请求签名。
type Authenticator struct {
	maxSkew time.Duration
	replay  ReplayGuard
	now     func() time.Time
	audit   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Authenticator)

// WithMaxSkew 设置时间窗口。
func WithMaxSkew(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.maxSkew = d
		}
	}
}

// WithReplayGuard 启用防重放。
func WithReplayGuard(g ReplayGuard) Option {
	return func(a *Authenticator) {
		a.replay = g
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator 构造签名校验器。
func NewAuthenticator(opts ...Option) *Authenticator {
	a := &Authenticator{maxSkew: DefaultMaxSkew, now: time.Now, audit: loggerpkg.Audit()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Authenticate 校验请求并返回调用者地址。请求体会被读取后复原。
func (a *Authenticator) Authenticate(r *http.Request) (addr common.Address, err error) {
	rawSig := r.Header.Get(HeaderSignature)
	rawTS := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	if rawSig == "" || rawTS == "" || nonce == "" {
		return addr, ErrSignatureMissing
	}
	if len(nonce) > MaxNonceLength {
		return addr, xerrors.New(CodeSignatureInvalid, "随机串过长")
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return addr, xerrors.Wrap(CodeSignatureInvalid, err, "时间戳格式错误")
	}
	skew := a.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return addr, ErrRequestExpired
	}
	sig, err := hexutil.Decode(rawSig)
	if err != nil {
		return addr, xerrors.Wrap(CodeSignatureInvalid, err, "签名格式错误")
	}
	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return addr, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败")
		}
		if len(body) > MaxBodyBytes {
			return addr, xerrors.New(xerrors.CodeInvalidArgument, "请求体过大")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	identity, err := Recover(r.Method, r.URL.Path, nonce, ts, body, sig)
	if err != nil {
		return addr, err
	}
	if a.replay != nil {
		fresh, err := a.replay.Remember(r.Context(), identity.Hex()+"/"+nonce, 2*a.maxSkew)
		if err != nil {
			return addr, xerrors.Wrap(xerrors.CodeStorageFailure, err, "防重放表不可用")
		}
		if !fresh {
			return addr, ErrRequestReplayed
		}
	}
	return identity, nil
}

// Middleware 校验携带签名的请求并把身份写入上下文。未签名的请求原样放行，
// 由需要身份的处理器自行拒绝。
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderSignature) == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := a.Authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			if xerrors.KindOf(err) == xerrors.KindInternal {
				status = http.StatusInternalServerError
			}
			a.audit.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
				"error", err.Error(),
			)
			writeError(w, status, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": string(code), "message": message},
	})
}
