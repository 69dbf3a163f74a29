package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"ConfidentialLedger/internal/auth"
	"ConfidentialLedger/internal/decryption"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/ledger"
	"ConfidentialLedger/internal/observability/metrics"
	"ConfidentialLedger/pkg/logger"
)

// HeaderRequestID 携带请求追踪 ID。
const HeaderRequestID = "X-Request-ID"

// Server 负责暴露账本的 REST 接口。
type Server struct {
	addr    string
	ledger  *ledger.Service
	auth    *auth.Authenticator
	keys    KeyInfo
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *ledger.Service, authenticator *auth.Authenticator, keys KeyInfo) *Server {
	if authenticator == nil {
		authenticator = auth.NewAuthenticator()
	}
	s := &Server{addr: addr, ledger: svc, auth: authenticator, keys: keys}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的 HTTP 处理链。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "POST /api/v1/records", "create_record", s.handleCreateRecord)
	s.handle(mux, "GET /api/v1/records", "list_records", s.handleListRecords)
	s.handle(mux, "GET /api/v1/records/{id}", "get_record", s.handleGetRecord)
	s.handle(mux, "POST /api/v1/records/{id}/decryption", "request_decrypt", s.handleRequestDecrypt)
	s.handle(mux, "GET /api/v1/records/{id}/decryption", "retrieve_decrypt", s.handleRetrieveDecrypt)
	s.handle(mux, "POST /api/v1/treasury/withdraw", "withdraw", s.handleWithdraw)
	s.handle(mux, "GET /api/v1/treasury/balance", "balance", s.handleBalance)
	s.handle(mux, "POST /api/v1/oracle/fulfillments", "fulfill", s.handleFulfill)
	s.handle(mux, "GET /api/v1/keys", "keys", s.handleKeys)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return withRequestID(s.auth.Middleware(mux))
}

func (s *Server) handle(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	mux.Handle(pattern, instrument(name, fn))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req CreateRecordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	payment, ok := new(big.Int).SetString(req.Payment, 10)
	if !ok {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "payment 必须为十进制整数"))
		return
	}
	id, err := s.ledger.CreateRecord(r.Context(), ledger.Submission{
		Owner:   caller,
		Inputs:  req.Inputs,
		Proof:   req.Proof,
		Payment: payment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/records/"+strconv.FormatUint(id, 10))
	writeJSON(w, http.StatusCreated, CreateRecordResponse{ID: id})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("owner")
	if !common.IsHexAddress(raw) {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "owner 必须为十六进制地址"))
		return
	}
	owner := common.HexToAddress(raw)
	ids, err := s.ledger.ListRecords(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRecordsResponse{Owner: owner, IDs: ids})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	meta, err := s.ledger.GetRecordMetadata(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRequestDecrypt(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	requestID, err := s.ledger.RequestDecrypt(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, DecryptionRequestResponse{RecordID: id, RequestID: requestID})
}

func (s *Server) handleRetrieveDecrypt(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	value, err := s.ledger.RetrieveDecrypt(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DecryptionResultResponse{RecordID: id, Value: value})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	amount, err := s.ledger.Withdraw(r.Context(), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: amount.String()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.GetBalance(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: balance.String()})
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	var f decryption.Fulfillment
	if err := decodeBody(r, &f); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.Fulfill(r.Context(), f); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.keys)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeErrorStatus(w, r, http.StatusUnauthorized, auth.ErrSignatureMissing)
		return common.Address{}, false
	}
	return caller, true
}

func recordID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 非法"))
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, auth.MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// StatusFor 将错误大类映射为 HTTP 状态码。
func StatusFor(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.KindValidation:
		return http.StatusBadRequest
	case xerrors.KindAuthorization:
		return http.StatusForbidden
	case xerrors.KindState:
		return http.StatusConflict
	case xerrors.KindNotFound:
		return http.StatusNotFound
	case xerrors.KindPending:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, StatusFor(err), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	detail := ErrorDetail{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		detail.Message = e.Message()
		detail.Retryable = e.Retryable()
		detail.Metadata = e.Metadata()
	}
	if status >= http.StatusInternalServerError {
		// 内部错误不向调用方暴露细节。
		detail.Message = xerrors.AttributesOf(xerrors.CodeOf(err)).Message
		detail.Metadata = nil
		logger.L().Error("请求处理失败",
			slog.Any("error", err),
			slog.String("path", r.URL.Path),
			slog.String("request_id", w.Header().Get(HeaderRequestID)))
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
