package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"ConfidentialLedger/internal/acl"
	"ConfidentialLedger/internal/auth"
	"ConfidentialLedger/internal/decryption"
	"ConfidentialLedger/internal/economics"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/fhe/fhetest"
	"ConfidentialLedger/internal/ledger"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/internal/scoring"
)

type testEnv struct {
	server   *Server
	queue    *decryption.MemoryQueue
	owner    *ecdsa.PrivateKey
	treasury *ecdsa.PrivateKey
	verifier *ecdsa.PrivateKey
	oracle   *ecdsa.PrivateKey
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		queue:    decryption.NewMemoryQueue(16),
		owner:    mustKey(t),
		treasury: mustKey(t),
		verifier: mustKey(t),
		oracle:   mustKey(t),
	}
	store := record.NewMemoryStore()
	manager := acl.NewMemoryManager()
	engine, err := scoring.NewEngine(fhetest.Algebra{}, scoring.DefaultTable())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	gate, err := economics.NewGate(store, big.NewInt(10), proofs.Address(env.treasury))
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	coord, err := decryption.NewCoordinator(store, manager, env.queue, proofs.Address(env.oracle))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	svc, err := ledger.New(ledger.Dependencies{
		Store:       store,
		ACL:         manager,
		Algebra:     fhetest.Algebra{},
		Engine:      engine,
		Inputs:      proofs.NewInputVerifier(proofs.Address(env.verifier)),
		Gate:        gate,
		Coordinator: coord,
		Identity:    common.HexToAddress("0xff"),
	})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	authenticator := auth.NewAuthenticator(auth.WithReplayGuard(auth.NewMemoryReplayGuard()))
	env.server = NewServer(":0", svc, authenticator, KeyInfo{
		Oracle:     proofs.Address(env.oracle),
		MinPayment: "10",
		Scoring:    scoring.DefaultTable(),
		ScoreType:  fhe.TypeUint8,
	})
	return env
}

func (e *testEnv) do(t *testing.T, key *ecdsa.PrivateKey, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if key != nil {
		if err := auth.SignRequest(req, key, body, time.Now()); err != nil {
			t.Fatalf("sign: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createBody(t *testing.T, payment string, bits ...bool) CreateRecordRequest {
	t.Helper()
	owner := proofs.Address(e.owner)
	req := CreateRecordRequest{Payment: payment}
	handles := make([]fhe.Handle, len(bits))
	for i, b := range bits {
		c := fhetest.Bool(b, uint64(time.Now().UnixNano())+uint64(i))
		req.Inputs = append(req.Inputs, c)
		handles[i] = c.Handle()
	}
	proof, err := crypto.Sign(proofs.InputDigest(owner, handles), e.verifier)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	req.Proof = proof
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, env.owner, http.MethodPost, "/api/v1/records", env.createBody(t, "10", true, true, false))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rec.Code, rec.Body.String())
	}
	created := decode[CreateRecordResponse](t, rec)
	if created.ID != 1 {
		t.Fatalf("expected id 1, got %d", created.ID)
	}

	rec = env.do(t, nil, http.MethodGet, "/api/v1/records/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got %d", rec.Code)
	}
	meta := decode[record.Metadata](t, rec)
	if meta.Owner != proofs.Address(env.owner) || len(meta.Inputs) != 3 || meta.DecryptionRequested {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	rec = env.do(t, nil, http.MethodGet, "/api/v1/records?owner="+proofs.Address(env.owner).Hex(), nil)
	list := decode[ListRecordsResponse](t, rec)
	if len(list.IDs) != 1 || list.IDs[0] != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = env.do(t, env.owner, http.MethodGet, "/api/v1/records/1/decryption", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("retrieve before request: got %d", rec.Code)
	}

	rec = env.do(t, env.owner, http.MethodPost, "/api/v1/records/1/decryption", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("request: got %d body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, env.owner, http.MethodPost, "/api/v1/records/1/decryption", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second request: got %d", rec.Code)
	}

	rec = env.do(t, env.owner, http.MethodGet, "/api/v1/records/1/decryption", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pending retrieve: got %d", rec.Code)
	}
	pending := decode[ErrorBody](t, rec)
	if pending.Error.Code != string(decryption.CodeNotFulfilled) || !pending.Error.Retryable {
		t.Fatalf("unexpected pending body: %+v", pending)
	}
	// 同一秒内的重复轮询不应被防重放拒绝。
	rec = env.do(t, env.owner, http.MethodGet, "/api/v1/records/1/decryption", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("second poll: got %d body %s", rec.Code, rec.Body.String())
	}

	job := <-queueChan(env.queue)
	sig, err := proofs.SignFulfillment(env.oracle, job.RecordID, job.RequestID, job.Handle, 85)
	if err != nil {
		t.Fatalf("sign fulfillment: %v", err)
	}
	rec = env.do(t, nil, http.MethodPost, "/api/v1/oracle/fulfillments", decryption.Fulfillment{
		RecordID: job.RecordID, RequestID: job.RequestID, Handle: job.Handle, Plaintext: 85, Signature: sig,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("fulfill: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, env.owner, http.MethodGet, "/api/v1/records/1/decryption", nil)
	result := decode[DecryptionResultResponse](t, rec)
	if rec.Code != http.StatusOK || result.Value != 85 {
		t.Fatalf("retrieve: got %d %+v", rec.Code, result)
	}
	rec = env.do(t, env.owner, http.MethodGet, "/api/v1/records/1/decryption", nil)
	if again := decode[DecryptionResultResponse](t, rec); rec.Code != http.StatusOK || again.Value != 85 {
		t.Fatalf("repeat retrieve: got %d %+v", rec.Code, again)
	}

	rec = env.do(t, env.owner, http.MethodPost, "/api/v1/treasury/withdraw", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("owner withdraw: got %d", rec.Code)
	}
	rec = env.do(t, env.treasury, http.MethodPost, "/api/v1/treasury/withdraw", nil)
	if amount := decode[AmountResponse](t, rec); amount.Amount != "10" {
		t.Fatalf("withdraw: got %+v", amount)
	}
	rec = env.do(t, nil, http.MethodGet, "/api/v1/treasury/balance", nil)
	if amount := decode[AmountResponse](t, rec); amount.Amount != "0" {
		t.Fatalf("balance: got %+v", amount)
	}
}

// queueChan 把内存队列的下一条任务转成 channel。
func queueChan(q *decryption.MemoryQueue) <-chan decryption.Job {
	out := make(chan decryption.Job, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, job decryption.Job) error {
			select {
			case out <- job:
			default:
			}
			cancel()
			return nil
		})
	}()
	return out
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, nil, http.MethodPost, "/api/v1/records", env.createBody(t, "10", true, true, true))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned create: got %d", rec.Code)
	}
	rec = env.do(t, env.owner, http.MethodPost, "/api/v1/records", env.createBody(t, "9", true, true, true))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), string(economics.CodeInsufficientPayment)) {
		t.Fatalf("cheap create: got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, env.treasury, http.MethodPost, "/api/v1/records", env.createBody(t, "10", true, true, true))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), string(proofs.CodeInvalidProof)) {
		t.Fatalf("foreign proof: got %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, nil, http.MethodGet, "/api/v1/records/7", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing record: got %d", rec.Code)
	}
	rec = env.do(t, nil, http.MethodGet, "/api/v1/records/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: got %d", rec.Code)
	}
	rec = env.do(t, nil, http.MethodGet, "/api/v1/records?owner=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad owner: got %d", rec.Code)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatal("missing request id header")
	}
}

func TestKeysAndHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, nil, http.MethodGet, "/api/v1/keys", nil)
	info := decode[KeyInfo](t, rec)
	if info.Oracle != proofs.Address(env.oracle) || len(info.Scoring.Weights) != 3 || info.ScoreType != fhe.TypeUint8 {
		t.Fatalf("unexpected key info: %+v", info)
	}
	rec = env.do(t, nil, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}
	rec = env.do(t, nil, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ledger_http_requests_total") {
		t.Fatalf("metrics: got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		record.ErrRecordNotFound:         http.StatusNotFound,
		record.ErrAlreadyRequested:       http.StatusConflict,
		decryption.ErrNotFulfilled:       http.StatusAccepted,
		economics.ErrInsufficientPayment: http.StatusBadRequest,
		proofs.ErrInvalidProof:           http.StatusBadRequest,
		context.Canceled:                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Errorf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
