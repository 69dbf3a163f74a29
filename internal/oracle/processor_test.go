package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConfidentialLedger/internal/acl"
	"ConfidentialLedger/internal/decryption"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/fhe/fhetest"
	"ConfidentialLedger/internal/observability/alerting"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/internal/scoring"
)

type revealDecrypter struct{ err error }

func (d revealDecrypter) Decrypt(_ context.Context, c *fhe.Ciphertext) (uint64, error) {
	if d.err != nil {
		return 0, d.err
	}
	return fhetest.Reveal(c), nil
}

type stubFulfiller struct {
	err   error
	calls []decryption.Fulfillment
}

func (s *stubFulfiller) Fulfill(_ context.Context, f decryption.Fulfillment) error {
	s.calls = append(s.calls, f)
	return s.err
}

type recordingProducer struct{ jobs []decryption.Job }

func (r *recordingProducer) Publish(_ context.Context, job decryption.Job) error {
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

type recordingAlerts struct{ events []alerting.Event }

func (r *recordingAlerts) Notify(_ context.Context, e alerting.Event) error {
	r.events = append(r.events, e)
	return nil
}

var owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func submit(t *testing.T, store record.Store, manager acl.Manager, algebra fhe.Algebra, inputs []*fhe.Ciphertext) uint64 {
	t.Helper()
	engine, err := scoring.NewEngine(algebra, scoring.DefaultTable())
	require.NoError(t, err)
	score, err := engine.Score(inputs)
	require.NoError(t, err)
	names := engine.Table().Names()
	rec := &record.Record{Owner: owner, Score: score, Payment: big.NewInt(0)}
	for i, in := range inputs {
		rec.Inputs = append(rec.Inputs, record.Input{Name: names[i], Ciphertext: in})
	}
	require.NoError(t, acl.GrantAll(context.Background(), manager, rec.Handles(), owner))
	id, err := store.Create(context.Background(), rec)
	require.NoError(t, err)
	return id
}

func TestProcessorFulfillsThroughCoordinator(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	store := record.NewMemoryStore()
	manager := acl.NewMemoryManager()
	queue := decryption.NewMemoryQueue(4)
	coord, err := decryption.NewCoordinator(store, manager, queue, proofs.Address(key))
	require.NoError(t, err)

	id := submit(t, store, manager, fhetest.Algebra{}, []*fhe.Ciphertext{
		fhetest.Bool(true, 1), fhetest.Bool(false, 2), fhetest.Bool(true, 3),
	})
	_, err = coord.Request(ctx, id, owner)
	require.NoError(t, err)

	p, err := NewProcessor(revealDecrypter{}, key, coord, queue, WithWorkerCount(2))
	require.NoError(t, err)
	assert.Equal(t, coord.Oracle(), p.Address())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = p.Start(runCtx) }()

	require.Eventually(t, func() bool {
		v, err := coord.Retrieve(ctx, id, owner)
		return err == nil && v == 80
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessorRetriesTransientFulfillFailures(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := fhetest.Algebra{}.Const(fhe.TypeUint8, 65)
	require.NoError(t, err)
	job := decryption.Job{RecordID: 1, RequestID: "r", Handle: c.Handle(), Type: c.Type(), Ciphertext: c.Bytes()}

	alerts := &recordingAlerts{}
	transient := &stubFulfiller{err: errors.New("connection refused")}
	p, err := NewProcessor(revealDecrypter{}, key, transient, nil, WithAlertDispatcher(alerts))
	require.NoError(t, err)
	// 没有生产者时无法重投，任务留给 Redrive。
	assert.NoError(t, p.Handle(context.Background(), job))
	require.Len(t, transient.calls, 1)
	assert.Equal(t, "terminal", alerts.events[0].Stage)
	assert.Equal(t, uint64(65), transient.calls[0].Plaintext)
	require.NoError(t, proofs.VerifyFulfillment(proofs.Address(key), 1, "r", c.Handle(), 65, transient.calls[0].Signature))

	rejected := &stubFulfiller{err: decryption.ErrRequestMismatch}
	p, err = NewProcessor(revealDecrypter{}, key, rejected, nil, WithAlertDispatcher(alerts))
	require.NoError(t, err)
	assert.NoError(t, p.Handle(context.Background(), job))
	require.Len(t, alerts.events, 2)
	assert.Equal(t, decryption.CodeRequestMismatch, alerts.events[1].Code)
	assert.Equal(t, "r", alerts.events[1].RequestID)
}

func TestProcessorBacksOffAndGivesUp(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := fhetest.Algebra{}.Const(fhe.TypeUint8, 65)
	require.NoError(t, err)
	job := decryption.Job{RecordID: 1, RequestID: "r", Handle: c.Handle(), Type: c.Type(), Ciphertext: c.Bytes()}

	producer := &recordingProducer{}
	alerts := &recordingAlerts{}
	transient := &stubFulfiller{err: errors.New("connection refused")}
	p, err := NewProcessor(revealDecrypter{}, key, transient, nil,
		WithRetryProducer(producer),
		WithRetryPolicy(3, 100*time.Millisecond),
		WithAlertDispatcher(alerts))
	require.NoError(t, err)
	var waits []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	current := job
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Handle(ctx, current))
		if len(producer.jobs) > i {
			current = producer.jobs[i]
		}
	}
	assert.Len(t, transient.calls, 3)
	require.Len(t, producer.jobs, 2)
	assert.Equal(t, 1, producer.jobs[0].Attempts)
	assert.Equal(t, 2, producer.jobs[1].Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, waits)
	require.Len(t, alerts.events, 3)
	assert.Equal(t, "retry", alerts.events[0].Stage)
	assert.Equal(t, "terminal", alerts.events[2].Stage)

	assert.Equal(t, 30*time.Second, p.backoffFor(20))
}

func TestProcessorRetryStopsOnShutdown(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := fhetest.Algebra{}.Const(fhe.TypeUint8, 1)
	require.NoError(t, err)
	job := decryption.Job{RecordID: 1, RequestID: "r", Handle: c.Handle(), Type: c.Type(), Ciphertext: c.Bytes()}

	producer := &recordingProducer{}
	p, err := NewProcessor(revealDecrypter{}, key, &stubFulfiller{err: errors.New("timeout")}, nil,
		WithRetryProducer(producer), WithRetryPolicy(5, time.Hour))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Handle(ctx, job), context.Canceled)
	assert.Empty(t, producer.jobs)
}

func TestProcessorDropsBadJobs(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	alerts := &recordingAlerts{}
	f := &stubFulfiller{}

	p, err := NewProcessor(revealDecrypter{}, key, f, nil, WithAlertDispatcher(alerts))
	require.NoError(t, err)
	assert.NoError(t, p.Handle(context.Background(), decryption.Job{RecordID: 1, Type: fhe.TypeUint8}))
	assert.Equal(t, fhe.CodeMalformedCiphertext, alerts.events[0].Code)

	c, err := fhetest.Algebra{}.Const(fhe.TypeUint8, 1)
	require.NoError(t, err)
	p, err = NewProcessor(revealDecrypter{err: xerrors.New(xerrors.CodeCryptoFailure, "share")}, key, f, nil, WithAlertDispatcher(alerts))
	require.NoError(t, err)
	assert.NoError(t, p.Handle(context.Background(), decryption.Job{RecordID: 1, Handle: c.Handle(), Type: c.Type(), Ciphertext: c.Bytes()}))
	assert.Equal(t, xerrors.CodeCryptoFailure, alerts.events[1].Code)
	assert.Empty(t, f.calls)
}

func TestProcessorStartWithoutConsumer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p, err := NewProcessor(revealDecrypter{}, key, &stubFulfiller{}, nil)
	require.NoError(t, err)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(p.Start(context.Background())))

	_, err = NewProcessor(nil, key, &stubFulfiller{}, nil)
	assert.Error(t, err)
}

func TestThresholdDecryptionEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Paillier key generation is slow")
	}
	ctx := context.Background()
	keys, err := fhe.GenerateKeySet(512, 2, 3)
	require.NoError(t, err)
	algebra, err := fhe.NewPaillierAlgebra(keys.Public)
	require.NoError(t, err)
	decryptor, err := fhe.NewDecryptor(keys)
	require.NoError(t, err)
	enc := fhe.NewEncryptor(keys.Public)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	store := record.NewMemoryStore()
	manager := acl.NewMemoryManager()
	queue := decryption.NewMemoryQueue(4)
	coord, err := decryption.NewCoordinator(store, manager, queue, proofs.Address(key))
	require.NoError(t, err)

	var inputs []*fhe.Ciphertext
	for _, v := range []bool{true, true, true} {
		in, err := enc.EncryptBool(v)
		require.NoError(t, err)
		inputs = append(inputs, in.Ciphertext)
	}
	id := submit(t, store, manager, algebra, inputs)
	_, err = coord.Request(ctx, id, owner)
	require.NoError(t, err)

	p, err := NewProcessor(decryptor, key, coord, queue)
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = p.Start(runCtx) }()

	require.Eventually(t, func() bool {
		v, err := coord.Retrieve(ctx, id, owner)
		return err == nil && v == 100
	}, 10*time.Second, 20*time.Millisecond)
}
