package decryption

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConfidentialLedger/internal/acl"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/events"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/fhe/fhetest"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/internal/record"
)

type failingProducer struct{ calls int }

func (p *failingProducer) Publish(context.Context, Job) error {
	p.calls++
	return errors.New("broker down")
}

func (p *failingProducer) Close() error { return nil }

type fixture struct {
	store  *record.MemoryStore
	acl    *acl.MemoryManager
	queue  *MemoryQueue
	bus    *events.MemoryBus
	oracle *ecdsa.PrivateKey
	owner  common.Address
	coord  *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	oracleKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	f := &fixture{
		store:  record.NewMemoryStore(),
		acl:    acl.NewMemoryManager(),
		queue:  NewMemoryQueue(16),
		bus:    events.NewMemoryBus(),
		oracle: oracleKey,
		owner:  common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	}
	seq := 0
	f.coord, err = NewCoordinator(f.store, f.acl, f.queue, proofs.Address(oracleKey),
		WithEvents(f.bus),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		WithRequestIDs(func() string {
			seq++
			return fmt.Sprintf("req-%d", seq)
		}))
	require.NoError(t, err)
	return f
}

func (f *fixture) createRecord(t *testing.T, score uint64, grant bool) uint64 {
	t.Helper()
	scoreCt, err := fhetest.Algebra{}.Const(fhe.TypeUint8, score)
	require.NoError(t, err)
	rec := &record.Record{
		Owner:   f.owner,
		Inputs:  []record.Input{{Name: "career", Ciphertext: fhetest.Bool(true, score)}},
		Score:   scoreCt,
		Payment: big.NewInt(1),
	}
	if grant {
		require.NoError(t, acl.GrantAll(context.Background(), f.acl, rec.Handles(), f.owner))
	}
	id, err := f.store.Create(context.Background(), rec)
	require.NoError(t, err)
	return id
}

func (f *fixture) fulfillment(t *testing.T, job Job, plaintext uint64) Fulfillment {
	t.Helper()
	sig, err := proofs.SignFulfillment(f.oracle, job.RecordID, job.RequestID, job.Handle, plaintext)
	require.NoError(t, err)
	return Fulfillment{
		RecordID:  job.RecordID,
		RequestID: job.RequestID,
		Handle:    job.Handle,
		Plaintext: plaintext,
		Signature: sig,
	}
}

func (f *fixture) nextJob(t *testing.T) Job {
	t.Helper()
	select {
	case job := <-f.queue.ch:
		return job
	default:
		t.Fatal("队列中没有解密任务")
		return Job{}
	}
}

func TestNewCoordinatorRequiresOracle(t *testing.T) {
	_, err := NewCoordinator(record.NewMemoryStore(), acl.NewMemoryManager(), NewMemoryQueue(1), common.Address{})
	require.Error(t, err)
	assert.Equal(t, xerrors.KindConfiguration, xerrors.KindOf(err))
}

func TestRequestRetrieveLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createRecord(t, 85, true)
	sub, cancel := f.bus.Subscribe(4)
	defer cancel()

	_, err := f.coord.Retrieve(ctx, id, f.owner)
	require.ErrorIs(t, err, ErrNotRequested)

	requestID, err := f.coord.Request(ctx, id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, "req-1", requestID)

	_, err = f.coord.Retrieve(ctx, id, f.owner)
	require.ErrorIs(t, err, ErrNotFulfilled)
	assert.True(t, xerrors.RetryableError(err))
	assert.Equal(t, xerrors.KindPending, xerrors.KindOf(err))

	job := f.nextJob(t)
	assert.Equal(t, id, job.RecordID)
	assert.Equal(t, requestID, job.RequestID)
	assert.Equal(t, fhe.TypeUint8, job.Type)

	require.NoError(t, f.coord.Fulfill(ctx, f.fulfillment(t, job, 85)))

	for i := 0; i < 2; i++ {
		value, err := f.coord.Retrieve(ctx, id, f.owner)
		require.NoError(t, err)
		assert.Equal(t, uint64(85), value)
	}

	requested := <-sub
	assert.Equal(t, events.TypeDecryptionRequested, requested.Type)
	fulfilled := <-sub
	assert.Equal(t, events.TypeDecryptionFulfilled, fulfilled.Type)
	assert.Equal(t, requestID, fulfilled.RequestID)
}

func TestRequestOrderOfChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	_, err := f.coord.Request(ctx, 99, stranger)
	require.ErrorIs(t, err, record.ErrRecordNotFound)

	id := f.createRecord(t, 50, true)
	_, err = f.coord.Request(ctx, id, stranger)
	assert.Equal(t, xerrors.KindAuthorization, xerrors.KindOf(err))

	_, err = f.coord.Request(ctx, id, f.owner)
	require.NoError(t, err)
	_, err = f.coord.Request(ctx, id, f.owner)
	require.ErrorIs(t, err, record.ErrAlreadyRequested)
	_, err = f.coord.Request(ctx, id, stranger)
	assert.Equal(t, xerrors.KindAuthorization, xerrors.KindOf(err))
	assert.Equal(t, 1, f.queue.Len())
}

func TestOwnerWithoutCapabilityIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	id := f.createRecord(t, 50, false)

	_, err := f.coord.Request(context.Background(), id, f.owner)
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
	_, err = f.coord.Retrieve(context.Background(), id, f.owner)
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
}

func TestFulfillRejectsForgedAndMismatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createRecord(t, 70, true)
	_, err := f.coord.Request(ctx, id, f.owner)
	require.NoError(t, err)
	job := f.nextJob(t)

	forged := f.fulfillment(t, job, 70)
	forged.Plaintext = 71
	assert.ErrorIs(t, f.coord.Fulfill(ctx, forged), proofs.ErrInvalidProof)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := proofs.SignFulfillment(other, job.RecordID, job.RequestID, job.Handle, 70)
	require.NoError(t, err)
	assert.ErrorIs(t, f.coord.Fulfill(ctx, Fulfillment{
		RecordID: job.RecordID, RequestID: job.RequestID, Handle: job.Handle, Plaintext: 70, Signature: sig,
	}), proofs.ErrInvalidProof)

	stale := job
	stale.RequestID = "req-old"
	assert.Equal(t, CodeRequestMismatch, xerrors.CodeOf(f.coord.Fulfill(ctx, f.fulfillment(t, stale, 70))))

	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(f.coord.Fulfill(ctx, f.fulfillment(t, job, 256))))

	require.NoError(t, f.coord.Fulfill(ctx, f.fulfillment(t, job, 70)))
	require.NoError(t, f.coord.Fulfill(ctx, f.fulfillment(t, job, 70)))
	assert.ErrorIs(t, f.coord.Fulfill(ctx, f.fulfillment(t, job, 69)), record.ErrResultConflict)
}

func TestFulfillBeforeRequest(t *testing.T) {
	f := newFixture(t)
	id := f.createRecord(t, 70, true)
	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	job := NewJob(rec, "req-x", 0)
	assert.ErrorIs(t, f.coord.Fulfill(context.Background(), f.fulfillment(t, job, 70)), ErrNotRequested)
}

func TestPublishFailureKeepsFlagAndRedrive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	producer := &failingProducer{}
	coord, err := NewCoordinator(f.store, f.acl, producer, proofs.Address(f.oracle))
	require.NoError(t, err)

	id := f.createRecord(t, 85, true)
	requestID, err := coord.Request(ctx, id, f.owner)
	require.NoError(t, err)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, 1, producer.calls)

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.DecryptionRequested)

	_, err = coord.Redrive(ctx, 10)
	assert.Equal(t, CodeJobPublish, xerrors.CodeOf(err))

	n, err := f.coord.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	job := f.nextJob(t)
	assert.Equal(t, requestID, job.RequestID)

	require.NoError(t, f.coord.Fulfill(ctx, f.fulfillment(t, job, 85)))
	n, err = f.coord.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobEncoding(t *testing.T) {
	f := newFixture(t)
	id := f.createRecord(t, 42, true)
	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)

	data, err := EncodeJob(NewJob(rec, "req-9", 7))
	require.NoError(t, err)
	job, err := DecodeJob(data)
	require.NoError(t, err)

	c, err := job.Cipher()
	require.NoError(t, err)
	assert.Equal(t, rec.Score.Handle(), c.Handle())

	job.Handle = fhe.Handle{1}
	_, err = job.Cipher()
	assert.Error(t, err)

	_, err = DecodeJob([]byte("{"))
	assert.Error(t, err)
}
