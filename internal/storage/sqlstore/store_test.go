package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"io/fs"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"ConfidentialLedger/deploy/migrations"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/fhe/fhetest"
	"ConfidentialLedger/internal/record"
)

var owner = common.HexToAddress("0xa11ce00000000000000000000000000000000001")

const (
	insertRecordSQL = `INSERT INTO records
        (id, owner, score_type, score, submitted_at, payment, decryption_requested, request_id)
        VALUES (?, ?, ?, ?, ?, ?, 0, '')`
	insertInputSQL  = `INSERT INTO record_inputs (record_id, position, name, ctype, ciphertext) VALUES (?, ?, ?, ?, ?)`
	updateStateSQL  = `UPDATE ledger_state SET last_record_id = ?, balance = ? WHERE id = 1`
	selectRecordSQL = `SELECT id, owner, score_type, score, submitted_at, payment, decryption_requested, request_id
        FROM records WHERE id = ?`
	selectInputsSQL = `SELECT name, ctype, ciphertext FROM record_inputs WHERE record_id = ? ORDER BY position`
	existsSQL       = `SELECT id FROM records WHERE id = ?`
	markSQL         = `UPDATE records SET decryption_requested = 1, request_id = ? WHERE id = ? AND decryption_requested = 0`
	selectResultSQL = `SELECT request_id, plaintext, fulfilled_at FROM decryption_results WHERE record_id = ?`
)

func newRecord() *record.Record {
	return &record.Record{
		Owner: owner,
		Inputs: []record.Input{
			{Name: "career", Ciphertext: fhetest.Bool(true, 1)},
			{Name: "skill", Ciphertext: fhetest.Bool(false, 2)},
		},
		Score:       fhetest.Bool(true, 3),
		SubmittedAt: 1700000000,
		Payment:     big.NewInt(25),
	}
}

func stateRows(last int64, balance string) mockRowsData {
	return mockRowsData{
		columns: []string{"last_record_id", "balance"},
		values:  [][]driver.Value{{last, balance}},
	}
}

func TestCreateAllocatesIDInsideTransaction(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(MySQL.selectState(), stateRows(4, "100")),
		execOp(insertRecordSQL, mockResult{rowsAffected: 1}),
		execOp(insertInputSQL, mockResult{rowsAffected: 1}),
		execOp(insertInputSQL, mockResult{rowsAffected: 1}),
		execOp(updateStateSQL, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := New(db, MySQL)
	rec := newRecord()
	id, err := store.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != 5 || rec.ID != 5 {
		t.Fatalf("expected id 5, got %d/%d", id, rec.ID)
	}
}

func TestCreateRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(MySQL.selectState(), stateRows(4, "100")),
		execOp(insertRecordSQL, mockResult{rowsAffected: 1}),
		execErrOp(insertInputSQL, errors.New("disk full")),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	_, err := New(db, MySQL).Create(context.Background(), newRecord())
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestGetReassemblesRecord(t *testing.T) {
	t.Parallel()

	rec := newRecord()
	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectRecordSQL, mockRowsData{
			columns: []string{"id", "owner", "score_type", "score", "submitted_at", "payment", "decryption_requested", "request_id"},
			values:  [][]driver.Value{{int64(3), owner.Hex(), int64(fhe.TypeBool), rec.Score.Bytes(), int64(1700000000), "25", int64(1), "req-3"}},
		}),
		queryOp(selectInputsSQL, mockRowsData{
			columns: []string{"name", "ctype", "ciphertext"},
			values: [][]driver.Value{
				{"career", int64(fhe.TypeBool), rec.Inputs[0].Ciphertext.Bytes()},
				{"skill", int64(fhe.TypeBool), rec.Inputs[1].Ciphertext.Bytes()},
			},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	got, err := New(db, MySQL).Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != 3 || got.Owner != owner || !got.DecryptionRequested || got.RequestID != "req-3" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Payment.Int64() != 25 || len(got.Inputs) != 2 || got.Inputs[1].Name != "skill" {
		t.Fatalf("unexpected record body: %+v", got)
	}
	if got.Score.Handle() != rec.Score.Handle() || got.Inputs[0].Ciphertext.Handle() != rec.Inputs[0].Ciphertext.Handle() {
		t.Fatalf("handles changed across storage")
	}
}

func TestGetUnknownRecord(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectRecordSQL, mockRowsData{columns: []string{"id"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if _, err := New(db, MySQL).Get(context.Background(), 9); !errors.Is(err, record.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkRequestedCompareAndSet(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(markSQL, mockResult{rowsAffected: 1}),
		execOp(markSQL, mockResult{rowsAffected: 0}),
		queryOp(existsSQL, mockRowsData{columns: []string{"id"}, values: [][]driver.Value{{int64(1)}}}),
		execOp(markSQL, mockResult{rowsAffected: 0}),
		queryOp(existsSQL, mockRowsData{columns: []string{"id"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := New(db, MySQL)
	ctx := context.Background()
	if err := store.MarkRequested(ctx, 1, "req"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if err := store.MarkRequested(ctx, 1, "req"); !errors.Is(err, record.ErrAlreadyRequested) {
		t.Fatalf("expected already requested, got %v", err)
	}
	if err := store.MarkRequested(ctx, 2, "req"); !errors.Is(err, record.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveResultIdempotentAndConflicting(t *testing.T) {
	t.Parallel()

	existing := mockRowsData{
		columns: []string{"request_id", "plaintext", "fulfilled_at"},
		values:  [][]driver.Value{{"req", int64(85), int64(10)}},
	}
	exists := mockRowsData{columns: []string{"id"}, values: [][]driver.Value{{int64(1)}}}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(existsSQL, exists),
		execOp(MySQL.insertResult(), mockResult{rowsAffected: 1}),
		queryOp(existsSQL, exists),
		execOp(MySQL.insertResult(), mockResult{rowsAffected: 0}),
		queryOp(selectResultSQL, existing),
		queryOp(existsSQL, exists),
		execOp(MySQL.insertResult(), mockResult{rowsAffected: 0}),
		queryOp(selectResultSQL, existing),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := New(db, MySQL)
	ctx := context.Background()
	result := record.Result{RecordID: 1, RequestID: "req", Plaintext: 85, FulfilledAt: 10}
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("repeat save failed: %v", err)
	}
	result.Plaintext = 99
	if err := store.SaveResult(ctx, result); !errors.Is(err, record.ErrResultConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestResultMissing(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectResultSQL, mockRowsData{columns: []string{"request_id"}}),
		queryOp(existsSQL, mockRowsData{columns: []string{"id"}, values: [][]driver.Value{{int64(1)}}}),
		queryOp(selectResultSQL, mockRowsData{columns: []string{"request_id"}}),
		queryOp(existsSQL, mockRowsData{columns: []string{"id"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := New(db, MySQL)
	if _, err := store.Result(context.Background(), 1); !errors.Is(err, record.ErrResultNotFound) {
		t.Fatalf("expected missing result, got %v", err)
	}
	if _, err := store.Result(context.Background(), 2); !errors.Is(err, record.ErrRecordNotFound) {
		t.Fatalf("expected missing record, got %v", err)
	}
}

func TestDrainBalance(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(MySQL.selectState(), stateRows(3, "75")),
		execOp(`UPDATE ledger_state SET balance = '0' WHERE id = 1`, mockResult{rowsAffected: 1}),
		commitOp(),
		beginOp(),
		queryOp(MySQL.selectState(), stateRows(3, "0")),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := New(db, MySQL)
	drained, err := store.DrainBalance(context.Background())
	if err != nil || drained.Int64() != 75 {
		t.Fatalf("expected 75, got %v err=%v", drained, err)
	}
	drained, err = store.DrainBalance(context.Background())
	if err != nil || drained.Sign() != 0 {
		t.Fatalf("expected zero, got %v err=%v", drained, err)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(MySQL.insertCapability(), mockResult{rowsAffected: 1}),
		queryOp(`SELECT COUNT(*) FROM capabilities WHERE handle = ? AND identity = ?`, mockRowsData{
			columns: []string{"count"},
			values:  [][]driver.Value{{int64(1)}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := New(db, MySQL)
	ctx := context.Background()
	if err := store.Grant(ctx, fhe.Handle{1}, owner); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	ok, err := store.Allowed(ctx, fhe.Handle{1}, owner)
	if err != nil || !ok {
		t.Fatalf("expected allowed, ok=%v err=%v", ok, err)
	}
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(migrations.MySQL())
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" {
		t.Fatalf("unexpected migrations: %+v", files)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	for _, m := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range m.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db, migrations.MySQL()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	content, err := fs.ReadFile(migrations.SQLite(), "0001_create_ledger.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) != 6 {
		t.Fatalf("expected 6 statements, got %d", len(statements))
	}
	if parseMigrationVersion("0002_create_capabilities.sql") != "0002" {
		t.Fatalf("unexpected version parse")
	}
}
