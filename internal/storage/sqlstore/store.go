package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ConfidentialLedger/internal/acl"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/record"
)

// Store 基于 database/sql 实现记录存储与能力表。
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var (
	_ record.Store = (*Store)(nil)
	_ acl.Manager  = (*Store)(nil)
)

// New 使用已迁移的数据库连接创建 Store。
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB 返回底层连接池。
func (s *Store) DB() *sql.DB {
	return s.db
}

func storageError(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("无法解析金额 %q", raw))
	}
	return amount, nil
}

// Create 实现 record.Store 接口：计数行加锁、写入记录与输入、更新计数与余额在同一事务内。
func (s *Store) Create(ctx context.Context, rec *record.Record) (uint64, error) {
	if err := record.Validate(rec); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError(err, "开启事务失败")
	}

	id, err := s.createTx(ctx, tx, rec)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storageError(err, "提交记录事务失败")
	}
	rec.ID = id
	return id, nil
}

func (s *Store) createTx(ctx context.Context, tx *sql.Tx, rec *record.Record) (uint64, error) {
	var (
		last       uint64
		balanceRaw string
	)
	if err := tx.QueryRowContext(ctx, s.dialect.selectState()).Scan(&last, &balanceRaw); err != nil {
		return 0, storageError(err, "读取账本状态失败")
	}
	balance, err := parseAmount(balanceRaw)
	if err != nil {
		return 0, err
	}
	id := last + 1

	if _, err := tx.ExecContext(ctx, `INSERT INTO records
        (id, owner, score_type, score, submitted_at, payment, decryption_requested, request_id)
        VALUES (?, ?, ?, ?, ?, ?, 0, '')`,
		id, rec.Owner.Hex(), int64(rec.Score.Type()), rec.Score.Bytes(), rec.SubmittedAt, rec.Payment.String(),
	); err != nil {
		return 0, storageError(err, "写入记录失败")
	}
	for i, in := range rec.Inputs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_inputs (record_id, position, name, ctype, ciphertext) VALUES (?, ?, ?, ?, ?)`,
			id, i, in.Name, int64(in.Ciphertext.Type()), in.Ciphertext.Bytes(),
		); err != nil {
			return 0, storageError(err, "写入记录输入失败")
		}
	}

	balance.Add(balance, rec.Payment)
	if _, err := tx.ExecContext(ctx, `UPDATE ledger_state SET last_record_id = ?, balance = ? WHERE id = 1`, id, balance.String()); err != nil {
		return 0, storageError(err, "更新账本状态失败")
	}
	return id, nil
}

// Get 实现 record.Store 接口。
func (s *Store) Get(ctx context.Context, id uint64) (*record.Record, error) {
	var (
		rec        record.Record
		owner      string
		scoreType  int64
		score      []byte
		paymentRaw string
		requested  bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, owner, score_type, score, submitted_at, payment, decryption_requested, request_id
        FROM records WHERE id = ?`, id).
		Scan(&rec.ID, &owner, &scoreType, &score, &rec.SubmittedAt, &paymentRaw, &requested, &rec.RequestID)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrRecordNotFound
	}
	if err != nil {
		return nil, storageError(err, "查询记录失败")
	}
	rec.Owner = common.HexToAddress(owner)
	rec.DecryptionRequested = requested
	if rec.Payment, err = parseAmount(paymentRaw); err != nil {
		return nil, err
	}
	if rec.Score, err = fhe.FromBytes(fhe.Type(scoreType), score); err != nil {
		return nil, storageError(err, "解析得分密文失败")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, ctype, ciphertext FROM record_inputs WHERE record_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, storageError(err, "查询记录输入失败")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			ctype int64
			data  []byte
		)
		if err := rows.Scan(&name, &ctype, &data); err != nil {
			return nil, storageError(err, "解析记录输入失败")
		}
		c, err := fhe.FromBytes(fhe.Type(ctype), data)
		if err != nil {
			return nil, storageError(err, "解析输入密文失败")
		}
		rec.Inputs = append(rec.Inputs, record.Input{Name: name, Ciphertext: c})
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历记录输入失败")
	}
	return &rec, nil
}

// ListByOwner 实现 record.Store 接口。
func (s *Store) ListByOwner(ctx context.Context, owner common.Address) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records WHERE owner = ? ORDER BY id`, owner.Hex())
	if err != nil {
		return nil, storageError(err, "查询所有者索引失败")
	}
	defer rows.Close()
	ids := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, storageError(err, "解析所有者索引失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历所有者索引失败")
	}
	return ids, nil
}

func (s *Store) exists(ctx context.Context, id uint64) (bool, error) {
	var found uint64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM records WHERE id = ?`, id).Scan(&found)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError(err, "查询记录失败")
	}
	return true, nil
}

// MarkRequested 通过条件更新完成比较并交换。
func (s *Store) MarkRequested(ctx context.Context, id uint64, requestID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET decryption_requested = 1, request_id = ?
        WHERE id = ? AND decryption_requested = 0`, requestID, id)
	if err != nil {
		return storageError(err, "更新解密请求标志失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "读取更新行数失败")
	}
	if affected == 1 {
		return nil
	}
	found, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return record.ErrRecordNotFound
	}
	return record.ErrAlreadyRequested
}

// SaveResult 依赖主键唯一性保证结果只写入一次。
func (s *Store) SaveResult(ctx context.Context, result record.Result) error {
	found, err := s.exists(ctx, result.RecordID)
	if err != nil {
		return err
	}
	if !found {
		return record.ErrRecordNotFound
	}
	res, err := s.db.ExecContext(ctx, s.dialect.insertResult(), result.RecordID, result.RequestID, result.Plaintext, result.FulfilledAt)
	if err != nil {
		return storageError(err, "写入解密结果失败")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 1 {
		return nil
	}
	existing, err := s.Result(ctx, result.RecordID)
	if err != nil {
		return err
	}
	if existing.Plaintext == result.Plaintext && existing.RequestID == result.RequestID {
		return nil
	}
	return record.ErrResultConflict
}

// Result 实现 record.Store 接口。
func (s *Store) Result(ctx context.Context, id uint64) (*record.Result, error) {
	result := record.Result{RecordID: id}
	err := s.db.QueryRowContext(ctx, `SELECT request_id, plaintext, fulfilled_at FROM decryption_results WHERE record_id = ?`, id).
		Scan(&result.RequestID, &result.Plaintext, &result.FulfilledAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		found, existsErr := s.exists(ctx, id)
		if existsErr != nil {
			return nil, existsErr
		}
		if !found {
			return nil, record.ErrRecordNotFound
		}
		return nil, record.ErrResultNotFound
	}
	if err != nil {
		return nil, storageError(err, "查询解密结果失败")
	}
	return &result, nil
}

// PendingRequests 返回已请求但尚未回填结果的记录。
func (s *Store) PendingRequests(ctx context.Context, limit int) ([]*record.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT r.id FROM records r
        LEFT JOIN decryption_results d ON d.record_id = r.id
        WHERE r.decryption_requested = 1 AND d.record_id IS NULL
        ORDER BY r.id LIMIT ?`, limit)
	if err != nil {
		return nil, storageError(err, "查询待解密记录失败")
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storageError(err, "解析待解密记录失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storageError(err, "遍历待解密记录失败")
	}
	rows.Close()

	pending := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		pending = append(pending, rec)
	}
	return pending, nil
}

// Balance 实现 record.Store 接口。
func (s *Store) Balance(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM ledger_state WHERE id = 1`).Scan(&raw); err != nil {
		return nil, storageError(err, "查询余额失败")
	}
	return parseAmount(raw)
}

// DrainBalance 在事务内读取并清零余额。
func (s *Store) DrainBalance(ctx context.Context) (*big.Int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError(err, "开启事务失败")
	}
	var (
		last uint64
		raw  string
	)
	if err := tx.QueryRowContext(ctx, s.dialect.selectState()).Scan(&last, &raw); err != nil {
		tx.Rollback()
		return nil, storageError(err, "读取账本状态失败")
	}
	drained, err := parseAmount(raw)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if drained.Sign() == 0 {
		tx.Rollback()
		return drained, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE ledger_state SET balance = '0' WHERE id = 1`); err != nil {
		tx.Rollback()
		return nil, storageError(err, "清零余额失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError(err, "提交余额事务失败")
	}
	return drained, nil
}

// Count 返回已分配的最大记录 ID。
func (s *Store) Count(ctx context.Context) (uint64, error) {
	var last uint64
	if err := s.db.QueryRowContext(ctx, `SELECT last_record_id FROM ledger_state WHERE id = 1`).Scan(&last); err != nil {
		return 0, storageError(err, "查询记录数量失败")
	}
	return last, nil
}

// Grant 实现 acl.Manager 接口，重复授予被主键冲突忽略。
func (s *Store) Grant(ctx context.Context, handle fhe.Handle, identity common.Address) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.insertCapability(), handle[:], identity.Hex(), s.now().Unix()); err != nil {
		return storageError(err, "写入能力表失败")
	}
	return nil
}

// Allowed 实现 acl.Manager 接口。
func (s *Store) Allowed(ctx context.Context, handle fhe.Handle, identity common.Address) (bool, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM capabilities WHERE handle = ? AND identity = ?`, handle[:], identity.Hex()).Scan(&count); err != nil {
		return false, storageError(err, "查询能力表失败")
	}
	return count > 0, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
