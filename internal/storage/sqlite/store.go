// Package sqlite provides a single-node durable record store on SQLite.
// One connection serializes every write, which makes each transaction an
// atomic unit without row locks.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"ConfidentialLedger/deploy/migrations"
	"ConfidentialLedger/internal/storage/sqlstore"
)

// RecordStore 使用 SQLite 持久化记录、能力表与账本状态。
type RecordStore struct {
	*sqlstore.Store
}

// Open 创建或打开 path 处的数据库，设置 pragma 并执行迁移。
func Open(ctx context.Context, path string) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 SQLite: %w", err)
	}
	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db, migrations.SQLite()); err != nil {
		db.Close()
		return nil, fmt.Errorf("执行 SQLite 迁移失败: %w", err)
	}
	return &RecordStore{Store: sqlstore.New(db, sqlstore.SQLite)}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("执行 %q 失败: %w", pragma, err)
		}
	}
	return nil
}
