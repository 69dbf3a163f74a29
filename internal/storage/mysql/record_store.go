package mysql

import (
	"context"
	"fmt"

	"ConfidentialLedger/deploy/migrations"
	"ConfidentialLedger/internal/storage/sqlstore"
)

// RecordStore 使用 MySQL 持久化记录、能力表与账本状态。
// 计数行通过 SELECT … FOR UPDATE 串行化记录创建。
type RecordStore struct {
	*sqlstore.Store
}

// NewRecordStore 建立连接池并执行迁移。
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db, migrations.MySQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("执行 MySQL 迁移失败: %w", err)
	}
	return &RecordStore{Store: sqlstore.New(db, sqlstore.MySQL)}, nil
}
