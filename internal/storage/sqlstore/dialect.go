package sqlstore

// Dialect 描述不同数据库之间的 SQL 差异。
type Dialect struct {
	Name string
	// LockClause 追加在需要行锁的 SELECT 之后。
	LockClause string
	// InsertIgnore 是忽略主键冲突的插入前缀。
	InsertIgnore string
}

var (
	// MySQL 使用 SELECT … FOR UPDATE 锁定计数行。
	MySQL = Dialect{Name: "mysql", LockClause: " FOR UPDATE", InsertIgnore: "INSERT IGNORE"}
	// SQLite 依赖单写连接串行化事务。
	SQLite = Dialect{Name: "sqlite", LockClause: "", InsertIgnore: "INSERT OR IGNORE"}
)

func (d Dialect) selectState() string {
	return `SELECT last_record_id, balance FROM ledger_state WHERE id = 1` + d.LockClause
}

func (d Dialect) insertCapability() string {
	return d.InsertIgnore + ` INTO capabilities (handle, identity, granted_at) VALUES (?, ?, ?)`
}

func (d Dialect) insertResult() string {
	return d.InsertIgnore + ` INTO decryption_results (record_id, request_id, plaintext, fulfilled_at) VALUES (?, ?, ?, ?)`
}
