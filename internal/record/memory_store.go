package record

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore 以 ID 为下标的切片保存记录，所有变更在同一把锁内完成。
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	owners  map[common.Address][]uint64
	results map[uint64]Result
	balance *big.Int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:  make(map[common.Address][]uint64),
		results: make(map[uint64]Result),
		balance: new(big.Int),
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, rec *Record) (uint64, error) {
	if err := Validate(rec); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uint64(len(m.records)) + 1
	stored := rec.Clone()
	stored.ID = id
	stored.DecryptionRequested = false
	stored.RequestID = ""
	m.records = append(m.records, stored)
	m.owners[stored.Owner] = append(m.owners[stored.Owner], id)
	m.balance.Add(m.balance, stored.Payment)
	rec.ID = id
	return id, nil
}

func (m *MemoryStore) lookup(id uint64) (*Record, bool) {
	if id == 0 || id > uint64(len(m.records)) {
		return nil, false
	}
	return m.records[id-1], true
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id uint64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.lookup(id)
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// ListByOwner 实现 Store 接口。
func (m *MemoryStore) ListByOwner(_ context.Context, owner common.Address) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint64{}, m.owners[owner]...), nil
}

// MarkRequested 实现 Store 接口。
func (m *MemoryStore) MarkRequested(_ context.Context, id uint64, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.lookup(id)
	if !ok {
		return ErrRecordNotFound
	}
	if rec.DecryptionRequested {
		return ErrAlreadyRequested
	}
	rec.DecryptionRequested = true
	rec.RequestID = requestID
	return nil
}

// SaveResult 实现 Store 接口。
func (m *MemoryStore) SaveResult(_ context.Context, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(result.RecordID); !ok {
		return ErrRecordNotFound
	}
	if existing, ok := m.results[result.RecordID]; ok {
		if existing.Plaintext == result.Plaintext && existing.RequestID == result.RequestID {
			return nil
		}
		return ErrResultConflict
	}
	m.results[result.RecordID] = result
	return nil
}

// Result 实现 Store 接口。
func (m *MemoryStore) Result(_ context.Context, id uint64) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.lookup(id); !ok {
		return nil, ErrRecordNotFound
	}
	result, ok := m.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	return &result, nil
}

// PendingRequests 实现 Store 接口。
func (m *MemoryStore) PendingRequests(_ context.Context, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pending []*Record
	for _, rec := range m.records {
		if !rec.DecryptionRequested {
			continue
		}
		if _, done := m.results[rec.ID]; done {
			continue
		}
		pending = append(pending, rec.Clone())
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

// Balance 实现 Store 接口。
func (m *MemoryStore) Balance(_ context.Context) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.balance), nil
}

// DrainBalance 实现 Store 接口。
func (m *MemoryStore) DrainBalance(_ context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.balance
	m.balance = new(big.Int)
	return drained, nil
}

// Count 实现 Store 接口。
func (m *MemoryStore) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.records)), nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
