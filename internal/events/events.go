// Package events publishes ledger notifications after state changes commit.
// Subscribers use them to poll for decryption results instead of blocking.
package events

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Type 表示通知类型。
type Type string

const (
	TypeRecordCreated       Type = "record.created"
	TypeDecryptionRequested Type = "decryption.requested"
	TypeDecryptionFulfilled Type = "decryption.fulfilled"
)

// Event 是一条账本通知，不携带任何明文或密文。
type Event struct {
	Type       Type           `json:"type"`
	RecordID   uint64         `json:"record_id"`
	Owner      common.Address `json:"owner"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt int64          `json:"occurred_at"`
}

// Publisher 发布通知。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop 丢弃所有通知。
type Nop struct{}

// Publish 实现 Publisher 接口。
func (Nop) Publish(context.Context, Event) error { return nil }

// MemoryBus 在进程内向订阅者广播通知，慢订阅者的通知会被丢弃。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

var _ Publisher = (*MemoryBus)(nil)

// NewMemoryBus 创建内存通知总线。
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Event)}
}

// Subscribe 注册订阅者，返回的函数用于取消订阅。
func (b *MemoryBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish 实现 Publisher 接口。
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}
