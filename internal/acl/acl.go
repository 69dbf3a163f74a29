// Package acl records which identities may request decryption of which
// ciphertext handles. Grants are permanent; there is no revoke.
package acl

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"ConfidentialLedger/internal/fhe"
)

// Grant 表示 (密文句柄, 被授权身份) 对。
type Grant struct {
	Handle   fhe.Handle     `json:"handle"`
	Identity common.Address `json:"identity"`
}

// Manager 抽象能力表的授予与检查。
type Manager interface {
	// Grant 幂等地授予 identity 对 handle 的解密请求权。
	Grant(ctx context.Context, handle fhe.Handle, identity common.Address) error
	// Allowed 判断 identity 是否持有 handle 的能力。
	Allowed(ctx context.Context, handle fhe.Handle, identity common.Address) (bool, error)
}

// GrantAll 将每个句柄授予给所有身份。
func GrantAll(ctx context.Context, m Manager, handles []fhe.Handle, identities ...common.Address) error {
	for _, h := range handles {
		for _, id := range identities {
			if err := m.Grant(ctx, h, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// MemoryManager 以内存侧表保存能力。
type MemoryManager struct {
	mu     sync.RWMutex
	grants map[Grant]struct{}
}

var _ Manager = (*MemoryManager)(nil)

// NewMemoryManager 创建空的能力表。
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{grants: make(map[Grant]struct{})}
}

// Grant 实现 Manager 接口。
func (m *MemoryManager) Grant(_ context.Context, handle fhe.Handle, identity common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[Grant{Handle: handle, Identity: identity}] = struct{}{}
	return nil
}

// Allowed 实现 Manager 接口。
func (m *MemoryManager) Allowed(_ context.Context, handle fhe.Handle, identity common.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.grants[Grant{Handle: handle, Identity: identity}]
	return ok, nil
}

// Len 返回能力条目数量。
func (m *MemoryManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.grants)
}
