package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// identityKey 是上下文中存储调用者身份的键类型。
type identityKey struct{}

// WithIdentity 将经过签名验证的调用者地址存入上下文。
func WithIdentity(ctx context.Context, identity common.Address) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext 从上下文中提取调用者地址。
func IdentityFromContext(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	identity, ok := ctx.Value(identityKey{}).(common.Address)
	return identity, ok
}
