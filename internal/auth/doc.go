// Package auth authenticates ledger callers by EIP-191 signatures over the
// request method, path, timestamp and body digest. The recovered address is
// the caller identity used for ownership and capability checks.
package auth
