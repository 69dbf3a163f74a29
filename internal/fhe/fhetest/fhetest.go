// Package fhetest provides a plaintext stand-in for fhe.Algebra so packages
// above the algebra can be tested without generating Paillier keys.
package fhetest

import (
	"math/big"

	"ConfidentialLedger/internal/fhe"
)

// Algebra stores plaintext directly in the ciphertext value.
type Algebra struct{}

var _ fhe.Algebra = Algebra{}

func (Algebra) Const(t fhe.Type, v uint64) (*fhe.Ciphertext, error) {
	return fhe.NewCiphertext(t, new(big.Int).SetUint64(v))
}

func (Algebra) Add(a, b *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	t := a.Type()
	if b.Type().Bits() > t.Bits() {
		t = b.Type()
	}
	return fhe.NewCiphertext(t, new(big.Int).Add(a.Value(), b.Value()))
}

func (Algebra) Select(cond, a, b *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	if cond.Value().Bit(0) == 1 {
		return fhe.NewCiphertext(a.Type(), a.Value())
	}
	return fhe.NewCiphertext(b.Type(), b.Value())
}

// Bool returns a plaintext-backed boolean ciphertext. salt keeps handles of
// equal values distinct, the way randomized encryption does. The encoded
// value is never zero so it survives a round trip through storage.
func Bool(v bool, salt uint64) *fhe.Ciphertext {
	n := new(big.Int).SetUint64(salt)
	n.Add(n, big.NewInt(1))
	n.Lsh(n, 1)
	if v {
		n.SetBit(n, 0, 1)
	}
	c, err := fhe.NewCiphertext(fhe.TypeBool, n)
	if err != nil {
		panic(err)
	}
	return c
}

// Reveal returns the plaintext of a ciphertext built by this package.
func Reveal(c *fhe.Ciphertext) uint64 {
	v := c.Value()
	if c.Type() == fhe.TypeBool {
		return uint64(v.Bit(0))
	}
	return v.Uint64()
}
