// Package fhe adapts the threshold Paillier scheme from
// github.com/niclabs/tcpaillier into the small encrypted value algebra the
// ledger relies on: constant injection, homomorphic addition and
// homomorphic conditional select over opaque ciphertext handles.
//
// The ledger never sees plaintext. Client-side encryption lives in
// Encryptor and threshold decryption in Decryptor, which only the oracle
// process holds key shares for.
package fhe
