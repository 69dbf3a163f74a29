// Package proofs implements the signatures that anchor encrypted inputs and
// oracle results: attestations from a trusted input verifier over submitted
// ciphertext handles, and decryption oracle signatures over fulfilled
// plaintexts. Both use secp256k1 keys and keccak256 digests.
package proofs
