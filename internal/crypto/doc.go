// Package crypto provides the signing and encryption primitives that give
// actors verifiable identities: ed25519 detached signatures, NaCl
// authenticated boxes and anonymous sealed boxes.
//
// Raw material is carried as Bytes[K] and crosses process boundaries as
// Encoded[K], a lowercase hex string. K is a phantom kind (PublicSigning,
// BoxNonce, ...) so a nonce can never be passed where a key is expected,
// and an encoded string can never be mistaken for raw bytes.
package crypto
