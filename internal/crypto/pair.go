package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"
)

// KeyPair is raw key material of public kind P and secret kind S.
type KeyPair[P, S Kind] struct {
	PublicKey Bytes[P]
	SecretKey Bytes[S]
}

// EncodedKeyPair is the hex form of a KeyPair.
type EncodedKeyPair[P, S Kind] struct {
	PublicKey Encoded[P] `json:"publicKey"`
	SecretKey Encoded[S] `json:"secretKey"`
}

type (
	SigningKeyPair           = KeyPair[PublicSigning, SecretSigning]
	EncryptionKeyPair        = KeyPair[PublicEncryption, SecretEncryption]
	EncodedSigningKeyPair    = EncodedKeyPair[PublicSigning, SecretSigning]
	EncodedEncryptionKeyPair = EncodedKeyPair[PublicEncryption, SecretEncryption]
)

// EncodePair encodes both halves of kp.
func EncodePair[P, S Kind](kp KeyPair[P, S]) EncodedKeyPair[P, S] {
	return EncodedKeyPair[P, S]{PublicKey: Encode(kp.PublicKey), SecretKey: Encode(kp.SecretKey)}
}

// DecodePair decodes both halves of kp. Each half must decode on its own.
func DecodePair[P, S Kind](kp EncodedKeyPair[P, S]) (KeyPair[P, S], error) {
	pub, err := Decode(kp.PublicKey)
	if err != nil {
		return KeyPair[P, S]{}, fmt.Errorf("decode public key: %w", err)
	}
	sec, err := Decode(kp.SecretKey)
	if err != nil {
		return KeyPair[P, S]{}, fmt.Errorf("decode secret key: %w", err)
	}
	return KeyPair[P, S]{PublicKey: pub, SecretKey: sec}, nil
}

// GenerateSigningKeyPair creates an ed25519 key pair from r.
func GenerateSigningKeyPair(r io.Reader) (SigningKeyPair, error) {
	pub, sec, err := sign.GenerateKey(r)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("generate signing key pair: %w", err)
	}
	return SigningKeyPair{PublicKey: pub[:], SecretKey: sec[:]}, nil
}

// GenerateEncryptionKeyPair creates a curve25519 key pair from r.
func GenerateEncryptionKeyPair(r io.Reader) (EncryptionKeyPair, error) {
	pub, sec, err := box.GenerateKey(r)
	if err != nil {
		return EncryptionKeyPair{}, fmt.Errorf("generate encryption key pair: %w", err)
	}
	return EncryptionKeyPair{PublicKey: pub[:], SecretKey: sec[:]}, nil
}

// NewSigningKeyPair creates a signing key pair from crypto/rand.
func NewSigningKeyPair() (SigningKeyPair, error) {
	return GenerateSigningKeyPair(rand.Reader)
}

// NewEncryptionKeyPair creates an encryption key pair from crypto/rand.
func NewEncryptionKeyPair() (EncryptionKeyPair, error) {
	return GenerateEncryptionKeyPair(rand.Reader)
}

// NewEncodedSigningKeyPair creates and encodes a signing key pair.
func NewEncodedSigningKeyPair() (EncodedSigningKeyPair, error) {
	kp, err := NewSigningKeyPair()
	if err != nil {
		return EncodedSigningKeyPair{}, err
	}
	return EncodePair(kp), nil
}

// NewEncodedEncryptionKeyPair creates and encodes an encryption key pair.
func NewEncodedEncryptionKeyPair() (EncodedEncryptionKeyPair, error) {
	kp, err := NewEncryptionKeyPair()
	if err != nil {
		return EncodedEncryptionKeyPair{}, err
	}
	return EncodePair(kp), nil
}
