package crypto

import (
	"fmt"

	"golang.org/x/crypto/nacl/sign"
)

// SignedMessage is a message with its detached signature. The message is
// not encrypted.
type SignedMessage struct {
	Message   []byte           `json:"message"`
	Signature EncodedSignature `json:"signature"`
}

// Sign produces a detached ed25519 signature over message.
func Sign(secretKey EncodedSecretSigningKey, message []byte) (SignedMessage, error) {
	sk, err := Decode(secretKey)
	if err != nil {
		return SignedMessage{}, fmt.Errorf("sign: %w", err)
	}
	// sign.Sign returns signature || message.
	signed := sign.Sign(nil, message, (*[64]byte)(sk))
	sig := Bytes[Signature](signed[:sign.Overhead])
	return SignedMessage{Message: message, Signature: Encode(sig)}, nil
}

// Verify reports whether sm carries a valid signature by publicKey.
// Malformed keys or signatures verify as false.
func Verify(publicKey EncodedPublicSigningKey, sm SignedMessage) bool {
	pk, err := Decode(publicKey)
	if err != nil {
		return false
	}
	sig, err := Decode(sm.Signature)
	if err != nil {
		return false
	}
	signed := make([]byte, 0, len(sig)+len(sm.Message))
	signed = append(signed, sig...)
	signed = append(signed, sm.Message...)
	_, ok := sign.Open(nil, signed, (*[32]byte)(pk))
	return ok
}

// VerifiedMessage returns sm.Message if its signature is valid, else
// ErrBadSignature.
func VerifiedMessage(publicKey EncodedPublicSigningKey, sm SignedMessage) ([]byte, error) {
	if !Verify(publicKey, sm) {
		return nil, ErrBadSignature
	}
	return sm.Message, nil
}
