package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// Box is an authenticated ciphertext with the nonce it was sealed under.
type Box struct {
	Message EncodedBoxCiphertext `json:"message"`
	Nonce   EncodedBoxNonce      `json:"nonce"`
}

// NewBox encrypts message from sender to recipient under a fresh random
// nonce.
func NewBox(senderSecretKey EncodedSecretEncryptionKey, recipientPublicKey EncodedPublicEncryptionKey, message []byte) (Box, error) {
	return newBox(rand.Reader, senderSecretKey, recipientPublicKey, message)
}

func newBox(r io.Reader, senderSecretKey EncodedSecretEncryptionKey, recipientPublicKey EncodedPublicEncryptionKey, message []byte) (Box, error) {
	sk, pk, err := decodeBoxKeys(senderSecretKey, recipientPublicKey)
	if err != nil {
		return Box{}, fmt.Errorf("box: %w", err)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return Box{}, fmt.Errorf("box: read nonce: %w", err)
	}
	ct := box.Seal(nil, message, &nonce, pk, sk)
	return Box{
		Message: Encode(Bytes[BoxCiphertext](ct)),
		Nonce:   Encode(Bytes[BoxNonce](nonce[:])),
	}, nil
}

// OpenBox decrypts b, sent by senderPublicKey to recipientSecretKey. Any
// mismatch of keys, nonce or ciphertext fails with ErrAuthentication.
func OpenBox(senderPublicKey EncodedPublicEncryptionKey, recipientSecretKey EncodedSecretEncryptionKey, b Box) ([]byte, error) {
	sk, pk, err := decodeBoxKeys(recipientSecretKey, senderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("open box: %w", err)
	}
	nonce, err := Decode(b.Nonce)
	if err != nil {
		return nil, fmt.Errorf("open box: %w", err)
	}
	ct, err := Decode(b.Message)
	if err != nil {
		return nil, fmt.Errorf("open box: %w", err)
	}
	if len(ct) < box.Overhead {
		return nil, fmt.Errorf("open box: %w: ciphertext shorter than %d bytes", ErrAuthentication, box.Overhead)
	}
	msg, ok := box.Open(nil, ct, (*[24]byte)(nonce), pk, sk)
	if !ok {
		return nil, fmt.Errorf("open box: %w", ErrAuthentication)
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, nil
}

// SealedBox encrypts message to publicKey with no sender authentication.
func SealedBox(publicKey EncodedPublicEncryptionKey, message []byte) (EncodedSealedBoxCiphertext, error) {
	pk, err := Decode(publicKey)
	if err != nil {
		return EncodedSealedBoxCiphertext{}, fmt.Errorf("sealed box: %w", err)
	}
	ct, err := box.SealAnonymous(nil, message, (*[32]byte)(pk), rand.Reader)
	if err != nil {
		return EncodedSealedBoxCiphertext{}, fmt.Errorf("sealed box: %w", err)
	}
	return Encode(Bytes[SealedBoxCiphertext](ct)), nil
}

// OpenSealedBox decrypts a sealed box addressed to keyPair.
func OpenSealedBox(keyPair EncodedEncryptionKeyPair, ciphertext EncodedSealedBoxCiphertext) ([]byte, error) {
	kp, err := DecodePair(keyPair)
	if err != nil {
		return nil, fmt.Errorf("open sealed box: %w", err)
	}
	ct, err := Decode(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open sealed box: %w", err)
	}
	if len(ct) < box.AnonymousOverhead {
		return nil, fmt.Errorf("open sealed box: %w: ciphertext shorter than %d bytes", ErrAuthentication, box.AnonymousOverhead)
	}
	msg, ok := box.OpenAnonymous(nil, ct, (*[32]byte)(kp.PublicKey), (*[32]byte)(kp.SecretKey))
	if !ok {
		return nil, fmt.Errorf("open sealed box: %w", ErrAuthentication)
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, nil
}

func decodeBoxKeys(secretKey EncodedSecretEncryptionKey, publicKey EncodedPublicEncryptionKey) (*[32]byte, *[32]byte, error) {
	sk, err := Decode(secretKey)
	if err != nil {
		return nil, nil, err
	}
	pk, err := Decode(publicKey)
	if err != nil {
		return nil, nil, err
	}
	return (*[32]byte)(sk), (*[32]byte)(pk), nil
}
