package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind tags raw bytes and encoded strings with what they contain.
// Size is the exact byte length, or 0 for variable-length ciphertexts.
type Kind interface {
	Name() string
	Size() int
}

type (
	PublicSigning       struct{}
	SecretSigning       struct{}
	PublicEncryption    struct{}
	SecretEncryption    struct{}
	Signature           struct{}
	BoxNonce            struct{}
	BoxCiphertext       struct{}
	SealedBoxCiphertext struct{}
)

func (PublicSigning) Name() string       { return "public signing key" }
func (SecretSigning) Name() string       { return "secret signing key" }
func (PublicEncryption) Name() string    { return "public encryption key" }
func (SecretEncryption) Name() string    { return "secret encryption key" }
func (Signature) Name() string           { return "signature" }
func (BoxNonce) Name() string            { return "box nonce" }
func (BoxCiphertext) Name() string       { return "box ciphertext" }
func (SealedBoxCiphertext) Name() string { return "sealed box ciphertext" }

func (PublicSigning) Size() int       { return 32 }
func (SecretSigning) Size() int       { return 64 }
func (PublicEncryption) Size() int    { return 32 }
func (SecretEncryption) Size() int    { return 32 }
func (Signature) Size() int           { return 64 }
func (BoxNonce) Size() int            { return 24 }
func (BoxCiphertext) Size() int       { return 0 }
func (SealedBoxCiphertext) Size() int { return 0 }

// Bytes is raw material of kind K.
type Bytes[K Kind] []byte

// Encoded is the hex form of material of kind K. The zero value is empty.
// Values are only produced by Encode and Parse, so a non-empty Encoded
// always holds valid lowercase hex of the right length.
type Encoded[K Kind] struct {
	hex string
}

type (
	PublicSigningKey    = Bytes[PublicSigning]
	SecretSigningKey    = Bytes[SecretSigning]
	PublicEncryptionKey = Bytes[PublicEncryption]
	SecretEncryptionKey = Bytes[SecretEncryption]

	EncodedPublicSigningKey    = Encoded[PublicSigning]
	EncodedSecretSigningKey    = Encoded[SecretSigning]
	EncodedPublicEncryptionKey = Encoded[PublicEncryption]
	EncodedSecretEncryptionKey = Encoded[SecretEncryption]
	EncodedSignature           = Encoded[Signature]
	EncodedBoxNonce            = Encoded[BoxNonce]
	EncodedBoxCiphertext       = Encoded[BoxCiphertext]
	EncodedSealedBoxCiphertext = Encoded[SealedBoxCiphertext]
)

// Encode hex-encodes b.
func Encode[K Kind](b Bytes[K]) Encoded[K] {
	return Encoded[K]{hex: hex.EncodeToString(b)}
}

// Decode returns the raw bytes of e.
func Decode[K Kind](e Encoded[K]) (Bytes[K], error) {
	b, err := hex.DecodeString(e.hex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if err := checkSize[K](b); err != nil {
		return nil, err
	}
	return Bytes[K](b), nil
}

// Parse validates s as hex material of kind K. Upper and lower case are
// both accepted; the result is normalized to lowercase.
func Parse[K Kind](s string) (Encoded[K], error) {
	var k K
	b, err := hex.DecodeString(s)
	if err != nil {
		return Encoded[K]{}, fmt.Errorf("%w: %s: %v", ErrInvalidEncoding, k.Name(), err)
	}
	if err := checkSize[K](b); err != nil {
		return Encoded[K]{}, err
	}
	return Encoded[K]{hex: strings.ToLower(s)}, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or with constants.
func MustParse[K Kind](s string) Encoded[K] {
	e, err := Parse[K](s)
	if err != nil {
		panic(err)
	}
	return e
}

func checkSize[K Kind](b []byte) error {
	var k K
	if n := k.Size(); n > 0 && len(b) != n {
		return fmt.Errorf("%w: %s must be %d bytes, got %d", ErrInvalidKey, k.Name(), n, len(b))
	}
	return nil
}

// String returns the hex form.
func (e Encoded[K]) String() string {
	return e.hex
}

// IsZero reports whether e is empty.
func (e Encoded[K]) IsZero() bool {
	return e.hex == ""
}

// MarshalText implements encoding.TextMarshaler.
func (e Encoded[K]) MarshalText() ([]byte, error) {
	return []byte(e.hex), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text decodes to
// the zero value.
func (e *Encoded[K]) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*e = Encoded[K]{}
		return nil
	}
	parsed, err := Parse[K](string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
