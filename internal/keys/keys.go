// Package keys names writers and documents by their ed25519 public keys.
//
// A PublicID is the hex form of a public signing key. DocIDs and ActorIDs
// are PublicIDs; a DiscoveryID is the key peers announce to find each
// other without revealing the public key itself.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/geoffreylitt/hypermerge/internal/crypto"
	"github.com/geoffreylitt/hypermerge/internal/ir"
)

const (
	PublicKeySize    = 32
	SecretKeySize    = 64
	DiscoveryKeySize = 32
)

// discoveryNamespace is hashed under the public key to derive discovery
// keys. Peers on the same swarm must agree on it.
const discoveryNamespace = "hypercore"

type (
	PublicID    string
	SecretID    string
	DiscoveryID string
)

// KeyBuffer is raw key material. SecretKey is nil for read-only keys.
type KeyBuffer struct {
	PublicKey []byte
	SecretKey []byte
}

// KeyPair is the encoded form of a KeyBuffer.
type KeyPair struct {
	PublicKey PublicID `json:"publicKey"`
	SecretKey SecretID `json:"secretKey,omitempty"`
}

// HasSecret reports whether kp can sign.
func (kp KeyPair) HasSecret() bool { return kp.SecretKey != "" }

// Create returns a fresh encoded key pair.
func Create() (KeyPair, error) {
	buf, err := CreateBuffer()
	if err != nil {
		return KeyPair{}, err
	}
	return EncodePair(buf), nil
}

// CreateBuffer returns a fresh raw key pair.
func CreateBuffer() (KeyBuffer, error) {
	return Generate(rand.Reader)
}

// Generate derives a key pair from r.
func Generate(r io.Reader) (KeyBuffer, error) {
	kp, err := crypto.GenerateSigningKeyPair(r)
	if err != nil {
		return KeyBuffer{}, err
	}
	return KeyBuffer{PublicKey: kp.PublicKey, SecretKey: kp.SecretKey}, nil
}

// EncodePair encodes kb. An absent secret stays absent.
func EncodePair(kb KeyBuffer) KeyPair {
	kp := KeyPair{PublicKey: PublicID(encode(kb.PublicKey))}
	if kb.SecretKey != nil {
		kp.SecretKey = SecretID(encode(kb.SecretKey))
	}
	return kp
}

// DecodePair decodes kp, validating key lengths.
func DecodePair(kp KeyPair) (KeyBuffer, error) {
	pub, err := DecodePublic(kp.PublicKey)
	if err != nil {
		return KeyBuffer{}, err
	}
	kb := KeyBuffer{PublicKey: pub}
	if kp.HasSecret() {
		if kb.SecretKey, err = DecodeSecret(kp.SecretKey); err != nil {
			return KeyBuffer{}, err
		}
	}
	return kb, nil
}

func DecodePublic(id PublicID) ([]byte, error) {
	return decode(string(id), PublicKeySize, "public key")
}

func DecodeSecret(id SecretID) ([]byte, error) {
	return decode(string(id), SecretKeySize, "secret key")
}

func DecodeDiscovery(id DiscoveryID) ([]byte, error) {
	return decode(string(id), DiscoveryKeySize, "discovery key")
}

// DiscoveryKey derives the discovery key of a raw public key.
func DiscoveryKey(publicKey []byte) []byte {
	h, err := blake2b.New256(publicKey)
	if err != nil {
		// Only reachable for keys over 64 bytes.
		panic(fmt.Sprintf("keys: discovery key: %v", err))
	}
	h.Write([]byte(discoveryNamespace))
	return h.Sum(nil)
}

// Discovery returns the discovery id of id.
func Discovery(id PublicID) (DiscoveryID, error) {
	pub, err := DecodePublic(id)
	if err != nil {
		return "", err
	}
	return DiscoveryID(encode(DiscoveryKey(pub))), nil
}

// ParsePublic validates s as a public id and lowercases it.
func ParsePublic(s string) (PublicID, error) {
	if _, err := DecodePublic(PublicID(s)); err != nil {
		return "", err
	}
	return PublicID(strings.ToLower(s)), nil
}

// DocID names the document owned by id.
func (id PublicID) DocID() ir.DocID { return ir.DocID(id) }

// ActorID names the writer owning id.
func (id PublicID) ActorID() ir.ActorID { return ir.ActorID(id) }

// Signing converts id to the crypto package's typed form.
func (id PublicID) Signing() (crypto.EncodedPublicSigningKey, error) {
	return crypto.Parse[crypto.PublicSigning](string(id))
}

// Signing converts id to the crypto package's typed form.
func (id SecretID) Signing() (crypto.EncodedSecretSigningKey, error) {
	return crypto.Parse[crypto.SecretSigning](string(id))
}

// FromSigning converts an encoded signing key pair into a KeyPair.
func FromSigning(kp crypto.EncodedSigningKeyPair) KeyPair {
	return KeyPair{PublicKey: PublicID(kp.PublicKey.String()), SecretKey: SecretID(kp.SecretKey.String())}
}

func encode(b []byte) string {
	return hex.EncodeToString(b)
}

func decode(s string, size int, what string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", crypto.ErrInvalidEncoding, what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", crypto.ErrInvalidKey, what, size, len(b))
	}
	return b, nil
}
