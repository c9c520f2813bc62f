package keys

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoffreylitt/hypermerge/internal/crypto"
	"github.com/geoffreylitt/hypermerge/internal/testutil"
)

func TestCreate(t *testing.T) {
	kp, err := Create()
	require.NoError(t, err)
	assert.Len(t, string(kp.PublicKey), 64)
	assert.Len(t, string(kp.SecretKey), 128)
	assert.True(t, kp.HasSecret())

	other, err := Create()
	require.NoError(t, err)
	assert.NotEqual(t, kp.PublicKey, other.PublicKey)
}

func TestEncodeDecodePair(t *testing.T) {
	kb, err := Generate(testutil.DeterministicReader("doc"))
	require.NoError(t, err)

	kp := EncodePair(kb)
	back, err := DecodePair(kp)
	require.NoError(t, err)
	assert.Equal(t, kb, back)
}

func TestEncodePair_WithoutSecret(t *testing.T) {
	kb, err := Generate(testutil.DeterministicReader("doc"))
	require.NoError(t, err)
	kb.SecretKey = nil

	kp := EncodePair(kb)
	assert.False(t, kp.HasSecret())

	data, err := json.Marshal(kp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secretKey")

	back, err := DecodePair(kp)
	require.NoError(t, err)
	assert.Nil(t, back.SecretKey)
}

func TestDecodePair_Invalid(t *testing.T) {
	_, err := DecodePair(KeyPair{PublicKey: "xyz"})
	assert.ErrorIs(t, err, crypto.ErrInvalidEncoding)

	_, err = DecodePair(KeyPair{PublicKey: PublicID(strings.Repeat("ab", 31))})
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	kb, err := Generate(testutil.DeterministicReader("doc"))
	require.NoError(t, err)
	kp := EncodePair(kb)
	kp.SecretKey = kp.SecretKey[:64]
	_, err = DecodePair(kp)
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestDiscoveryKey(t *testing.T) {
	a, err := Generate(testutil.DeterministicReader("a"))
	require.NoError(t, err)
	b, err := Generate(testutil.DeterministicReader("b"))
	require.NoError(t, err)

	da := DiscoveryKey(a.PublicKey)
	assert.Len(t, da, DiscoveryKeySize)
	assert.Equal(t, da, DiscoveryKey(a.PublicKey))
	assert.NotEqual(t, da, DiscoveryKey(b.PublicKey))
	assert.False(t, bytes.Equal(da, a.PublicKey))

	id, err := Discovery(EncodePair(a).PublicKey)
	require.NoError(t, err)
	raw, err := DecodeDiscovery(id)
	require.NoError(t, err)
	assert.Equal(t, da, raw)
}

func TestParsePublic_CaseInsensitive(t *testing.T) {
	kp, err := Create()
	require.NoError(t, err)

	got, err := ParsePublic(strings.ToUpper(string(kp.PublicKey)))
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, got)
}

func TestSigningInterop(t *testing.T) {
	kp, err := Create()
	require.NoError(t, err)

	sk, err := kp.SecretKey.Signing()
	require.NoError(t, err)
	pk, err := kp.PublicKey.Signing()
	require.NoError(t, err)

	sm, err := crypto.Sign(sk, []byte("doc genesis"))
	require.NoError(t, err)
	assert.True(t, crypto.Verify(pk, sm))

	enc, err := crypto.NewEncodedSigningKeyPair()
	require.NoError(t, err)
	assert.Equal(t, enc.PublicKey.String(), string(FromSigning(enc).PublicKey))
	assert.Equal(t, string(kp.PublicKey), string(kp.PublicKey.ActorID()))
	assert.Equal(t, string(kp.PublicKey), string(kp.PublicKey.DocID()))
}
