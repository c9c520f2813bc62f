package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generate(t *testing.T, kind string) KeyPairOutput {
	t.Helper()
	code, resp := runJSON(t, "keys", kind)
	require.Equal(t, ExitSuccess, code)
	var kp KeyPairOutput
	decode(t, resp.Data, &kp)
	require.Equal(t, kind, kp.Kind)
	return kp
}

func TestKeys_Signing(t *testing.T) {
	kp := generate(t, "signing")
	assert.Len(t, kp.PublicKey, 64)
	assert.Len(t, kp.SecretKey, 128)
	assert.Len(t, kp.DiscoveryID, 64)

	code, resp := runJSON(t, "keys", "discovery", kp.PublicKey)
	require.Equal(t, ExitSuccess, code)
	var d DiscoveryOutput
	decode(t, resp.Data, &d)
	assert.Equal(t, kp.DiscoveryID, d.DiscoveryID)

	code, stdout, _ := run(t, "keys", "discovery", strings.ToUpper(kp.PublicKey))
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, kp.DiscoveryID+"\n", stdout)
}

func TestKeys_Encryption(t *testing.T) {
	kp := generate(t, "encryption")
	assert.Len(t, kp.PublicKey, 64)
	assert.Len(t, kp.SecretKey, 64)
	assert.Empty(t, kp.DiscoveryID)

	code, stdout, _ := run(t, "keys", "encryption")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "public:")
	assert.Contains(t, stdout, "secret:")
	assert.NotContains(t, stdout, "discovery:")
}

func TestKeys_DiscoveryRejectsBadKey(t *testing.T) {
	code, resp := runJSON(t, "keys", "discovery", "not-hex")
	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidKey, resp.Error.Code)

	code, resp = runJSON(t, "keys", "discovery", "abcd")
	assert.Equal(t, ExitCommandError, code)
	assert.Equal(t, ErrCodeInvalidKey, resp.Error.Code)
}

func TestSignVerify(t *testing.T) {
	kp := generate(t, "signing")

	code, resp := runJSON(t, "sign", "--secret", kp.SecretKey, "hello")
	require.Equal(t, ExitSuccess, code)
	var signed SignOutput
	decode(t, resp.Data, &signed)
	assert.Equal(t, "hello", signed.Message)
	assert.Len(t, signed.Signature, 128)

	code, resp = runJSON(t, "verify", "--public", kp.PublicKey, "--signature", signed.Signature, "hello")
	require.Equal(t, ExitSuccess, code)
	var verified VerifyOutput
	decode(t, resp.Data, &verified)
	assert.True(t, verified.Valid)

	t.Run("tampered message", func(t *testing.T) {
		code, resp := runJSON(t, "verify", "--public", kp.PublicKey, "--signature", signed.Signature, "hellO")
		assert.Equal(t, ExitFailure, code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeBadSignature, resp.Error.Code)
	})

	t.Run("other signer", func(t *testing.T) {
		other := generate(t, "signing")
		code, _, stderr := run(t, "verify", "--public", other.PublicKey, "--signature", signed.Signature, "hello")
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stderr, "Error [E202]")
	})

	t.Run("missing flag", func(t *testing.T) {
		code, resp := runJSON(t, "sign", "hello")
		assert.Equal(t, ExitCommandError, code)
		assert.Equal(t, ErrCodeUsage, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "--secret is required")
	})

	t.Run("public key as secret", func(t *testing.T) {
		code, resp := runJSON(t, "sign", "--secret", kp.PublicKey, "hello")
		assert.Equal(t, ExitCommandError, code)
		assert.Equal(t, ErrCodeInvalidKey, resp.Error.Code)
	})
}

func TestSealUnseal(t *testing.T) {
	kp := generate(t, "encryption")

	code, resp := runJSON(t, "seal", "--public", kp.PublicKey, "secret note")
	require.Equal(t, ExitSuccess, code)
	var sealed CiphertextOutput
	decode(t, resp.Data, &sealed)
	require.NotEmpty(t, sealed.Ciphertext)

	code, resp = runJSON(t, "unseal", "--public", kp.PublicKey, "--secret", kp.SecretKey, sealed.Ciphertext)
	require.Equal(t, ExitSuccess, code)
	var plain PlaintextOutput
	decode(t, resp.Data, &plain)
	assert.Equal(t, "secret note", plain.Message)

	other := generate(t, "encryption")
	code, resp = runJSON(t, "unseal", "--public", other.PublicKey, "--secret", other.SecretKey, sealed.Ciphertext)
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAuth, resp.Error.Code)
}

func TestBoxUnbox(t *testing.T) {
	sender := generate(t, "encryption")
	recipient := generate(t, "encryption")

	code, resp := runJSON(t, "box", "--secret", sender.SecretKey, "--recipient", recipient.PublicKey, "for you")
	require.Equal(t, ExitSuccess, code)
	var boxed BoxOutput
	decode(t, resp.Data, &boxed)
	assert.Len(t, boxed.Nonce, 48)

	code, stdout, _ := run(t, "unbox", "--sender", sender.PublicKey, "--secret", recipient.SecretKey, "--nonce", boxed.Nonce, boxed.Message)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "for you\n", stdout)

	t.Run("wrong sender", func(t *testing.T) {
		code, resp := runJSON(t, "unbox", "--sender", recipient.PublicKey, "--secret", recipient.SecretKey, "--nonce", boxed.Nonce, boxed.Message)
		assert.Equal(t, ExitFailure, code)
		assert.Equal(t, ErrCodeAuth, resp.Error.Code)
	})

	t.Run("short nonce", func(t *testing.T) {
		code, resp := runJSON(t, "unbox", "--sender", sender.PublicKey, "--secret", recipient.SecretKey, "--nonce", "00ff", boxed.Message)
		assert.Equal(t, ExitCommandError, code)
		assert.Equal(t, ErrCodeInvalidKey, resp.Error.Code)
	})
}
