package crypto

import "errors"

var (
	// ErrAuthentication is returned when a box or sealed box cannot be
	// opened: wrong keys, wrong nonce, or tampered ciphertext.
	ErrAuthentication = errors.New("crypto: authentication failed")

	// ErrInvalidEncoding is returned for strings that are not hex.
	ErrInvalidEncoding = errors.New("crypto: invalid encoding")

	// ErrInvalidKey is returned for material of the wrong length.
	ErrInvalidKey = errors.New("crypto: invalid key length")

	// ErrBadSignature is returned by VerifiedMessage for a signature that
	// does not verify.
	ErrBadSignature = errors.New("crypto: bad signature")
)
