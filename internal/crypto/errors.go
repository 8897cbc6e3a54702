package crypto

import "errors"

// Sentinel errors returned by the encryption service. Callers should use
// [errors.Is] to match against these values.
var (
	// ErrInvalidKey is returned when a supplied master key is neither 32
	// raw bytes nor a 64-hex-character string.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrDecryptionFailed is returned when authenticated decryption fails:
	// tag mismatch, corrupted ciphertext, or wrong key. The service never
	// returns garbage plaintext in place of this error.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNotEncrypted is returned when a value handed to Decrypt does not
	// parse as an encryption envelope.
	ErrNotEncrypted = errors.New("value is not an encryption envelope")
)
