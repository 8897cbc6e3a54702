// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/pbkdf2"
)

// AlgorithmAESGCM identifies the envelope cipher: AES with a 256-bit key in
// Galois/Counter mode, 96-bit IV, 128-bit authentication tag.
const AlgorithmAESGCM = "aes-256-gcm"

const (
	keyLen  = 32
	ivLen   = 12
	tagLen  = 16
	saltLen = 16

	// pbkdf2Iterations is deliberately slow; it gates both per-call key
	// derivation and passphrase stretching.
	pbkdf2Iterations = 120_000

	// rotationThresholdBytes is the cumulative plaintext volume under one
	// key past which rotation is recommended (NIST GCM usage bound, with
	// margin).
	rotationThresholdBytes = int64(4) << 30

	// passphraseSalt domain-separates passphrase stretching from the
	// per-call salted derivation.
	passphraseSalt = "somnia-phi-master-v1"
)

// Envelope is the persisted representation of one encrypted value. All
// binary fields are base64 (standard encoding); the serialized JSON object
// is stored in place of the plaintext column value.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Salt       string `json:"salt,omitempty"`
	KeyVersion int    `json:"keyVersion"`
	Algorithm  string `json:"algorithm"`
}

// Service performs authenticated field encryption under one master key.
// Every Encrypt call draws a fresh random IV and, in derived-key mode, a
// fresh random salt, so no IV is ever reused under the same key.
type Service struct {
	masterKey  []byte
	hashKey    []byte
	keyVersion int

	// deriveKeys selects per-call PBKDF2(master, salt) keys instead of
	// using the master key directly.
	deriveKeys bool

	bytesEncrypted atomic.Int64
}

// NewService constructs a Service from a 256-bit master key. hashKey keys
// the deterministic lookup digest; when empty the master key is used.
// Derived-key mode is on by default.
func NewService(masterKey, hashKey []byte, keyVersion int) (*Service, error) {
	if len(masterKey) != keyLen {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, keyLen, len(masterKey))
	}
	if len(hashKey) == 0 {
		hashKey = masterKey
	}
	return &Service{
		masterKey:  masterKey,
		hashKey:    hashKey,
		keyVersion: keyVersion,
		deriveKeys: true,
	}, nil
}

// KeyFromString converts an operator-supplied secret into a 256-bit master
// key. A 64-hex-character string is decoded as raw key material; anything
// else is treated as a passphrase and stretched with PBKDF2 under a fixed
// internal salt.
func KeyFromString(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidKey
	}

	if len(s) == 2*keyLen {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}

	return pbkdf2.Key([]byte(s), []byte(passphraseSalt), pbkdf2Iterations, keyLen, sha256.New), nil
}

// GenerateKey returns a fresh random 256-bit key as a 64-hex-character
// string suitable for PHI_ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// callKey returns the key for one encryption or decryption operation and,
// on the encrypt path, the fresh salt that produced it.
func (s *Service) callKey(salt []byte) []byte {
	if len(salt) == 0 {
		return s.masterKey
	}
	return pbkdf2.Key(s.masterKey, salt, pbkdf2Iterations, keyLen, sha256.New)
}

// Encrypt seals plaintext into an [Envelope] under a fresh random IV (and,
// in derived-key mode, a fresh random salt).
func (s *Service) Encrypt(plaintext string) (*Envelope, error) {
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	var salt []byte
	if s.deriveKeys {
		salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	}

	block, err := aes.NewCipher(s.callKey(salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	// Seal appends the 16-byte tag to the ciphertext; the envelope stores
	// them separately.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	s.bytesEncrypted.Add(int64(len(plaintext)))

	env := &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		KeyVersion: s.keyVersion,
		Algorithm:  AlgorithmAESGCM,
	}
	if salt != nil {
		env.Salt = base64.StdEncoding.EncodeToString(salt)
	}
	return env, nil
}

// Decrypt opens an [Envelope] and returns the plaintext. Authentication
// failure, corrupted ciphertext, or a wrong key all surface as
// [ErrDecryptionFailed]; the function never returns corrupted plaintext.
func (s *Service) Decrypt(env *Envelope) (string, error) {
	if env.Algorithm != "" && env.Algorithm != AlgorithmAESGCM {
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrDecryptionFailed, env.Algorithm)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptionFailed)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivLen {
		return "", fmt.Errorf("%w: bad iv", ErrDecryptionFailed)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil || len(tag) != tagLen {
		return "", fmt.Errorf("%w: bad auth tag", ErrDecryptionFailed)
	}

	var salt []byte
	if env.Salt != "" {
		if salt, err = base64.StdEncoding.DecodeString(env.Salt); err != nil {
			return "", fmt.Errorf("%w: bad salt", ErrDecryptionFailed)
		}
	}

	block, err := aes.NewCipher(s.callKey(salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// Serialize renders the envelope as its on-disk JSON form.
func (e *Envelope) Serialize() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(raw), nil
}

// ParseEnvelope parses a stored column value back into an [Envelope].
// Returns [ErrNotEncrypted] when the value is not an envelope.
func ParseEnvelope(value string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		return nil, ErrNotEncrypted
	}
	if env.Ciphertext == "" || env.IV == "" || env.AuthTag == "" {
		return nil, ErrNotEncrypted
	}
	return &env, nil
}

// EncryptFields encrypts the named keys of values in place, skipping empty
// and absent ones. Used by bulk object paths.
func (s *Service) EncryptFields(values map[string]string, fields []string) error {
	for _, f := range fields {
		v, ok := values[f]
		if !ok || v == "" {
			continue
		}
		env, err := s.Encrypt(v)
		if err != nil {
			return fmt.Errorf("encrypting field %q: %w", f, err)
		}
		serialized, err := env.Serialize()
		if err != nil {
			return err
		}
		values[f] = serialized
	}
	return nil
}

// DecryptFields decrypts the named keys of values in place. Values that do
// not parse as envelopes are left as-is (legacy plaintext).
func (s *Service) DecryptFields(values map[string]string, fields []string) error {
	for _, f := range fields {
		v, ok := values[f]
		if !ok || v == "" {
			continue
		}
		env, err := ParseEnvelope(v)
		if err != nil {
			continue
		}
		plaintext, err := s.Decrypt(env)
		if err != nil {
			return fmt.Errorf("decrypting field %q: %w", f, err)
		}
		values[f] = plaintext
	}
	return nil
}

// Hash produces a deterministic keyed digest of value (HMAC-SHA256, hex).
// Unlike Encrypt it is stable across calls, so it can back lookup indexes
// over otherwise-encrypted fields.
func (s *Service) Hash(value string) string {
	mac := hmac.New(sha256.New, s.hashKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(mac.Sum(nil))
}

// BytesEncrypted reports the cumulative plaintext volume sealed under the
// current key.
func (s *Service) BytesEncrypted() int64 { return s.bytesEncrypted.Load() }

// RotationRecommended reports whether the cumulative volume under the
// current key has crossed the rotation threshold.
func (s *Service) RotationRecommended() bool {
	return s.bytesEncrypted.Load() >= rotationThresholdBytes
}

// KeyVersion returns the version tag stamped into produced envelopes.
func (s *Service) KeyVersion() int { return s.keyVersion }

// EncryptBytes seals an arbitrary byte stream under the master key directly,
// returning IV followed by ciphertext-with-tag. Used for whole-file snapshot
// encryption, where the JSON envelope would bloat large payloads.
func (s *Service) EncryptBytes(plaintext []byte) ([]byte, error) {
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	s.bytesEncrypted.Add(int64(len(plaintext)))
	return gcm.Seal(iv, iv, plaintext, nil), nil
}

// DecryptBytes reverses [Service.EncryptBytes]. Any corruption surfaces as
// [ErrDecryptionFailed].
func (s *Service) DecryptBytes(data []byte) ([]byte, error) {
	if len(data) < ivLen+tagLen {
		return nil, fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, data[:ivLen], data[ivLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// RotateValue re-encrypts one envelope under next's key. The receiver's own
// active key is left untouched; the caller commits to the switch by
// replacing its service reference once all values are rotated.
func (s *Service) RotateValue(env *Envelope, next *Service) (*Envelope, error) {
	plaintext, err := s.Decrypt(env)
	if err != nil {
		return nil, err
	}
	return next.Encrypt(plaintext)
}
