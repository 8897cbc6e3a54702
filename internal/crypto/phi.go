package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
)

// Read-path sentinels. A corrupt or key-less field degrades to one of these
// visible markers instead of failing the whole entity read; the failure is
// still logged for operators.
const (
	SentinelKeyRequired      = "[encryption key required]"
	SentinelDecryptionFailed = "[decryption failed]"
)

// PHIManager is the process-wide façade over one [Service] instance that
// makes field encryption opt-in and graceful. It is constructed once at the
// composition root and injected; tests build isolated instances.
//
// With no key configured every operation passes values through unchanged,
// which allows local development without provisioning secrets — at the cost
// of storing plaintext. A startup warning is emitted in that mode.
type PHIManager struct {
	svc     *Service
	hashKey []byte
	logger  *logger.Logger
}

// NewPHIManager builds the manager from configuration. An empty master key
// disables encryption with a warning rather than failing startup.
func NewPHIManager(cfg config.Encryption, log *logger.Logger) (*PHIManager, error) {
	m := &PHIManager{logger: log}

	if cfg.HashKey != "" {
		m.hashKey = []byte(cfg.HashKey)
	}

	if cfg.MasterKey == "" {
		log.Warn().Str("func", "NewPHIManager").
			Msg("no PHI encryption key configured: sensitive fields will be stored in plaintext")
		return m, nil
	}

	key, err := KeyFromString(cfg.MasterKey)
	if err != nil {
		return nil, err
	}

	svc, err := NewService(key, m.hashKey, 1)
	if err != nil {
		return nil, err
	}
	m.svc = svc

	return m, nil
}

// NewPHIManagerWithService wires an explicit service, used by tests and by
// key-rotation commits.
func NewPHIManagerWithService(svc *Service, log *logger.Logger) *PHIManager {
	return &PHIManager{svc: svc, logger: log}
}

// Enabled reports whether a key is configured.
func (m *PHIManager) Enabled() bool { return m.svc != nil }

// Service exposes the underlying encryption service, or nil when disabled.
func (m *PHIManager) Service() *Service { return m.svc }

// EncryptField implements [FieldCipher]. Empty values pass through; with no
// key configured the plaintext passes through unchanged.
func (m *PHIManager) EncryptField(value string) (string, error) {
	if value == "" || m.svc == nil {
		return value, nil
	}

	env, err := m.svc.Encrypt(value)
	if err != nil {
		return "", err
	}
	return env.Serialize()
}

// DecryptField implements [FieldCipher]. The read path never errors:
//
//   - empty values pass through;
//   - values that do not structurally look like envelopes are returned
//     unchanged, treated as legacy plaintext from before encryption was
//     enabled;
//   - an envelope with no key configured degrades to [SentinelKeyRequired];
//   - an envelope that fails to decrypt degrades to
//     [SentinelDecryptionFailed] and is logged.
func (m *PHIManager) DecryptField(value string) string {
	if value == "" || !LooksEncrypted(value) {
		return value
	}

	if m.svc == nil {
		return SentinelKeyRequired
	}

	env, err := ParseEnvelope(value)
	if err != nil {
		return value
	}

	plaintext, err := m.svc.Decrypt(env)
	if err != nil {
		m.logger.Err(err).Str("func", "PHIManager.DecryptField").
			Int("key_version", env.KeyVersion).
			Msg("field decryption failed")
		return SentinelDecryptionFailed
	}

	return plaintext
}

// HashForLookup implements [FieldCipher]: case-normalized HMAC-SHA256 hex.
// Falls back to the service's keyed hash when no separate hash key is set;
// with nothing configured at all it degrades to an unkeyed digest, which is
// acceptable only in the same plaintext development mode.
func (m *PHIManager) HashForLookup(value string) string {
	if m.svc != nil && len(m.hashKey) == 0 {
		return m.svc.Hash(value)
	}

	normalized := strings.ToLower(strings.TrimSpace(value))
	if len(m.hashKey) > 0 {
		mac := hmac.New(sha256.New, m.hashKey)
		mac.Write([]byte(normalized))
		return hex.EncodeToString(mac.Sum(nil))
	}

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// LooksEncrypted structurally detects an encryption envelope: a JSON object
// carrying ciphertext, iv and authTag keys. The check is heuristic — a
// plaintext value that happens to be such a JSON object would be
// misclassified — but PHI columns hold free text and names, never JSON, so
// mixed plaintext/ciphertext coexistence during migration is safe.
func LooksEncrypted(value string) bool {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return false
	}

	_, hasCT := probe["ciphertext"]
	_, hasIV := probe["iv"]
	_, hasTag := probe["authTag"]
	return hasCT && hasIV && hasTag
}
