// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

// Package crypto implements field-level authenticated encryption for
// sensitive health fields: an AES-256-GCM envelope service with PBKDF2 key
// derivation and rotation tracking, and the process-wide PHI manager façade
// that makes encryption opt-in and tolerant of legacy plaintext.
package crypto

// FieldCipher is the contract repositories use to protect PHI columns.
// [PHIManager] is the production implementation; tests may substitute a
// pass-through.
type FieldCipher interface {
	// EncryptField encrypts one column value on the write path. Empty
	// values pass through unchanged.
	EncryptField(value string) (string, error)

	// DecryptField decrypts one column value on the read path. Values
	// that do not look like envelopes pass through as legacy plaintext;
	// failures degrade to sentinel strings, never errors.
	DecryptField(value string) string

	// HashForLookup produces a deterministic keyed digest usable as an
	// equality key over an otherwise-encrypted field.
	HashForLookup(value string) string
}
