package models

import "time"

// AuditAction is the kind of data-touching action recorded in the audit log.
type AuditAction string

// Audit action kinds. The set mirrors the operations the persistence layer
// performs on behalf of the application.
const (
	AuditActionCreate    AuditAction = "create"
	AuditActionRead      AuditAction = "read"
	AuditActionUpdate    AuditAction = "update"
	AuditActionDelete    AuditAction = "delete"
	AuditActionConsent   AuditAction = "consent"
	AuditActionAuth      AuditAction = "auth"
	AuditActionExport    AuditAction = "export"
	AuditActionErase     AuditAction = "erase"
	AuditActionPHIAccess AuditAction = "phi_access"
)

// AuditEntry is one immutable record of a data-touching action. Entries are
// append-only: nothing updates or deletes them except the retention cleanup
// job, which is time-gated and independent of any record's lifecycle.
type AuditEntry struct {
	ID *int64 `json:"id,omitempty"`

	// UserID is the acting user, when one is known.
	UserID *int64 `json:"user_id,omitempty"`

	Action     AuditAction `json:"action"`
	EntityType string      `json:"entity_type"`
	EntityID   *int64      `json:"entity_id,omitempty"`

	// OldValue and NewValue are snapshots of the record before/after the
	// action. Sensitive keys are redacted before persisting.
	OldValue map[string]any `json:"old_value,omitempty"`
	NewValue map[string]any `json:"new_value,omitempty"`

	// Client metadata, when the action originated from a request.
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
