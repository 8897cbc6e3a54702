package models

import "time"

// Backup tiers used by the Grandfather-Father-Son rotation.
const (
	BackupTierDaily   = "daily"
	BackupTierWeekly  = "weekly"
	BackupTierMonthly = "monthly"
	BackupTierManual  = "manual"
)

// BackupMetadata is one record per completed snapshot, persisted as part of
// the JSON metadata list in the backup directory. The retention sweep reads
// the list, deletes expired files, and rewrites the list without them.
type BackupMetadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Engine is the source engine type ("sqlite" or "postgres").
	Engine string `json:"engine"`

	// Source is the live store location the snapshot was taken from;
	// Path is the snapshot file on disk.
	Source string `json:"source"`
	Path   string `json:"path"`

	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`

	Encrypted  bool `json:"encrypted"`
	Compressed bool `json:"compressed"`

	// CloudKey is the object key in the remote store when the snapshot was
	// uploaded, empty otherwise.
	CloudKey string `json:"cloud_key,omitempty"`

	// Tier tags the snapshot for GFS retention.
	Tier string `json:"tier"`

	RetentionDays int       `json:"retention_days"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the snapshot has passed its retention window.
// A zero ExpiresAt means the snapshot is kept until an operator removes it.
func (b *BackupMetadata) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}
