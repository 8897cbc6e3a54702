package models

import "time"

// Entity carries the bookkeeping columns shared by every persisted record:
// a surrogate identifier (nil before the first insert), creation and update
// timestamps, and a nullable soft-delete timestamp.
//
// A record whose DeletedAt is non-nil is invisible to every normal query
// path; only an explicit hard delete removes the row physically.
type Entity struct {
	ID        *int64     `json:"id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Base returns the embedded Entity so generic repository code can reach the
// bookkeeping fields of any concrete record type.
func (e *Entity) Base() *Entity { return e }

// IsDeleted reports whether the record carries a soft-delete timestamp.
func (e *Entity) IsDeleted() bool { return e.DeletedAt != nil }

// Persistable is satisfied by every record type that embeds [Entity].
// The generic repository operates on pointer types implementing it.
type Persistable interface {
	Base() *Entity
}
