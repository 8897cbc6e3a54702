package models

import "time"

// User is one program participant, keyed naturally by their Telegram chat
// identifier. FirstName is treated as PHI and encrypted at rest.
type User struct {
	Entity

	// TelegramID is the business key used by upsert paths; the surrogate
	// Entity.ID never leaves the persistence layer.
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Language   string `json:"language,omitempty"`

	// ConsentGivenAt records when the participant accepted the data
	// processing terms. A nil value means consent is still pending.
	ConsentGivenAt *time.Time `json:"consent_given_at,omitempty"`

	Active bool `json:"active"`
}
