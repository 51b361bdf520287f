package models

import "time"

// TempCredential is the single-use login secret handed to a trader at
// agent registration. Only the hash is stored; rows auto-expire and a
// reaper deletes them, independent of the indefinite ledger retention.
type TempCredential struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Secret    string    `json:"secret,omitempty"` // plaintext, present only at issue time
	Used      bool      `json:"used" db:"used"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
