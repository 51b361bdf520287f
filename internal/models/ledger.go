package models

import (
	"time"
)

// EntryType tags why a balance moved.
type EntryType string

const (
	EntrySpend       EntryType = "spend"
	EntryAdd         EntryType = "add"
	EntryCredit      EntryType = "credit"
	EntrySignupBonus EntryType = "signup_bonus"
)

// LedgerEntry is one immutable balance mutation. The ledger is the source of
// truth for balances; accounts.balance is kept consistent with it inside the
// same database transaction.
type LedgerEntry struct {
	ID            int       `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Amount        int64     `json:"amount" db:"amount"` // signed, positive=credit
	EntryType     EntryType `json:"entry_type" db:"entry_type"`
	Ref           string    `json:"ref" db:"ref"` // human-readable provenance, not a key
	FacilitatedBy string    `json:"facilitated_by" db:"facilitated_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// AuditLogEntry records an administrative or system action, separate from
// money movement. Every ledger mutation also writes one of these.
type AuditLogEntry struct {
	ID        int       `json:"id" db:"id"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	Action    string    `json:"action" db:"action"`
	Details   string    `json:"details" db:"details"` // JSON string
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
