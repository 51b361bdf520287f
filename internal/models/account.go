package models

import "time"

// Role is the closed set of account roles. Authorization decisions
// compare against these constants, never raw strings from storage.
type Role string

const (
	RolePersonal Role = "personal"
	RoleTrader   Role = "trader"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a stored role string onto the closed set.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePersonal, RoleTrader, RoleAgent, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type User struct {
	ID                int        `json:"id" example:"1"`                   // User ID
	Username          string     `json:"username" example:"tajudeen01"`    // Unique username
	Email             string     `json:"email" example:"user@example.com"` // User email
	Role              Role       `json:"role" example:"trader"`
	RegisteredByAgent string     `json:"registered_by_agent,omitempty"` // Agent who provisioned this account
	AssistedByAgents  []string   `json:"assisted_by_agents,omitempty"`  // Agents with read access
	LastLogin         *time.Time `json:"last_login,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Account carries the cached credit balance for one user. The balance is a
// projection of ledger_entries and is only ever written by the ledger service.
type Account struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"` // whole credit units
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
