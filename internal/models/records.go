package models

import "time"

// Debtor is one party owing the user money.
type Debtor struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Name       string    `json:"name" db:"name"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	AmountOwed int64     `json:"amount_owed" db:"amount_owed"`
	Notes      string    `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Creditor is one party the user owes money to.
type Creditor struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	AmountDue int64     `json:"amount_due" db:"amount_due"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type InventoryItem struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Quantity  int64     `json:"quantity" db:"quantity"`
	UnitCost  int64     `json:"unit_cost" db:"unit_cost"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Receipt stores the opaque reference returned by file storage. The
// ledger never interprets its contents.
type Receipt struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	StorageRef string    `json:"storage_ref" db:"storage_ref"`
	Label      string    `json:"label,omitempty" db:"label"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
