package models

import "time"

// TopUpStatus is the request lifecycle: pending is the only non-terminal
// state and a request leaves it exactly once.
type TopUpStatus string

const (
	TopUpPending  TopUpStatus = "pending"
	TopUpApproved TopUpStatus = "approved"
	TopUpDenied   TopUpStatus = "denied"
)

type TopUpRequest struct {
	ID                 string      `json:"id" db:"id"`
	UserID             string      `json:"user_id" db:"user_id"`
	Amount             int64       `json:"amount" db:"amount"`
	PaymentMethod      string      `json:"payment_method" db:"payment_method"`
	ReceiptReference   string      `json:"receipt_reference,omitempty" db:"receipt_reference"`
	Status             TopUpStatus `json:"status" db:"status"`
	AdminID            string      `json:"admin_id,omitempty" db:"admin_id"`
	FacilitatedByAgent string      `json:"facilitated_by_agent,omitempty" db:"facilitated_by_agent"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}
