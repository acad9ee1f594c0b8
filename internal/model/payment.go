package model

import "time"

// PaymentStatus is the state of a settlement attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentStatusFromWebhook maps a webhook status string to a PaymentStatus.
// Unknown values map to PENDING so that they are never silently dropped.
func PaymentStatusFromWebhook(s string) PaymentStatus {
	switch s {
	case "completed":
		return PaymentCompleted
	case "failed":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// PaymentRecord is the off-ledger projection of a session's settlement
// attempt.  There is exactly one record per session; it is created PENDING
// together with the session and later carries the ledger signature that
// was submitted as proof of payment.
//
// Fields:
//  ID              – primary key (UUID).
//  SessionID       – owning session, unique.
//  Amount          – expected amount in lamports (equals Session.Amount).
//  TransactionHash – ledger signature of the claimed transfer, if any.
//  Status          – PENDING, COMPLETED or FAILED.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type PaymentRecord struct {
	ID              string        `json:"id"`                         // payments.id
	SessionID       string        `json:"session_id"`                 // payments.session_id
	Amount          uint64        `json:"amount"`                     // payments.amount
	TransactionHash *string       `json:"transaction_hash,omitempty"` // payments.transaction_hash (nullable)
	Status          PaymentStatus `json:"status"`                     // payments.status
	CreatedAt       time.Time     `json:"created_at"`                 // payments.created_at
	UpdatedAt       time.Time     `json:"updated_at"`                 // payments.updated_at
}

// Signature returns the recorded transaction hash or "".
func (p *PaymentRecord) Signature() string {
	if p.TransactionHash == nil {
		return ""
	}
	return *p.TransactionHash
}
