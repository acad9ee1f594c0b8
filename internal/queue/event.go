// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records them.
package queue

// SessionSettledQueue is the durable queue carrying SessionSettledEvent.
const SessionSettledQueue = "session.settled"

// SessionSettledEvent is published when a session's payment has been
// verified on the ledger and both records were completed.  It contains
// enough information for downstream consumers to log, notify, or trigger
// payouts without querying the primary database.
type SessionSettledEvent struct {
	SessionID       string `json:"session_id"`
	PaymentID       string `json:"payment_id"`
	Expert          string `json:"expert"`
	Shopper         string `json:"shopper"`
	Amount          uint64 `json:"amount"`
	ExpertShare     uint64 `json:"expert_share"`
	PlatformShare   uint64 `json:"platform_share"`
	TransactionHash string `json:"transaction_hash"`
	SettledAt       string `json:"settled_at"`
}
