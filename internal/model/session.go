package model

import "time"

// SessionStatus is the lifecycle state of a consultation session.  The set
// is closed: PENDING is initial, COMPLETED and CANCELLED are terminal.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// SessionStatuses lists every status in lifecycle order.
var SessionStatuses = []SessionStatus{SessionPending, SessionActive, SessionCompleted, SessionCancelled}

// Terminal reports whether no further transition is possible from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// Session records a single paid consultation between a shopper and an
// expert.  Expert and Shopper are base58 account identities; they are
// references only and are never changed after creation.  Amount is the
// gross price in the ledger's smallest unit (lamports) and is fixed at
// creation.
//
// Fields:
//  ID              – caller-supplied session identifier (sessions.id).
//  Expert          – expert account identity.
//  Shopper         – shopper account identity.
//  Amount          – gross amount in lamports.
//  Status          – lifecycle state.
//  CreatedAt       – request time of creation.
//  ActualStartTime – set when the session enters ACTIVE.
//  EndTime         – set when the session enters COMPLETED.
//  UpdatedAt       – last modification.
type Session struct {
	ID              string        `json:"id"`                          // sessions.id
	Expert          string        `json:"expert"`                      // sessions.expert
	Shopper         string        `json:"shopper"`                     // sessions.shopper
	Amount          uint64        `json:"amount"`                      // sessions.amount
	Status          SessionStatus `json:"status"`                      // sessions.status
	CreatedAt       time.Time     `json:"created_at"`                  // sessions.created_at
	ActualStartTime *time.Time    `json:"actual_start_time,omitempty"` // sessions.actual_start_time (nullable)
	EndTime         *time.Time    `json:"end_time,omitempty"`          // sessions.end_time (nullable)
	UpdatedAt       time.Time     `json:"updated_at"`                  // sessions.updated_at
}

// IsParticipant reports whether identity is the shopper or the expert.
func (s *Session) IsParticipant(identity string) bool {
	return identity != "" && (identity == s.Expert || identity == s.Shopper)
}
