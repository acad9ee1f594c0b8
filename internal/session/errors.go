package session

import "errors"

// ErrInvalidStatus is returned when the session's current status has no
// edge for the requested action.  Callers treat it as a normal, reportable
// outcome; it is also what the loser of a concurrent transition observes.
var ErrInvalidStatus = errors.New("invalid session status")

// ErrUnauthorized is returned when the edge exists but the acting identity
// is not permitted to take it.
var ErrUnauthorized = errors.New("unauthorized session action")

// Creation preconditions.
var (
	ErrInvalidAmount      = errors.New("session amount must be greater than zero")
	ErrSameParticipant    = errors.New("expert and shopper must be different accounts")
	ErrInvalidSessionID   = errors.New("invalid session id")
	ErrUnknownParticipant = errors.New("participant cannot be resolved")
)

// ErrUnknownAction is returned for an action outside the transition table.
var ErrUnknownAction = errors.New("unknown session action")
