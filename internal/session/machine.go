// Package session implements the consultation lifecycle: a closed set of
// statuses and an explicit transition table stating which participant may
// move a session along which edge.  The same table is enforced by the
// on-ledger program and by the off-ledger projection.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/model"
)

// MaxIDLength bounds the caller-supplied session identifier.  The ledger
// derives the session account from it, so it must stay short.
const MaxIDLength = 50

// Action names a lifecycle operation.
type Action string

const (
	ActionStart  Action = "start"
	ActionEnd    Action = "end"
	ActionCancel Action = "cancel"
)

// Actions lists every transition action in the table.
var Actions = []Action{ActionStart, ActionEnd, ActionCancel}

// Party is a bit set of the participant roles allowed to take an edge.
type Party uint8

const (
	PartyShopper Party = 1 << iota
	PartyExpert
)

// Edge is one row of the transition table.
type Edge struct {
	From    model.SessionStatus
	To      model.SessionStatus
	Allowed Party
}

// transitions is the complete table.  Creation (none -> PENDING) is
// handled by Machine.Create.
var transitions = map[Action]Edge{
	ActionStart:  {From: model.SessionPending, To: model.SessionActive, Allowed: PartyExpert},
	ActionEnd:    {From: model.SessionActive, To: model.SessionCompleted, Allowed: PartyExpert},
	ActionCancel: {From: model.SessionPending, To: model.SessionCancelled, Allowed: PartyShopper | PartyExpert},
}

// EdgeFor returns the table row for action.
func EdgeFor(action Action) (Edge, bool) {
	e, ok := transitions[action]
	return e, ok
}

// PartyOf returns the roles identity holds in s.  It is zero for outsiders.
func PartyOf(s *model.Session, identity string) Party {
	var p Party
	if identity == "" {
		return p
	}
	if identity == s.Shopper {
		p |= PartyShopper
	}
	if identity == s.Expert {
		p |= PartyExpert
	}
	return p
}

// Check validates that actor may apply action to s without mutating it.
// The status is checked before the actor, so a session in the wrong state
// yields ErrInvalidStatus for everyone.
func Check(s *model.Session, action Action, actor string) (Edge, error) {
	e, ok := transitions[action]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if s.Status != e.From {
		return Edge{}, fmt.Errorf("%w: cannot %s a %s session", ErrInvalidStatus, action, s.Status)
	}
	if PartyOf(s, actor)&e.Allowed == 0 {
		return Edge{}, fmt.Errorf("%w: %s is not allowed to %s session %s", ErrUnauthorized, actor, action, s.ID)
	}
	return e, nil
}

// Machine applies transitions and stamps their timestamps from its own
// clock.  Callers never supply times.
type Machine struct {
	now func() time.Time
}

// NewMachine returns a Machine using now as its clock; nil means time.Now.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{now: now}
}

// Now returns the machine clock in UTC.
func (m *Machine) Now() time.Time { return m.now().UTC() }

// Create builds a new PENDING session requested by shopper.  The amount must
// be positive and the two identities must be distinct, well-formed account
// addresses.
func (m *Machine) Create(id, shopper, expert string, amount uint64) (*model.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return nil, fmt.Errorf("%w: length must be 1-%d", ErrInvalidSessionID, MaxIDLength)
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if !ledger.IsValidAddress(shopper) {
		return nil, fmt.Errorf("%w: shopper %q", ledger.ErrInvalidWalletAddress, shopper)
	}
	if !ledger.IsValidAddress(expert) {
		return nil, fmt.Errorf("%w: expert %q", ledger.ErrInvalidWalletAddress, expert)
	}
	if shopper == expert {
		return nil, ErrSameParticipant
	}
	now := m.Now()
	return &model.Session{
		ID:        id,
		Expert:    expert,
		Shopper:   shopper,
		Amount:    amount,
		Status:    model.SessionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Apply moves s along the edge for action on behalf of actor.  On success
// it returns the previous status; on failure s is left unchanged.
func (m *Machine) Apply(s *model.Session, action Action, actor string) (model.SessionStatus, error) {
	e, err := Check(s, action, actor)
	if err != nil {
		return s.Status, err
	}
	now := m.Now()
	prev := s.Status
	s.Status = e.To
	s.UpdatedAt = now
	switch e.To {
	case model.SessionActive:
		s.ActualStartTime = &now
	case model.SessionCompleted:
		s.EndTime = &now
	}
	return prev, nil
}
