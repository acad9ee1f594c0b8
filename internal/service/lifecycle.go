// Package service implements the off-ledger side of the marketplace: the
// session lifecycle persisted in MySQL and the reconciliation of claimed
// ledger payments.  Every state change runs inside a SQL transaction that
// locks the affected rows and updates them conditionally on their
// previous status.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/consultation-settlement/internal/metrics"
	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/repository"
	"github.com/iliyamo/consultation-settlement/internal/session"
)

// ErrNotFound is returned for unknown sessions and payment records.
var ErrNotFound = errors.New("not found")

// IdentityResolver maps a wallet address to an active account with a role.
// *repository.UserRepo implements it.
type IdentityResolver interface {
	Resolve(ctx context.Context, wallet, role string) (model.User, error)
}

// CreateSessionRequest describes a session requested by a shopper.  An
// empty ID is replaced by a generated UUID.
type CreateSessionRequest struct {
	ID     string `json:"session_id"`
	Expert string `json:"expert"`
	Amount uint64 `json:"amount"`
}

// SessionService performs lifecycle operations on behalf of an
// authenticated participant.
type SessionService struct {
	Sessions *repository.SessionRepo
	Payments *repository.PaymentRepo
	Users    IdentityResolver
	Machine  *session.Machine
	Log      *slog.Logger
}

// NewSessionService wires a SessionService.  All repositories must be
// non-nil.
func NewSessionService(sessions *repository.SessionRepo, payments *repository.PaymentRepo, users IdentityResolver, machine *session.Machine, logger *slog.Logger) *SessionService {
	if sessions == nil || payments == nil || users == nil {
		panic("nil repository passed to NewSessionService")
	}
	if machine == nil {
		machine = session.NewMachine(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{Sessions: sessions, Payments: payments, Users: users, Machine: machine, Log: logger.With("component", "session_service")}
}

// Create validates the request, resolves both participants and stores the
// new PENDING session together with its PENDING payment record.
func (s *SessionService) Create(ctx context.Context, shopper string, req CreateSessionRequest) (*model.Session, *model.PaymentRecord, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	sess, err := s.Machine.Create(id, shopper, req.Expert, req.Amount)
	if err != nil {
		return nil, nil, err
	}
	if err := s.resolve(ctx, shopper, model.RoleShopper); err != nil {
		return nil, nil, err
	}
	if err := s.resolve(ctx, req.Expert, model.RoleExpert); err != nil {
		return nil, nil, err
	}

	pay := &model.PaymentRecord{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Amount:    sess.Amount,
		Status:    model.PaymentPending,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.CreatedAt,
	}

	tx, err := s.Sessions.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := s.Sessions.CreateTx(ctx, tx, sess); err != nil {
		return nil, nil, err
	}
	if err := s.Payments.CreateTx(ctx, tx, pay); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	committed = true

	s.Log.Info("session created", "session_id", sess.ID, "shopper", shopper, "expert", sess.Expert, "amount", sess.Amount)
	return sess, pay, nil
}

func (s *SessionService) resolve(ctx context.Context, wallet, role string) error {
	if _, err := s.Users.Resolve(ctx, wallet, role); err != nil {
		if errors.Is(err, repository.ErrUnknownUser) {
			return fmt.Errorf("%w: %s %s", session.ErrUnknownParticipant, strings.ToLower(role), wallet)
		}
		return err
	}
	return nil
}

// Get returns a session visible to caller.
func (s *SessionService) Get(ctx context.Context, id, caller string) (*model.Session, error) {
	sess, err := s.Sessions.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(caller) {
		return nil, repository.ErrForbidden
	}
	return sess, nil
}

// Payment returns the payment record of a session visible to caller.
func (s *SessionService) Payment(ctx context.Context, id, caller string) (*model.PaymentRecord, error) {
	if _, err := s.Get(ctx, id, caller); err != nil {
		return nil, err
	}
	p, err := s.Payments.GetBySessionID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// List returns the sessions caller participates in.
func (s *SessionService) List(ctx context.Context, caller string, limit, offset int) ([]model.Session, error) {
	return s.Sessions.ListByParticipant(ctx, caller, limit, offset)
}

// History returns the payment records of caller's sessions.
func (s *SessionService) History(ctx context.Context, caller string, limit, offset int) ([]repository.PaymentHistoryEntry, error) {
	return s.Payments.ListByParticipant(ctx, caller, limit, offset)
}

// Start moves a PENDING session to ACTIVE on behalf of its expert.
func (s *SessionService) Start(ctx context.Context, id, actor string) (*model.Session, error) {
	return s.transition(ctx, id, session.ActionStart, actor)
}

// End moves an ACTIVE session to COMPLETED on behalf of its expert.
func (s *SessionService) End(ctx context.Context, id, actor string) (*model.Session, error) {
	return s.transition(ctx, id, session.ActionEnd, actor)
}

// Cancel cancels a PENDING session on behalf of either participant.
func (s *SessionService) Cancel(ctx context.Context, id, actor string) (*model.Session, error) {
	return s.transition(ctx, id, session.ActionCancel, actor)
}

func (s *SessionService) transition(ctx context.Context, id string, action session.Action, actor string) (*model.Session, error) {
	tx, err := s.Sessions.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	sess, err := s.Sessions.GetByIDForUpdateTx(ctx, tx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	prev, err := s.Machine.Apply(sess, action, actor)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.UpdateStatusTx(ctx, tx, sess, prev); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: session %s changed concurrently", session.ErrInvalidStatus, id)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	metrics.RecordTransition(string(action))
	s.Log.Info("session transition", "session_id", id, "action", action, "actor", actor, "from", prev, "to", sess.Status)
	return sess, nil
}
