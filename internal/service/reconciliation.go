package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/metrics"
	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/queue"
	"github.com/iliyamo/consultation-settlement/internal/repository"
	"github.com/iliyamo/consultation-settlement/internal/session"
	"github.com/iliyamo/consultation-settlement/internal/settlement"
)

// ErrPaymentRejected is returned when the ledger transaction exists but does
// not match the claim (amount outside tolerance or recipient not involved).
// The payment record has been marked FAILED.
var ErrPaymentRejected = errors.New("payment does not match the session")

// Verifier checks a claimed ledger transaction.  *ledger.Verifier
// implements it.
type Verifier interface {
	Verify(ctx context.Context, signature string, expected uint64, recipient string) (bool, error)
}

// Claim asks to settle a session with a ledger transaction.  Actor is the
// authenticated caller; System marks claims raised by the payment webhook,
// which carry no participant identity.
type Claim struct {
	SessionID string
	Signature string
	Actor     string
	System    bool
}

// Result describes the state of a session's payment after reconciliation.
type Result struct {
	SessionID string               `json:"session_id"`
	Status    model.PaymentStatus  `json:"status"`
	Replayed  bool                 `json:"replayed"`
	Split     *settlement.Split    `json:"split,omitempty"`
	Payment   *model.PaymentRecord `json:"payment"`
	Session   *model.Session       `json:"session"`
}

// publishTimeout bounds the session.settled publish after commit.
const publishTimeout = 5 * time.Second

// Reconciler binds verified ledger transactions to payment records.
type Reconciler struct {
	Sessions  *repository.SessionRepo
	Payments  *repository.PaymentRepo
	Verifier  Verifier
	Publisher EventPublisher
	Machine   *session.Machine
	Log       *slog.Logger
}

// NewReconciler wires a Reconciler.  publisher may be nil.
func NewReconciler(sessions *repository.SessionRepo, payments *repository.PaymentRepo, verifier Verifier, publisher EventPublisher, machine *session.Machine, logger *slog.Logger) *Reconciler {
	if sessions == nil || payments == nil || verifier == nil {
		panic("nil dependency passed to NewReconciler")
	}
	if machine == nil {
		machine = session.NewMachine(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Sessions: sessions, Payments: payments, Verifier: verifier, Publisher: publisher, Machine: machine, Log: logger.With("component", "reconciler")}
}

func (r *Reconciler) load(ctx context.Context, sessionID string) (*model.Session, *model.PaymentRecord, error) {
	sess, err := r.Sessions.GetByID(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	pay, err := r.Payments.GetBySessionID(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return sess, pay, nil
}

func replay(sess *model.Session, pay *model.PaymentRecord) *Result {
	split := settlement.Compute(pay.Amount)
	return &Result{SessionID: sess.ID, Status: pay.Status, Replayed: true, Split: &split, Payment: pay, Session: sess}
}

// Reconcile verifies the claimed transaction and, when it matches, completes
// the payment record and the session in one transaction.  Reprocessing a
// completed payment returns the prior result without side effects; only
// the session's shopper (or the webhook) receives it.  No
// lock is held while the ledger is consulted.
func (r *Reconciler) Reconcile(ctx context.Context, c Claim) (*Result, error) {
	res, err := r.reconcile(ctx, c)
	switch {
	case err == nil && res.Replayed:
		metrics.RecordReconciliation("replayed")
	case err == nil:
		metrics.RecordReconciliation("completed")
	case errors.Is(err, ErrPaymentRejected):
		metrics.RecordReconciliation("rejected")
	default:
		metrics.RecordReconciliation(ledger.Kind(err))
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, c Claim) (*Result, error) {
	if !ledger.IsValidSignature(c.Signature) {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidSignatureFormat, c.Signature)
	}
	sess, pay, err := r.load(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}
	if !c.System && c.Actor != sess.Shopper {
		return nil, fmt.Errorf("%w: only the session's shopper can submit its payment", session.ErrUnauthorized)
	}
	if pay.Status == model.PaymentCompleted {
		return replay(sess, pay), nil
	}
	if sess.Status != model.SessionActive {
		return nil, fmt.Errorf("%w: cannot settle a %s session", session.ErrInvalidStatus, sess.Status)
	}
	// Only a completed payment owns its signature.  A failed claim elsewhere
	// is released when this session settles.
	if bound, err := r.Payments.GetByTransactionHash(ctx, c.Signature); err == nil {
		if bound.SessionID != sess.ID && bound.Status == model.PaymentCompleted {
			return nil, repository.ErrSignatureReused
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	ok, verr := r.Verifier.Verify(ctx, c.Signature, sess.Amount, sess.Expert)
	switch {
	case verr != nil && ledger.IsDefinitive(verr):
		res, err := r.fail(ctx, sess, c.Signature)
		if err != nil {
			return nil, err
		}
		if res.Replayed {
			return res, nil
		}
		return res, verr
	case verr != nil:
		r.Log.Warn("verification inconclusive", "session_id", sess.ID, "signature", c.Signature,
			"retriable", ledger.IsRetriable(verr), "err", verr)
		return nil, verr
	case !ok:
		res, err := r.fail(ctx, sess, c.Signature)
		if err != nil {
			return nil, err
		}
		if res.Replayed {
			return res, nil
		}
		return res, ErrPaymentRejected
	}
	return r.settle(ctx, sess.ID, c.Signature)
}

// fail marks the payment FAILED with signature.  If a concurrent
// reconciliation completed the payment first, the completed result is
// returned instead.
func (r *Reconciler) fail(ctx context.Context, sess *model.Session, signature string) (*Result, error) {
	err := r.Payments.MarkFailed(ctx, sess.ID, signature, r.Machine.Now())
	if errors.Is(err, repository.ErrConflict) {
		s, p, lerr := r.load(ctx, sess.ID)
		if lerr != nil {
			return nil, lerr
		}
		return replay(s, p), nil
	}
	if err != nil {
		return nil, err
	}
	r.Log.Warn("payment marked failed", "session_id", sess.ID, "signature", signature)
	pay, err := r.Payments.GetBySessionID(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return &Result{SessionID: sess.ID, Status: pay.Status, Payment: pay, Session: sess}, nil
}

func (r *Reconciler) settle(ctx context.Context, sessionID, signature string) (*Result, error) {
	tx, err := r.Sessions.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	sess, err := r.Sessions.GetByIDForUpdateTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	pay, err := r.Payments.GetBySessionIDForUpdateTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if pay.Status == model.PaymentCompleted {
		return replay(sess, pay), nil
	}
	// the session's own end edge, taken on the expert's behalf
	prev, err := r.Machine.Apply(sess, session.ActionEnd, sess.Expert)
	if err != nil {
		return nil, err
	}
	if err := r.Sessions.UpdateStatusTx(ctx, tx, sess, prev); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: session %s changed concurrently", session.ErrInvalidStatus, sessionID)
		}
		return nil, err
	}
	now := *sess.EndTime
	if err := r.Payments.ReleaseHashTx(ctx, tx, signature, sessionID, now); err != nil {
		return nil, err
	}
	if err := r.Payments.CompleteTx(ctx, tx, sessionID, signature, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	hash := signature
	pay.Status = model.PaymentCompleted
	pay.TransactionHash = &hash
	pay.UpdatedAt = now
	split := settlement.Compute(sess.Amount)

	r.Log.Info("session settled", "session_id", sessionID, "signature", signature,
		"expert_share", split.Expert, "platform_share", split.Platform)
	r.publish(ctx, sess, pay, split, now)
	return &Result{SessionID: sessionID, Status: pay.Status, Split: &split, Payment: pay, Session: sess}, nil
}

func (r *Reconciler) publish(ctx context.Context, sess *model.Session, pay *model.PaymentRecord, split settlement.Split, at time.Time) {
	if r.Publisher == nil {
		return
	}
	ev := queue.SessionSettledEvent{
		SessionID:       sess.ID,
		PaymentID:       pay.ID,
		Expert:          sess.Expert,
		Shopper:         sess.Shopper,
		Amount:          sess.Amount,
		ExpertShare:     split.Expert,
		PlatformShare:   split.Platform,
		TransactionHash: pay.Signature(),
		SettledAt:       at.UTC().Format(time.RFC3339),
	}
	// the settlement is committed; the event must not die with the request
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.Publisher.PublishSessionSettled(ctx, ev); err != nil {
		r.Log.Error("publish session.settled failed", "session_id", sess.ID, "err", err)
	}
}

// Webhook is a payment provider notification.  SessionID is optional and
// lets a provider report a transaction that was never claimed.
type Webhook struct {
	TransactionHash string `json:"transaction_hash"`
	Status          string `json:"status"`
	SessionID       string `json:"session_id,omitempty"`
}

// HandleWebhook applies a payment notification.  "completed" re-runs
// reconciliation, so a record only becomes COMPLETED through verification;
// other statuses are stored as FAILED or PENDING.  COMPLETED records are
// never downgraded.
func (r *Reconciler) HandleWebhook(ctx context.Context, w Webhook) (*Result, error) {
	status := model.PaymentStatusFromWebhook(w.Status)
	metrics.RecordWebhook(string(status))

	pay, err := r.Payments.GetByTransactionHash(ctx, w.TransactionHash)
	switch {
	case errors.Is(err, sql.ErrNoRows) && w.SessionID != "" && status == model.PaymentCompleted:
		return r.Reconcile(ctx, Claim{SessionID: w.SessionID, Signature: w.TransactionHash, System: true})
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}

	if pay.Status == model.PaymentCompleted {
		sess, err := r.Sessions.GetByID(ctx, pay.SessionID)
		if err != nil {
			return nil, err
		}
		return replay(sess, pay), nil
	}
	if status == model.PaymentCompleted {
		// the record holding the hash may be a failed claim by another session
		target := pay.SessionID
		if w.SessionID != "" {
			target = w.SessionID
		}
		return r.Reconcile(ctx, Claim{SessionID: target, Signature: w.TransactionHash, System: true})
	}

	err = r.Payments.SetStatusByHash(ctx, w.TransactionHash, status, r.Machine.Now())
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return nil, err
	}
	sess, pay, err := r.load(ctx, pay.SessionID)
	if err != nil {
		return nil, err
	}
	r.Log.Info("payment webhook applied", "session_id", sess.ID, "status", pay.Status)
	return &Result{SessionID: sess.ID, Status: pay.Status, Replayed: pay.Status == model.PaymentCompleted, Payment: pay, Session: sess}, nil
}
