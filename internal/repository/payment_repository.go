package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/consultation-settlement/internal/model"
)

// PaymentRepo persists payment records in the payments table.  There is
// one record per session (payments.session_id is unique) and a transaction
// hash can be bound to at most one record (payments.transaction_hash is
// unique); a failed record gives its hash up when another session settles
// with it.  A COMPLETED record is never modified again: every update below
// carries a status <> 'COMPLETED' predicate.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, session_id, amount, transaction_hash, status, created_at, updated_at`

func scanPayment(row rowScanner) (*model.PaymentRecord, error) {
	var p model.PaymentRecord
	var hash sql.NullString
	if err := row.Scan(&p.ID, &p.SessionID, &p.Amount, &hash, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if hash.Valid {
		h := hash.String
		p.TransactionHash = &h
	}
	return &p, nil
}

// CreateTx inserts a payment record within the scope of an existing
// transaction.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.PaymentRecord) error {
	const q = `INSERT INTO payments (id, session_id, amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, p.ID, p.SessionID, p.Amount, p.Status, p.CreatedAt, p.UpdatedAt)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

// GetBySessionID returns the payment record of a session or sql.ErrNoRows.
func (r *PaymentRepo) GetBySessionID(ctx context.Context, sessionID string) (*model.PaymentRecord, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = ?`, sessionID))
}

// GetBySessionIDForUpdateTx loads and locks the payment record of a session.
func (r *PaymentRepo) GetBySessionIDForUpdateTx(ctx context.Context, tx *sql.Tx, sessionID string) (*model.PaymentRecord, error) {
	return scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = ? FOR UPDATE`, sessionID))
}

// GetByTransactionHash returns the record bound to hash or sql.ErrNoRows.
func (r *PaymentRepo) GetByTransactionHash(ctx context.Context, hash string) (*model.PaymentRecord, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_hash = ?`, hash))
}

// CompleteTx marks the session's payment COMPLETED with the verified hash.
// It returns ErrConflict if the record was already COMPLETED and
// ErrSignatureReused if hash belongs to another record.
func (r *PaymentRepo) CompleteTx(ctx context.Context, tx *sql.Tx, sessionID, hash string, now time.Time) error {
	const q = `UPDATE payments SET status = ?, transaction_hash = ?, updated_at = ? WHERE session_id = ? AND status <> ?`
	return r.conditional(tx.ExecContext(ctx, q, model.PaymentCompleted, hash, now, sessionID, model.PaymentCompleted))
}

// ReleaseHashTx detaches hash from every record of another session that
// has not completed.  It runs in the settle transaction right before
// CompleteTx, so a failed claim never keeps a signature from its payer.
func (r *PaymentRepo) ReleaseHashTx(ctx context.Context, tx *sql.Tx, hash, sessionID string, now time.Time) error {
	const q = `UPDATE payments SET transaction_hash = NULL, updated_at = ? WHERE transaction_hash = ? AND session_id <> ? AND status <> ?`
	_, err := tx.ExecContext(ctx, q, now, hash, sessionID, model.PaymentCompleted)
	return err
}

// MarkFailed records hash as a failed settlement attempt for the session.
// The session itself is not touched.  When hash is already held by another
// record the attempt is recorded as FAILED without it.
func (r *PaymentRepo) MarkFailed(ctx context.Context, sessionID, hash string, now time.Time) error {
	const q = `UPDATE payments SET status = ?, transaction_hash = ?, updated_at = ? WHERE session_id = ? AND status <> ?`
	err := r.conditional(r.db.ExecContext(ctx, q, model.PaymentFailed, hash, now, sessionID, model.PaymentCompleted))
	if !errors.Is(err, ErrSignatureReused) {
		return err
	}
	const bare = `UPDATE payments SET status = ?, updated_at = ? WHERE session_id = ? AND status <> ?`
	return r.conditional(r.db.ExecContext(ctx, bare, model.PaymentFailed, now, sessionID, model.PaymentCompleted))
}

// SetStatusByHash applies a webhook status to the record bound to hash.  It
// never downgrades a COMPLETED record; in that case ErrConflict is returned.
func (r *PaymentRepo) SetStatusByHash(ctx context.Context, hash string, status model.PaymentStatus, now time.Time) error {
	const q = `UPDATE payments SET status = ?, updated_at = ? WHERE transaction_hash = ? AND status <> ?`
	return r.conditional(r.db.ExecContext(ctx, q, status, now, hash, model.PaymentCompleted))
}

func (r *PaymentRepo) conditional(res sql.Result, err error) error {
	if err != nil {
		if isDuplicateKey(err) {
			return ErrSignatureReused
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// PaymentHistoryEntry is a payment record joined with its session, as shown
// in a participant's payment history.
type PaymentHistoryEntry struct {
	model.PaymentRecord
	Expert        string              `json:"expert"`
	Shopper       string              `json:"shopper"`
	SessionStatus model.SessionStatus `json:"session_status"`
}

// ListByParticipant returns the payment records of every session in which
// identity is the shopper or the expert, newest first.
func (r *PaymentRepo) ListByParticipant(ctx context.Context, identity string, limit, offset int) ([]PaymentHistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT p.id, p.session_id, p.amount, p.transaction_hash, p.status, p.created_at, p.updated_at,
                      s.expert, s.shopper, s.status
               FROM payments p
               JOIN sessions s ON s.id = p.session_id
               WHERE s.shopper = ? OR s.expert = ?
               ORDER BY p.created_at DESC, p.id
               LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, identity, identity, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PaymentHistoryEntry{}
	for rows.Next() {
		var e PaymentHistoryEntry
		var hash sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Amount, &hash, &e.Status, &e.CreatedAt, &e.UpdatedAt,
			&e.Expert, &e.Shopper, &e.SessionStatus); err != nil {
			return nil, err
		}
		if hash.Valid {
			h := hash.String
			e.TransactionHash = &h
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
