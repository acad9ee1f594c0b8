package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/consultation-settlement/internal/model"
)

// SessionRepo persists consultation sessions in the sessions table.  All
// timestamp fields are stored in UTC.  Status changes are conditional on
// the previous status so that concurrent transitions on the same session
// serialize: the loser affects no row and receives ErrConflict.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// DB exposes the underlying handle so services can open transactions that
// span several repositories.
func (r *SessionRepo) DB() *sql.DB { return r.db }

const sessionColumns = `id, expert, shopper, amount, status, created_at, actual_start_time, end_time, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	var start, end sql.NullTime
	if err := row.Scan(&s.ID, &s.Expert, &s.Shopper, &s.Amount, &s.Status,
		&s.CreatedAt, &start, &end, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if start.Valid {
		t := start.Time.UTC()
		s.ActualStartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		s.EndTime = &t
	}
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// CreateTx inserts a new session within the scope of an existing
// transaction.  A reused id yields ErrDuplicate.  The caller must commit
// or rollback the transaction.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
	const q = `INSERT INTO sessions (id, expert, shopper, amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, s.ID, s.Expert, s.Shopper, s.Amount, s.Status, s.CreatedAt, s.UpdatedAt)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID returns the session with the given id or sql.ErrNoRows.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

// GetByIDForUpdateTx loads the session and locks its row until the
// transaction ends.
func (r *SessionRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*model.Session, error) {
	return scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ? FOR UPDATE`, id))
}

// UpdateStatusTx writes the status and timestamps of s, provided the stored
// status still equals from.  It returns ErrConflict when no row matched.
func (r *SessionRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, s *model.Session, from model.SessionStatus) error {
	const q = `UPDATE sessions SET status = ?, actual_start_time = ?, end_time = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, s.Status, nullTime(s.ActualStartTime), nullTime(s.EndTime), s.UpdatedAt, s.ID, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ListByParticipant returns the sessions in which identity is the shopper
// or the expert, newest first.
func (r *SessionRepo) ListByParticipant(ctx context.Context, identity string, limit, offset int) ([]model.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE shopper = ? OR expert = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, identity, identity, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
