package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/consultation-settlement/internal/model"
)

const (
	shopper = "Shopper111111111111111111111111111111111"
	expert  = "Expert1111111111111111111111111111111111"
	sig     = "5555555555555555555555555555555555555555555555555555555555555555"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var sessionCols = []string{"id", "expert", "shopper", "amount", "status", "created_at", "actual_start_time", "end_time", "updated_at"}
var paymentCols = []string{"id", "session_id", "amount", "transaction_hash", "status", "created_at", "updated_at"}

func TestSessionRepo_CreateTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	s := &model.Session{ID: "s1", Expert: expert, Shopper: shopper, Amount: 50, Status: model.SessionPending, CreatedAt: now, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs("s1", expert, shopper, 50, "PENDING", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sessions`).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 's1' for key 'PRIMARY'"))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.CreateTx(context.Background(), tx, s))
	assert.ErrorIs(t, repo.CreateTx(context.Background(), tx, s), ErrDuplicate)
	require.NoError(t, tx.Rollback())
}

func TestSessionRepo_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	started := now.Add(time.Minute)

	mock.ExpectQuery(`SELECT (.+) FROM sessions WHERE id = \?`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s1", expert, shopper, int64(50), "ACTIVE", now, started, nil, started))
	mock.ExpectQuery(`SELECT (.+) FROM sessions WHERE id = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionCols))

	s, err := repo.GetByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, s.Status)
	assert.Equal(t, uint64(50), s.Amount)
	require.NotNil(t, s.ActualStartTime)
	assert.Equal(t, started, *s.ActualStartTime)
	assert.Nil(t, s.EndTime)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionRepo_UpdateStatusTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	end := now
	s := &model.Session{ID: "s1", Status: model.SessionCompleted, EndTime: &end, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sessions SET status = \?, actual_start_time = \?, end_time = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WithArgs("COMPLETED", nil, now, now, "s1", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sessions`).
		WithArgs("COMPLETED", nil, now, now, "s1", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatusTx(context.Background(), tx, s, model.SessionActive))
	assert.ErrorIs(t, repo.UpdateStatusTx(context.Background(), tx, s, model.SessionActive), ErrConflict)
	require.NoError(t, tx.Commit())
}

func TestSessionRepo_ListByParticipant(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	mock.ExpectQuery(`FROM sessions WHERE shopper = \? OR expert = \? ORDER BY`).
		WithArgs(shopper, shopper, 50, 0).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s2", expert, shopper, int64(10), "PENDING", now, nil, nil, now).
			AddRow("s1", expert, shopper, int64(50), "CANCELLED", now, nil, nil, now))

	list, err := repo.ListByParticipant(context.Background(), shopper, 0, -1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)
	assert.Equal(t, model.SessionCancelled, list[1].Status)
}

func TestPaymentRepo_CompleteTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payments SET status = \?, transaction_hash = \?, updated_at = \? WHERE session_id = \? AND status <> \?`).
		WithArgs("COMPLETED", sig, now, "s1", "COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payments`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE payments`).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry for key 'transaction_hash'"))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.CompleteTx(context.Background(), tx, "s1", sig, now))
	assert.ErrorIs(t, repo.CompleteTx(context.Background(), tx, "s1", sig, now), ErrConflict)
	assert.ErrorIs(t, repo.CompleteTx(context.Background(), tx, "s2", sig, now), ErrSignatureReused)
	require.NoError(t, tx.Rollback())
}

func TestPaymentRepo_MarkFailedNeverTouchesCompleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepo(db)

	mock.ExpectExec(`UPDATE payments SET status = \?, transaction_hash = \?, updated_at = \? WHERE session_id = \? AND status <> \?`).
		WithArgs("FAILED", sig, now, "s1", "COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.MarkFailed(context.Background(), "s1", sig, now), ErrConflict)
}

func TestPaymentRepo_MarkFailedWithoutHashHeldElsewhere(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepo(db)

	mock.ExpectExec(`UPDATE payments SET status = \?, transaction_hash = \?`).
		WithArgs("FAILED", sig, now, "s2", "COMPLETED").
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry for key 'transaction_hash'"))
	mock.ExpectExec(`UPDATE payments SET status = \?, updated_at = \? WHERE session_id = \? AND status <> \?`).
		WithArgs("FAILED", now, "s2", "COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), "s2", sig, now))
}

func TestPaymentRepo_ReleaseHashTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payments SET transaction_hash = NULL, updated_at = \? WHERE transaction_hash = \? AND session_id <> \? AND status <> \?`).
		WithArgs(now, sig, "s2", "COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payments SET transaction_hash = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.ReleaseHashTx(context.Background(), tx, sig, "s2", now))
	// nothing to release is not an error
	require.NoError(t, repo.ReleaseHashTx(context.Background(), tx, sig, "s2", now))
	require.NoError(t, tx.Rollback())
}

func TestPaymentRepo_SetStatusByHash(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepo(db)

	mock.ExpectExec(`UPDATE payments SET status = \?, updated_at = \? WHERE transaction_hash = \? AND status <> \?`).
		WithArgs("FAILED", now, sig, "COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetStatusByHash(context.Background(), sig, model.PaymentFailed, now))
}

func TestPaymentRepo_GetBySessionID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepo(db)

	mock.ExpectQuery(`SELECT (.+) FROM payments WHERE session_id = \?`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(paymentCols).
			AddRow("3f1c2a8e-0000-4000-8000-000000000001", "s1", int64(50), sig, "COMPLETED", now, now))
	mock.ExpectQuery(`SELECT (.+) FROM payments WHERE session_id = \?`).
		WithArgs("s2").
		WillReturnRows(sqlmock.NewRows(paymentCols).
			AddRow("3f1c2a8e-0000-4000-8000-000000000002", "s2", int64(10), nil, "PENDING", now, now))

	p, err := repo.GetBySessionID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, p.Status)
	assert.Equal(t, sig, p.Signature())

	p, err = repo.GetBySessionID(context.Background(), "s2")
	require.NoError(t, err)
	assert.Nil(t, p.TransactionHash)
	assert.Equal(t, "", p.Signature())
}

func TestPaymentRepo_ListByParticipant(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepo(db)

	mock.ExpectQuery(`FROM payments p\s+JOIN sessions s ON s.id = p.session_id`).
		WithArgs(expert, expert, 10, 20).
		WillReturnRows(sqlmock.NewRows(append(paymentCols, "expert", "shopper", "status")).
			AddRow("id-1", "s1", int64(50), sig, "COMPLETED", now, now, expert, shopper, "COMPLETED"))

	list, err := repo.ListByParticipant(context.Background(), expert, 10, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.SessionCompleted, list[0].SessionStatus)
	assert.Equal(t, shopper, list[0].Shopper)
	assert.Equal(t, sig, list[0].Signature())
}

func TestUserRepo_Resolve(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	cols := []string{"id", "wallet_address", "role", "is_active", "created_at"}
	q := `SELECT id,wallet_address,role,is_active,created_at FROM users WHERE wallet_address=\? LIMIT 1`

	mock.ExpectQuery(q).WithArgs(expert).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, expert, "EXPERT", true, now))
	mock.ExpectQuery(q).WithArgs(expert).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, expert, "EXPERT", true, now))
	mock.ExpectQuery(q).WithArgs(shopper).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(2, shopper, "SHOPPER", false, now))
	mock.ExpectQuery(q).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(cols))

	u, err := repo.Resolve(context.Background(), expert, model.RoleExpert)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), u.ID)

	_, err = repo.Resolve(context.Background(), expert, model.RoleShopper)
	assert.ErrorIs(t, err, ErrUnknownUser)

	_, err = repo.Resolve(context.Background(), shopper, model.RoleShopper)
	assert.ErrorIs(t, err, ErrUnknownUser)

	_, err = repo.Resolve(context.Background(), "nobody", model.RoleShopper)
	assert.ErrorIs(t, err, ErrUnknownUser)
}
