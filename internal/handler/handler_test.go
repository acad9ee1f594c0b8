package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/consultation-settlement/internal/handler"
	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/program"
	"github.com/iliyamo/consultation-settlement/internal/repository"
	"github.com/iliyamo/consultation-settlement/internal/router"
	"github.com/iliyamo/consultation-settlement/internal/service"
	"github.com/iliyamo/consultation-settlement/internal/session"
	"github.com/iliyamo/consultation-settlement/internal/utils"
)

const (
	jwtSecret = "handler-secret"
	shopper   = "Shopper111111111111111111111111111111111"
	expert    = "Expert1111111111111111111111111111111111"
	platform  = "P1atform11111111111111111111111111111111"
	sig       = "4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZH"
)

var clock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubVerifier struct {
	ok  bool
	err error
}

func (s stubVerifier) Verify(context.Context, string, uint64, string) (bool, error) { return s.ok, s.err }

type stubBalances map[string]uint64

func (s stubBalances) GetBalance(_ context.Context, addr string) (uint64, error) {
	if addr == "down" {
		return 0, ledger.ErrNetwork
	}
	if !ledger.IsValidAddress(addr) {
		return 0, ledger.ErrInvalidWalletAddress
	}
	return s[addr], nil
}

type app struct {
	e    *echo.Echo
	mock sqlmock.Sqlmock
}

func newApp(t *testing.T, verifier service.Verifier) *app {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	machine := session.NewMachine(func() time.Time { return clock })
	sessions := repository.NewSessionRepo(db)
	payments := repository.NewPaymentRepo(db)
	svc := service.NewSessionService(sessions, payments, repository.NewUserRepo(db), machine, nil)
	rec := service.NewReconciler(sessions, payments, verifier, nil, machine, nil)

	hash, err := utils.HashSecret("hook", bcrypt.MinCost)
	require.NoError(t, err)

	prog, err := program.Open("", func() time.Time { return clock }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { prog.Close() })
	require.NoError(t, prog.InitializePayment(platform, 0))

	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	e := echo.New()
	router.RegisterRoutes(e, nil)
	router.RegisterSessions(e, handler.NewSessionHandler(svc), jwtSecret)
	router.RegisterPayments(e, handler.NewPaymentHandler(rec, svc, hash), jwtSecret, pass)
	router.RegisterLedger(e, handler.NewLedgerHandler(stubBalances{expert: 1_500_000_000}), jwtSecret, pass)
	router.RegisterProgram(e, handler.NewProgramHandler(prog, platform), jwtSecret, true)
	return &app{e: e, mock: mock}
}

func (a *app) do(t *testing.T, method, path, wallet, role, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if wallet != "" {
		tok, err := utils.NewAccessToken(jwtSecret, wallet, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

var (
	sessionCols = []string{"id", "expert", "shopper", "amount", "status", "created_at", "actual_start_time", "end_time", "updated_at"}
	paymentCols = []string{"id", "session_id", "amount", "transaction_hash", "status", "created_at", "updated_at"}
	userCols    = []string{"id", "wallet_address", "role", "is_active", "created_at"}
)

func TestHealth(t *testing.T) {
	a := newApp(t, stubVerifier{})
	rec := a.do(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateSession(t *testing.T) {
	a := newApp(t, stubVerifier{})
	a.mock.ExpectQuery(`FROM users WHERE wallet_address`).WithArgs(shopper).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(1, shopper, "SHOPPER", true, clock))
	a.mock.ExpectQuery(`FROM users WHERE wallet_address`).WithArgs(expert).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, expert, "EXPERT", true, clock))
	a.mock.ExpectBegin()
	a.mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs("consult-1", expert, shopper, 1_500_000_000, "PENDING", clock, clock).
		WillReturnResult(sqlmock.NewResult(0, 1))
	a.mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	a.mock.ExpectCommit()

	rec := a.do(t, http.MethodPost, "/v1/sessions", shopper, model.RoleShopper,
		`{"session_id":"consult-1","expert":"`+expert+`","amount_sol":"1.5"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "PENDING", body["session"].(map[string]any)["status"])
	assert.Equal(t, "PENDING", body["payment"].(map[string]any)["status"])
}

func TestCreateSession_Validation(t *testing.T) {
	a := newApp(t, stubVerifier{})

	rec := a.do(t, http.MethodPost, "/v1/sessions", expert, model.RoleExpert, `{"expert":"`+shopper+`","amount":5}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/sessions", shopper, model.RoleShopper, `{"expert":"`+expert+`","amount":5,"amount_sol":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/sessions", shopper, model.RoleShopper, `{"expert":"`+expert+`","amount_sol":"1e3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/sessions", shopper, model.RoleShopper, `{"expert":"`+expert+`","amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/sessions", "", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartSession_WrongState(t *testing.T) {
	a := newApp(t, stubVerifier{})
	a.mock.ExpectBegin()
	a.mock.ExpectQuery(`FOR UPDATE`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", expert, shopper, 50, "COMPLETED", clock, clock, clock, clock))
	a.mock.ExpectRollback()

	rec := a.do(t, http.MethodPost, "/v1/sessions/s1/start", expert, model.RoleExpert, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitPayment_NotYetVisible(t *testing.T) {
	a := newApp(t, stubVerifier{err: ledger.ErrTransactionNotFound})
	a.mock.ExpectQuery(`FROM sessions WHERE id = \?$`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", expert, shopper, 50, "ACTIVE", clock, clock, nil, clock))
	a.mock.ExpectQuery(`FROM payments WHERE session_id = \?$`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(paymentCols).AddRow("p1", "s1", 50, nil, "PENDING", clock, clock))
	a.mock.ExpectQuery(`FROM payments WHERE transaction_hash = \?`).WithArgs(sig).
		WillReturnRows(sqlmock.NewRows(paymentCols))

	rec := a.do(t, http.MethodPost, "/v1/payments", shopper, model.RoleShopper,
		`{"session_id":"s1","transaction_hash":"`+sig+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["retriable"])
	assert.Equal(t, "transaction_not_found", body["kind"])
}

func TestSubmitPayment_Replayed(t *testing.T) {
	a := newApp(t, stubVerifier{err: errors.New("must not be called")})
	a.mock.ExpectQuery(`FROM sessions WHERE id = \?$`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", expert, shopper, 50, "COMPLETED", clock, clock, clock, clock))
	a.mock.ExpectQuery(`FROM payments WHERE session_id = \?$`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(paymentCols).AddRow("p1", "s1", 50, sig, "COMPLETED", clock, clock))

	rec := a.do(t, http.MethodPost, "/v1/payments", shopper, model.RoleShopper,
		`{"session_id":"s1","transaction_hash":"`+sig+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["replayed"])
	assert.Equal(t, float64(40), body["split"].(map[string]any)["expert_share"])
	assert.Equal(t, float64(10), body["split"].(map[string]any)["platform_share"])
}

func TestSubmitPayment_MissingFields(t *testing.T) {
	a := newApp(t, stubVerifier{})
	rec := a.do(t, http.MethodPost, "/v1/payments", shopper, model.RoleShopper, `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_Token(t *testing.T) {
	a := newApp(t, stubVerifier{})
	body := `{"transaction_hash":"` + sig + `","status":"failed"}`

	rec := a.do(t, http.MethodPost, "/v1/payments/webhook", "", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(t, http.MethodPost, "/v1/payments/webhook", "", "", body, handler.WebhookTokenHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	a.mock.ExpectQuery(`FROM payments WHERE transaction_hash = \?`).WithArgs(sig).
		WillReturnRows(sqlmock.NewRows(paymentCols))
	rec = a.do(t, http.MethodPost, "/v1/payments/webhook", "", "", body, handler.WebhookTokenHeader, "hook")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerBalance(t *testing.T) {
	a := newApp(t, stubVerifier{})

	rec := a.do(t, http.MethodGet, "/v1/ledger/balance/"+expert, shopper, model.RoleShopper, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "1.5", body["sol"])
	assert.Equal(t, float64(1_500_000_000), body["lamports"])

	rec = a.do(t, http.MethodGet, "/v1/ledger/balance/0xabc", shopper, model.RoleShopper, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/ledger/balance/down", shopper, model.RoleShopper, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestProgramFlow(t *testing.T) {
	a := newApp(t, stubVerifier{})

	rec := a.do(t, http.MethodPost, "/v1/program/sessions", shopper, model.RoleShopper,
		`{"session_id":"onchain-1","expert":"`+expert+`","amount":50}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/v1/program/sessions", shopper, model.RoleShopper,
		`{"session_id":"onchain-1","expert":"`+expert+`","amount":50}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/program/sessions/onchain-1/cancel", platform, model.RoleShopper, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/program/sessions/onchain-1/start", expert, model.RoleExpert, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACTIVE", decode(t, rec)["status"])

	rec = a.do(t, http.MethodGet, "/v1/program/sessions/missing", expert, model.RoleExpert, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/program/payments", shopper, model.RoleShopper, `{"expert":"`+expert+`","amount":50}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/program/airdrop", shopper, model.RoleShopper, `{"amount":100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), decode(t, rec)["lamports"])

	rec = a.do(t, http.MethodPost, "/v1/program/payments", shopper, model.RoleShopper, `{"expert":"`+expert+`","amount":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	split := decode(t, rec)
	assert.Equal(t, float64(40), split["expert_share"])
	assert.Equal(t, float64(10), split["platform_share"])

	rec = a.do(t, http.MethodGet, "/v1/program/balance/"+platform, expert, model.RoleExpert, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(10), decode(t, rec)["lamports"])
}
