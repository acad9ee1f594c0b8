// Package handler exposes the session, payment and ledger operations over
// HTTP.  Handlers assume JWTAuth and RequireRole have already run; errors
// are written as {"error": "..."}.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/middleware"
	"github.com/iliyamo/consultation-settlement/internal/program"
	"github.com/iliyamo/consultation-settlement/internal/repository"
	"github.com/iliyamo/consultation-settlement/internal/service"
	"github.com/iliyamo/consultation-settlement/internal/session"
)

// retryAfterSeconds is advertised when the ledger node is unreachable.
const retryAfterSeconds = "5"

var errUnauthenticated = errors.New("invalid identity in context")

// getUserID returns the caller's account identity set by JWTAuth.
func getUserID(c echo.Context) (string, error) {
	id := middleware.Identity(c)
	if id == "" {
		return "", errUnauthenticated
	}
	return id, nil
}

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidSignatureFormat),
		errors.Is(err, ledger.ErrInvalidWalletAddress),
		errors.Is(err, session.ErrInvalidAmount),
		errors.Is(err, session.ErrSameParticipant),
		errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, session.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnauthorized), errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, session.ErrUnknownParticipant),
		errors.Is(err, program.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidStatus),
		errors.Is(err, repository.ErrSignatureReused),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, program.ErrAccountExists),
		errors.Is(err, program.ErrPaymentNotInitialized):
		return http.StatusConflict
	case errors.Is(err, service.ErrPaymentRejected),
		ledger.IsDefinitive(err),
		errors.Is(err, program.ErrInsufficientFunds),
		errors.Is(err, program.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return http.StatusAccepted
	case errors.Is(err, ledger.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrLedgerRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status.  Ledger outcomes carry a
// "kind" and "retriable" flag so clients know whether to resubmit later.
func writeError(c echo.Context, err error) error {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(code, echo.Map{"error": "internal error"})
	}
	body := echo.Map{"error": err.Error()}
	if kind := ledger.Kind(err); kind != "internal" {
		body["kind"] = kind
		body["retriable"] = ledger.IsRetriable(err)
	}
	if code == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}
	return c.JSON(code, body)
}

// paging reads ?limit= and ?offset=; invalid values fall back to the
// repository defaults.
func paging(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}
