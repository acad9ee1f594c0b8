package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
)

// BalanceSource reads native balances.  *ledger.Client implements it.
type BalanceSource interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// LedgerHandler serves read-only ledger lookups.
type LedgerHandler struct {
	Balances BalanceSource
}

func NewLedgerHandler(b BalanceSource) *LedgerHandler { return &LedgerHandler{Balances: b} }

// Balance handles GET /v1/ledger/balance/:address.
func (h *LedgerHandler) Balance(c echo.Context) error {
	addr := c.Param("address")
	lamports, err := h.Balances.GetBalance(c.Request().Context(), addr)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"address":  addr,
		"lamports": lamports,
		"sol":      ledger.LamportsToSOL(lamports),
	})
}
