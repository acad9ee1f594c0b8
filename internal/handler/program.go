package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/program"
)

// ProgramHandler submits instructions to the on-ledger program on behalf of
// the authenticated signer.  Platform receives the platform share of every
// consultation payment.
type ProgramHandler struct {
	Program  *program.Program
	Platform string
}

func NewProgramHandler(p *program.Program, platform string) *ProgramHandler {
	if p == nil {
		panic("nil program passed to NewProgramHandler")
	}
	return &ProgramHandler{Program: p, Platform: platform}
}

type programSessionBody struct {
	SessionID string `json:"session_id"`
	Expert    string `json:"expert"`
	Amount    uint64 `json:"amount"`
}

// CreateSession handles POST /v1/program/sessions, signed by the shopper.
func (h *ProgramHandler) CreateSession(c echo.Context) error {
	signer, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body programSessionBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	s, err := h.Program.CreateSession(signer, body.Expert, body.SessionID, body.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// GetSession handles GET /v1/program/sessions/:id.
func (h *ProgramHandler) GetSession(c echo.Context) error {
	s, err := h.Program.Session(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// StartSession handles POST /v1/program/sessions/:id/start.
func (h *ProgramHandler) StartSession(c echo.Context) error {
	return h.instruction(c, h.Program.StartSession)
}

// EndSession handles POST /v1/program/sessions/:id/end.
func (h *ProgramHandler) EndSession(c echo.Context) error {
	return h.instruction(c, h.Program.EndSession)
}

// CancelSession handles POST /v1/program/sessions/:id/cancel.
func (h *ProgramHandler) CancelSession(c echo.Context) error {
	return h.instruction(c, h.Program.CancelSession)
}

func (h *ProgramHandler) instruction(c echo.Context, fn func(signer, id string) (*model.Session, error)) error {
	signer, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	s, err := fn(signer, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Pay handles POST /v1/program/payments: the signing shopper pays amount,
// split between the expert and the platform in one instruction.
func (h *ProgramHandler) Pay(c echo.Context) error {
	signer, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Expert string `json:"expert"`
		Amount uint64 `json:"amount"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	split, err := h.Program.ProcessConsultationPayment(signer, body.Expert, h.Platform, body.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, split)
}

// Balance handles GET /v1/program/balance/:address.
func (h *ProgramHandler) Balance(c echo.Context) error {
	addr := c.Param("address")
	if !ledger.IsValidAddress(addr) {
		return writeError(c, ledger.ErrInvalidWalletAddress)
	}
	bal, err := h.Program.Balance(addr)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"address": addr, "lamports": bal, "sol": ledger.LamportsToSOL(bal)})
}

// Airdrop handles POST /v1/program/airdrop.  It credits the caller and is
// only routed outside production.
func (h *ProgramHandler) Airdrop(c echo.Context) error {
	signer, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.Bind(&body); err != nil || body.Amount == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount is required"})
	}
	if err := h.Program.Fund(signer, body.Amount); err != nil {
		return writeError(c, err)
	}
	return h.Balance(withParam(c, "address", signer))
}

func withParam(c echo.Context, name, value string) echo.Context {
	c.SetParamNames(name)
	c.SetParamValues(value)
	return c
}
