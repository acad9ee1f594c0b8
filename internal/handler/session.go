package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/service"
)

// SessionHandler serves the session lifecycle.
type SessionHandler struct {
	Svc *service.SessionService
}

// NewSessionHandler panics if svc is nil.
func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	if svc == nil {
		panic("nil service passed to NewSessionHandler")
	}
	return &SessionHandler{Svc: svc}
}

// Create handles POST /v1/sessions.  The body names the expert and the
// price, either in lamports ("amount") or as a SOL decimal string
// ("amount_sol").  The caller becomes the shopper.  It returns 201 with the
// session and its PENDING payment record.
func (h *SessionHandler) Create(c echo.Context) error {
	shopper, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		SessionID string `json:"session_id"`
		Expert    string `json:"expert"`
		Amount    uint64 `json:"amount"`
		AmountSOL string `json:"amount_sol"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	amount := body.Amount
	if body.AmountSOL != "" {
		if amount != 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "give either amount or amount_sol"})
		}
		if amount, err = ledger.SOLToLamports(body.AmountSOL); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid amount_sol"})
		}
	}

	sess, pay, err := h.Svc.Create(c.Request().Context(), shopper, service.CreateSessionRequest{
		ID:     body.SessionID,
		Expert: body.Expert,
		Amount: amount,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"session": sess, "payment": pay})
}

// Get handles GET /v1/sessions/:id for either participant.
func (h *SessionHandler) Get(c echo.Context) error {
	caller, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sess, err := h.Svc.Get(c.Request().Context(), c.Param("id"), caller)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Payment handles GET /v1/sessions/:id/payment.
func (h *SessionHandler) Payment(c echo.Context) error {
	caller, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	pay, err := h.Svc.Payment(c.Request().Context(), c.Param("id"), caller)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"payment": pay, "amount_sol": ledger.LamportsToSOL(pay.Amount)})
}

// List handles GET /v1/my-sessions.
func (h *SessionHandler) List(c echo.Context) error {
	caller, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit, offset := paging(c)
	items, err := h.Svc.List(c.Request().Context(), caller, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Start handles POST /v1/sessions/:id/start.
func (h *SessionHandler) Start(c echo.Context) error {
	return h.transition(c, h.Svc.Start)
}

// End handles POST /v1/sessions/:id/end.
func (h *SessionHandler) End(c echo.Context) error {
	return h.transition(c, h.Svc.End)
}

// Cancel handles POST /v1/sessions/:id/cancel.
func (h *SessionHandler) Cancel(c echo.Context) error {
	return h.transition(c, h.Svc.Cancel)
}

type transitionFunc func(ctx context.Context, id, actor string) (*model.Session, error)

func (h *SessionHandler) transition(c echo.Context, fn transitionFunc) error {
	actor, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sess, err := fn(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}
