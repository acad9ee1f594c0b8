package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consultation-settlement/internal/service"
	"github.com/iliyamo/consultation-settlement/internal/utils"
)

// WebhookTokenHeader carries the shared secret of the payment webhook.
const WebhookTokenHeader = "X-Webhook-Token"

// PaymentHandler serves payment claims, payment history and the payment
// provider webhook.
type PaymentHandler struct {
	Reconciler       *service.Reconciler
	Sessions         *service.SessionService
	WebhookTokenHash string // bcrypt hash; empty rejects every webhook call
}

// NewPaymentHandler panics if a dependency is nil.
func NewPaymentHandler(r *service.Reconciler, sessions *service.SessionService, webhookTokenHash string) *PaymentHandler {
	if r == nil || sessions == nil {
		panic("nil service passed to NewPaymentHandler")
	}
	return &PaymentHandler{Reconciler: r, Sessions: sessions, WebhookTokenHash: webhookTokenHash}
}

// Submit handles POST /v1/payments.  The shopper submits the signature of
// the ledger transfer that paid for an ACTIVE session.  On success the
// session is COMPLETED and the response carries the 80/20 split; a
// previously settled session returns the same result with "replayed".
// A transaction that is not yet visible yields 202 and may be resubmitted.
func (h *PaymentHandler) Submit(c echo.Context) error {
	caller, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		SessionID       string `json:"session_id"`
		TransactionHash string `json:"transaction_hash"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.SessionID = strings.TrimSpace(body.SessionID)
	body.TransactionHash = strings.TrimSpace(body.TransactionHash)
	if body.SessionID == "" || body.TransactionHash == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id and transaction_hash are required"})
	}

	res, err := h.Reconciler.Reconcile(c.Request().Context(), service.Claim{
		SessionID: body.SessionID,
		Signature: body.TransactionHash,
		Actor:     caller,
	})
	return writeResult(c, res, err)
}

// History handles GET /v1/payments/history.
func (h *PaymentHandler) History(c echo.Context) error {
	caller, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit, offset := paging(c)
	items, err := h.Sessions.History(c.Request().Context(), caller, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Webhook handles POST /v1/payments/webhook.  The caller authenticates with
// the shared token in WebhookTokenHeader instead of a JWT.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	if !utils.VerifySecret(h.WebhookTokenHash, c.Request().Header.Get(WebhookTokenHeader)) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook token"})
	}
	var body service.Webhook
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.TransactionHash = strings.TrimSpace(body.TransactionHash)
	if body.TransactionHash == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "transaction_hash is required"})
	}
	res, err := h.Reconciler.HandleWebhook(c.Request().Context(), body)
	return writeResult(c, res, err)
}

// writeResult writes a reconciliation outcome.  A rejected payment still
// returns the FAILED record alongside the error.
func writeResult(c echo.Context, res *service.Result, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, res)
	}
	if res != nil && (errors.Is(err, service.ErrPaymentRejected) || statusOf(err) == http.StatusUnprocessableEntity) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error(), "result": res})
	}
	return writeError(c, err)
}
