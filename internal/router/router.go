// Package router registers the HTTP routes and their middleware.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consultation-settlement/internal/handler"
	"github.com/iliyamo/consultation-settlement/internal/middleware"
	"github.com/iliyamo/consultation-settlement/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, metrics http.Handler) {
	e.GET("/healthz", handler.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterSessions registers the session lifecycle under /v1.  Role checks
// here are coarse; per-session authorization happens in the service.
func RegisterSessions(e *echo.Echo, h *handler.SessionHandler, jwtSecret string) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	g.POST("/sessions", h.Create, middleware.RequireRole(model.RoleShopper))
	g.GET("/sessions/:id", h.Get)
	g.GET("/sessions/:id/payment", h.Payment)
	g.GET("/my-sessions", h.List)
	g.POST("/sessions/:id/start", h.Start, middleware.RequireRole(model.RoleExpert))
	g.POST("/sessions/:id/end", h.End, middleware.RequireRole(model.RoleExpert))
	g.POST("/sessions/:id/cancel", h.Cancel, middleware.RequireRole(model.RoleShopper, model.RoleExpert))
}

// RegisterPayments registers payment claims and history under /v1.  limit
// wraps the routes that reach the ledger node.  The webhook is
// authenticated by its shared token, not a JWT.
func RegisterPayments(e *echo.Echo, h *handler.PaymentHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	e.POST("/v1/payments/webhook", h.Webhook, limit)

	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	g.POST("/payments", h.Submit, middleware.RequireRole(model.RoleShopper), limit)
	g.GET("/payments/history", h.History)
}

// RegisterLedger registers read-only ledger lookups.
func RegisterLedger(e *echo.Echo, h *handler.LedgerHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/ledger", middleware.JWTAuth(jwtSecret))
	g.GET("/balance/:address", h.Balance, limit)
}

// RegisterProgram registers the instruction surface of the on-ledger
// program.  airdrop enables POST /v1/program/airdrop.
func RegisterProgram(e *echo.Echo, h *handler.ProgramHandler, jwtSecret string, airdrop bool) {
	g := e.Group("/v1/program", middleware.JWTAuth(jwtSecret))

	g.POST("/sessions", h.CreateSession, middleware.RequireRole(model.RoleShopper))
	g.GET("/sessions/:id", h.GetSession)
	g.POST("/sessions/:id/start", h.StartSession, middleware.RequireRole(model.RoleExpert))
	g.POST("/sessions/:id/end", h.EndSession, middleware.RequireRole(model.RoleExpert))
	g.POST("/sessions/:id/cancel", h.CancelSession)
	g.POST("/payments", h.Pay, middleware.RequireRole(model.RoleShopper))
	g.GET("/balance/:address", h.Balance)
	if airdrop {
		g.POST("/airdrop", h.Airdrop)
	}
}
