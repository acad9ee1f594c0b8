package middleware // middleware provides shared request processing for handlers

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.  The
// subject is the caller's ledger account identity and must be a well-formed
// address.  Handlers read the values via Identity(c) and c.Get("role").
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header is "Bearer <jwt>"; anything else is a 401
			// before the token is even looked at.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// The key callback pins the algorithm family.  Without the HMAC
			// check a token declaring "none" or an asymmetric method would
			// be verified against the shared secret used as a public key.
			// Tokens without an exp claim are rejected outright.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			}, jwt.WithExpirationRequired())
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			// Extract the claims into a map.  If the assertion fails the
			// claims are not in the expected format.
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			// The subject is an account identity that handlers compare with
			// session participants, so a malformed one never gets through.
			sub, _ := claims["sub"].(string)
			if !ledger.IsValidAddress(sub) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject"})
			}

			// Store identity and role for Identity(c), Role(c) and
			// RequireRole, then continue down the chain.
			c.Set(identityKey, sub)
			c.Set("role", claims["role"])
			return next(c)
		}
	}
}
