package middleware

import "github.com/labstack/echo/v4"

const identityKey = "identity"

// Identity returns the account identity stored by JWTAuth, or "" for
// unauthenticated requests.
func Identity(c echo.Context) string {
	s, _ := c.Get(identityKey).(string)
	return s
}

// Role returns the role claim stored by JWTAuth.
func Role(c echo.Context) string {
	s, _ := c.Get("role").(string)
	return s
}
