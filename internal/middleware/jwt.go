package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/auth"
)

// Locals keys set by JWTAuth.
const (
	LocalSubject      = "subject"
	LocalAdminSubject = "admin_subject"
)

// JWTAuth returns a middleware that validates bearer tokens and requires scope.
func JWTAuth(tokens *auth.Tokens, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := tokens.VerifyScope(tokenStr, scope)
		if err != nil {
			if errors.Is(err, auth.ErrMissingScope) {
				return fiber.NewError(http.StatusForbidden, err.Error())
			}
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(LocalSubject, claims.Subject)
		if scope == auth.ScopeAdmin {
			c.Locals(LocalAdminSubject, claims.Subject)
		}
		return c.Next()
	}
}
