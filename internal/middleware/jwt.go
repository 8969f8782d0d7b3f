package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/auth"
)

const callerKey = "caller"

// TokenVerifier resolves a bearer token to the account it was issued for.
type TokenVerifier interface {
	Verify(raw string) (account.Address, error)
}

// CallerAuth authenticates the bearer token and exposes the caller address
// through Caller. The raw token is kept on the user context for forwarding.
func CallerAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		raw := strings.TrimSpace(authz[len("Bearer "):])
		caller, err := verifier.Verify(raw)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}

		c.Locals(callerKey, caller)
		c.SetUserContext(auth.WithToken(c.UserContext(), raw))
		return c.Next()
	}
}

// Caller returns the authenticated caller set by CallerAuth.
func Caller(c *fiber.Ctx) (account.Address, bool) {
	caller, ok := c.Locals(callerKey).(account.Address)
	return caller, ok
}
