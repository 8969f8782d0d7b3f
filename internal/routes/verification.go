package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/mirror"
	"github.com/idregistry/idregistry/internal/registry"
)

// RegisterVerificationRoutes wires the gateway endpoints.
func RegisterVerificationRoutes(r fiber.Router, h *mirror.Handler, reader registry.Reader, p Protection) {
	g := r.Group("/verifications")

	g.Get("", h.List)
	g.Post("", chain(p.Auth, p.Idempotency, p.RateLimit, h.Submit)...)
	g.Get("/:address", h.Get)
	g.Get("/:address/check", func(c *fiber.Ctx) error {
		subject, err := account.Parse(c.Params("address"))
		if err != nil {
			return err
		}
		verified, err := reader.Check(c.UserContext(), subject)
		if err != nil {
			return err
		}
		return c.JSON(registry.CheckResponse{Address: subject, Verified: verified})
	})
}
