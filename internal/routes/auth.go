package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/idregistry/idregistry/internal/auth"
)

// RegisterAuthRoutes wires the development token endpoint.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler) {
	r.Group("/auth").Post("/token", h.Token)
}
