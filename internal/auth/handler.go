package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/idregistry/idregistry/internal/account"
)

// Handler exposes the development token endpoint. Production deployments
// obtain tokens from their identity provider and never mount it.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type tokenRequest struct {
	Address string `json:"address"`
}

// Token issues an access token for the requested address.
func (h *Handler) Token(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	addr, err := account.Parse(req.Address)
	if err != nil {
		return err
	}
	token, err := h.svc.Issue(addr)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":      addr.String(),
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
		"expires_in":   token.ExpiresIn,
	})
}
