package mirror

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/middleware"
)

// Handler exposes gateway verification endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a verification HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type submitRequest struct {
	IdentityHash string `json:"identity_hash"`
	ProofRef     string `json:"proof_ref"`
	DocumentType string `json:"document_type"`
	Nationality  string `json:"nationality"`
}

type verificationResponse struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	IdentityHash string    `json:"identity_hash"`
	ProofRef     string    `json:"proof_ref"`
	DocumentType string    `json:"document_type"`
	Nationality  string    `json:"nationality"`
	Verified     bool      `json:"verified"`
	VerifiedAt   time.Time `json:"verified_at"`
	CreatedAt    time.Time `json:"created_at"`
}

type viewResponse struct {
	Address      string     `json:"address"`
	IdentityHash string     `json:"identity_hash"`
	Verified     bool       `json:"verified"`
	Status       string     `json:"status"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	ProofRef     string     `json:"proof_ref,omitempty"`
	DocumentType string     `json:"document_type,omitempty"`
	Nationality  string     `json:"nationality,omitempty"`
	Source       string     `json:"source"`
}

// Submit records the authenticated caller's verification.
func (h *Handler) Submit(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing caller")
	}
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	v, err := h.service.Submit(c.UserContext(), caller, Request{
		IdentityHash: req.IdentityHash,
		ProofRef:     req.ProofRef,
		DocumentType: req.DocumentType,
		Nationality:  req.Nationality,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(v))
}

// Get returns the verification view of an address.
func (h *Handler) Get(c *fiber.Ctx) error {
	addr, err := account.Parse(c.Params("address"))
	if err != nil {
		return err
	}
	view, err := h.service.Get(c.UserContext(), addr)
	if err != nil {
		return err
	}
	resp := viewResponse{
		Address:      view.Address.String(),
		IdentityHash: view.IdentityHash,
		Verified:     view.Verified,
		Status:       string(view.Status),
		ProofRef:     view.ProofRef,
		DocumentType: view.DocumentType,
		Nationality:  view.Nationality,
		Source:       view.Source,
	}
	if !view.Timestamp.IsZero() {
		ts := view.Timestamp
		resp.Timestamp = &ts
	}
	return c.JSON(resp)
}

// List pages through mirror entries using limit and offset query parameters.
func (h *Handler) List(c *fiber.Ctx) error {
	entries, err := h.service.List(c.UserContext(), c.QueryInt("limit"), c.QueryInt("offset"))
	if err != nil {
		return err
	}
	out := make([]verificationResponse, 0, len(entries))
	for _, v := range entries {
		out = append(out, toResponse(v))
	}
	return c.JSON(fiber.Map{"verifications": out})
}

func toResponse(v Verification) verificationResponse {
	return verificationResponse{
		ID:           v.ID,
		Address:      v.Address.String(),
		IdentityHash: v.IdentityHash,
		ProofRef:     v.ProofRef,
		DocumentType: v.DocumentType,
		Nationality:  v.Nationality,
		Verified:     v.Verified,
		VerifiedAt:   v.VerifiedAt,
		CreatedAt:    v.CreatedAt,
	}
}
