package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/registry"
	"github.com/idregistry/idregistry/internal/sentinel"
)

// Error codes carried in the "error" field of JSON error bodies.
const (
	CodeEmptyHash       = "empty_hash"
	CodeAlreadyVerified = "already_verified"
	CodeUnauthorized    = "unauthorized"
	CodeNotVerified     = "not_verified"
	CodeInvalidAddress  = "invalid_address"
	CodeInvalidInput    = "invalid_input"
	CodeConflict        = "conflict"
	CodeNotFound        = "not_found"
	CodeUnavailable     = "unavailable"
	CodeUnauthenticated = "unauthenticated"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Classify maps an error to an HTTP status and error code.
func Classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.Is(err, registry.ErrEmptyHash):
		return http.StatusBadRequest, CodeEmptyHash
	case errors.Is(err, registry.ErrAlreadyVerified):
		return http.StatusConflict, CodeAlreadyVerified
	case errors.Is(err, registry.ErrUnauthorized):
		return http.StatusForbidden, CodeUnauthorized
	case errors.Is(err, registry.ErrNotVerified):
		return http.StatusConflict, CodeNotVerified
	case errors.Is(err, account.ErrInvalidAddress):
		return http.StatusBadRequest, CodeInvalidAddress
	case errors.Is(err, sentinel.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, sentinel.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.As(err, &fe):
		switch fe.Code {
		case http.StatusUnauthorized:
			return fe.Code, CodeUnauthenticated
		case http.StatusTooManyRequests:
			return fe.Code, CodeRateLimited
		}
		return fe.Code, strings.ToLower(strings.ReplaceAll(http.StatusText(fe.Code), " ", "_"))
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ErrorHandler renders errors returned by handlers as ErrorBody JSON.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code := Classify(err)
		msg := err.Error()
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", RequestIDFrom(c)),
				slog.Any("error", err),
			)
			if code == CodeInternal {
				msg = http.StatusText(status)
			}
		}
		return c.Status(status).JSON(ErrorBody{Error: code, Message: msg})
	}
}
