package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the uniform error body for the control plane.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// BadRequest returns a 400 response with the given message
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:     message,
		RequestID: GetRequestID(c),
	})
}

// NotFound returns a 404 response with the given message
func NotFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Error:     message,
		RequestID: GetRequestID(c),
	})
}

// InternalServerError returns a 500 response with the given message
func InternalServerError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:     message,
		RequestID: GetRequestID(c),
	})
}
