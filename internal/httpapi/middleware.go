package httpapi

import (
	"log/slog"
	"strings"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const principalContextKey = "principal"

// RequestID tags every request with an id, reusing an inbound one when
// the caller already set it (retries, gateways).
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Locals("requestID", id)
		c.Set("X-Request-ID", id)
		return c.Next()
	}
}

// RequireAuth verifies the bearer access token and attaches the resulting
// Principal to the request context (spec.md §4.1 step 1, gating every
// other component behind the Identity Gate).
func RequireAuth(gate *identitygate.Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := extractBearerToken(c.Get("Authorization"))
		if err != nil {
			return err
		}
		principal, err := gate.VerifyAccessToken(token)
		if err != nil {
			return err
		}
		c.Locals(principalContextKey, principal)
		return c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.New(apperrors.Unauthenticated, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", apperrors.New(apperrors.Unauthenticated, "invalid authorization header format")
	}
	return parts[1], nil
}

func principalFrom(c *fiber.Ctx) identitygate.Principal {
	p, _ := c.Locals(principalContextKey).(identitygate.Principal)
	return p
}

type errorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
	Details   any    `json:"details,omitempty"`
}

// ErrorHandler centralizes AppError → JSON translation so every handler
// can just `return err` (spec.md §7: stable wire codes everywhere).
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("requestID").(string)

		if appErr, ok := apperrors.As(err); ok {
			slog.Warn("request failed",
				"kind", appErr.Kind, "path", c.Path(), "method", c.Method(), "request_id", requestID)
			return c.Status(appErr.StatusCode()).JSON(errorEnvelope{
				Error: appErr.WireCode(), Message: appErr.Message, Code: appErr.StatusCode(),
				RequestID: requestID, Timestamp: time.Now().Format(time.RFC3339), Details: appErr.Details,
			})
		}

		if fiberErr, ok := err.(*fiber.Error); ok {
			return c.Status(fiberErr.Code).JSON(errorEnvelope{
				Error: "INTERNAL", Message: fiberErr.Message, Code: fiberErr.Code,
				RequestID: requestID, Timestamp: time.Now().Format(time.RFC3339),
			})
		}

		slog.Error("unhandled request error", "error", err, "path", c.Path(), "request_id", requestID)
		return c.Status(fiber.StatusInternalServerError).JSON(errorEnvelope{
			Error: "INTERNAL", Message: "an unexpected error occurred", Code: fiber.StatusInternalServerError,
			RequestID: requestID, Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}
