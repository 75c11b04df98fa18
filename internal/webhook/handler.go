package webhook

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/domain"
)

// Handler exposes the provider delivery endpoint.
type Handler struct {
	gateway *Gateway
}

// NewHandler builds the webhook HTTP handler.
func NewHandler(gateway *Gateway) *Handler {
	return &Handler{gateway: gateway}
}

// Receive ingests one delivery. Accepted, ignored and duplicate deliveries all
// answer 202 so the provider stops redelivering them.
func (h *Handler) Receive(c *fiber.Ctx) error {
	sig := Signature{
		Digest:    c.Get(HeaderDigest),
		Algorithm: c.Get(HeaderDigestAlg),
	}
	// fiber reuses the body buffer after the handler returns.
	raw := append([]byte(nil), c.Body()...)

	result, err := h.gateway.Ingest(c.UserContext(), raw, sig)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			return fiber.NewError(http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, domain.ErrMalformedPayload):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrUserNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, "webhook processing failed")
		}
	}
	return c.Status(http.StatusAccepted).JSON(result)
}
