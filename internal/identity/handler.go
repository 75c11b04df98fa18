package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/domain"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// UserResponse is the customer-facing projection of a user.
type UserResponse struct {
	UserID      string        `json:"user_id"`
	Email       string        `json:"email"`
	FirstName   string        `json:"first_name,omitempty"`
	LastName    string        `json:"last_name,omitempty"`
	Status      domain.Status `json:"status"`
	KYCApproved bool          `json:"kyc_approved"`
	CreatedAt   time.Time     `json:"created_at"`
}

// UserView builds the response for u.
func UserView(u domain.User) UserResponse {
	return UserResponse{
		UserID:      u.UserID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Status:      u.Status,
		KYCApproved: u.Status.KYCApproved(),
		CreatedAt:   u.CreatedAt,
	}
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req Registration
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), req)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			return fiber.NewError(http.StatusBadRequest, verr.Message)
		case errors.Is(err, domain.ErrEmailTaken):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrCapacityExhausted):
			return fiber.NewError(http.StatusServiceUnavailable, "registration is temporarily unavailable")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusCreated).JSON(UserView(user))
}

// Me returns the authenticated user's profile and verification state.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("subject").(string) // middleware.LocalSubject
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing subject")
	}
	user, err := h.service.Get(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(UserView(user))
}
