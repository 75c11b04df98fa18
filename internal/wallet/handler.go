package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/middleware"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type currencyResponse struct {
	Symbol    string            `json:"symbol"`
	Name      string            `json:"name"`
	Networks  []string          `json:"networks"`
	Contracts map[string]string `json:"contract_addresses,omitempty"`
	Decimals  int               `json:"decimals"`
}

type targetResponse struct {
	Currency string `json:"currency"`
	Network  string `json:"network"`
}

// Currencies returns the catalog and the set every user receives.
func (h *Handler) Currencies(c *fiber.Ctx) error {
	currencies := make([]currencyResponse, 0)
	for _, cur := range Catalog() {
		currencies = append(currencies, currencyResponse{
			Symbol:    cur.Symbol,
			Name:      cur.Name,
			Networks:  cur.Networks,
			Contracts: cur.Contracts,
			Decimals:  cur.Decimals,
		})
	}
	targets := make([]targetResponse, 0, len(h.service.Targets()))
	for _, t := range h.service.Targets() {
		targets = append(targets, targetResponse{Currency: t.Currency, Network: t.Network})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"currencies":  currencies,
		"provisioned": targets,
	})
}

// UserWallets lists the configured wallets for one user.
func (h *Handler) UserWallets(c *fiber.Ctx) error {
	views, err := h.service.ForUser(c.UserContext(), c.Params("userId"))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user_id": c.Params("userId"), "wallets": views})
}

// MyWallets lists the wallets of the authenticated user.
func (h *Handler) MyWallets(c *fiber.Ctx) error {
	userID, _ := c.Locals(middleware.LocalSubject).(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing subject")
	}
	views, err := h.service.ForUser(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user_id": userID, "wallets": views})
}
