package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/reconcile"
	"github.com/novafi/novafi/internal/wallet"
	"github.com/novafi/novafi/internal/webhook"
)

// RegisterAdminRoutes wires the reconciliation endpoints. r must already
// enforce the admin capability.
func RegisterAdminRoutes(r fiber.Router, h *reconcile.Handler, wallets *wallet.Handler) {
	r.Get("/stats", h.Stats)
	r.Get("/identifiers/current", h.CurrentIdentifiers)

	customers := r.Group("/customers")
	customers.Get("/", h.List)
	customers.Get("/:userId", h.Detail)
	customers.Get("/:userId/audit", h.Audit)
	customers.Get("/:userId/wallets", wallets.UserWallets)
	customers.Post("/:userId/retry-provisioning", h.RetryProvisioning)
}

// RegisterWebhookRoutes wires the identity-verification provider callback.
func RegisterWebhookRoutes(r fiber.Router, h *webhook.Handler) {
	r.Post("/webhooks/kyc", h.Receive)
}
