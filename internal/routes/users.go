package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/auth"
	"github.com/novafi/novafi/internal/identity"
	"github.com/novafi/novafi/internal/wallet"
)

// UserDeps groups the customer-facing handlers and their guards. Nil guards are skipped.
type UserDeps struct {
	Identity    *identity.Handler
	Auth        *auth.Handler
	Wallets     *wallet.Handler
	RequireUser fiber.Handler
	RateLimit   fiber.Handler
	LoginLimit  fiber.Handler
	Idempotency fiber.Handler
}

// RegisterUserRoutes wires registration, login and the authenticated profile.
func RegisterUserRoutes(r fiber.Router, d UserDeps) {
	group := r.Group("/users")
	group.Post("/register", chain(d.Identity.Register, d.RateLimit, d.Idempotency)...)
	group.Post("/login", chain(d.Auth.Login, d.LoginLimit)...)

	me := group.Group("/me", d.RequireUser)
	me.Get("/", d.Identity.Me)
	me.Get("/wallets", d.Wallets.MyWallets)
}

func chain(h fiber.Handler, guards ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(guards)+1)
	for _, g := range guards {
		if g != nil {
			out = append(out, g)
		}
	}
	return append(out, h)
}
