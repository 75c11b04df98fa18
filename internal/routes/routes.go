package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/novafi/novafi/internal/auth"
	"github.com/novafi/novafi/internal/config"
	"github.com/novafi/novafi/internal/identity"
	"github.com/novafi/novafi/internal/middleware"
	"github.com/novafi/novafi/internal/reconcile"
	"github.com/novafi/novafi/internal/wallet"
	"github.com/novafi/novafi/internal/webhook"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Identity  *identity.Service
	Tokens    *auth.Tokens
	Wallets   *wallet.Service
	Gateway   *webhook.Gateway
	Reconcile *reconcile.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.LogFormat == "text" {
		// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	} else {
		app.Use(middleware.Audit(d.Logger))
	}

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// The webhook is authenticated by its payload digest and deduplicated by
	// event id, so it sits outside the idempotency middleware.
	RegisterWebhookRoutes(api, webhook.NewHandler(d.Gateway))

	walletHandler := wallet.NewHandler(d.Wallets)
	api.Get("/currencies", walletHandler.Currencies)

	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, false, d.Logger)
	}
	RegisterUserRoutes(api, UserDeps{
		Identity:    identity.NewHandler(d.Identity),
		Auth:        auth.NewHandler(d.Identity, d.Tokens),
		Wallets:     walletHandler,
		RequireUser: middleware.JWTAuth(d.Tokens, auth.ScopeUser),
		RateLimit:   middleware.RateLimit(d.Cache, "register", d.Cfg.RegisterRatePerMin),
		LoginLimit:  middleware.RateLimit(d.Cache, "login", d.Cfg.RegisterRatePerMin),
		Idempotency: idempotency,
	})

	admin := api.Group("/admin", middleware.JWTAuth(d.Tokens, auth.ScopeAdmin))
	if idempotency != nil {
		admin.Use(idempotency)
	}
	RegisterAdminRoutes(admin, reconcile.NewHandler(d.Reconcile), walletHandler)

	return nil
}
