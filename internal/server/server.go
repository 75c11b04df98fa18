package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/config"
	"github.com/novafi/novafi/internal/routes"
)

// Server wraps the Fiber application, the provisioning workers and shared dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	components *Components
	logger     *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, b Backends, logger *slog.Logger) (*Server, error) {
	components, err := NewComponents(cfg, b, logger)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	err = routes.Setup(app, routes.Deps{
		Cfg:       cfg,
		DB:        b.DB,
		Cache:     b.Cache,
		Logger:    logger,
		Identity:  components.Identity,
		Tokens:    components.Tokens,
		Wallets:   components.Wallets,
		Gateway:   components.Gateway,
		Reconcile: components.Reconcile,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, components: components, logger: logger}, nil
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Components exposes the wired service graph.
func (s *Server) Components() *Components { return s.components }

// Listen starts the provisioning workers and then the HTTP server. It blocks
// until the listener stops.
func (s *Server) Listen(ctx context.Context) error {
	if err := s.components.Dispatcher.Start(ctx); err != nil {
		return err
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then drains the provisioning workers.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	return s.components.Dispatcher.Stop(ctx)
}
