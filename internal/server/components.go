package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/novafi/novafi/internal/auth"
	"github.com/novafi/novafi/internal/config"
	"github.com/novafi/novafi/internal/custody"
	"github.com/novafi/novafi/internal/extapi"
	"github.com/novafi/novafi/internal/identity"
	"github.com/novafi/novafi/internal/notification"
	"github.com/novafi/novafi/internal/processor"
	"github.com/novafi/novafi/internal/provisioning"
	"github.com/novafi/novafi/internal/reconcile"
	"github.com/novafi/novafi/internal/repository"
	"github.com/novafi/novafi/internal/signing"
	"github.com/novafi/novafi/internal/userid"
	"github.com/novafi/novafi/internal/wallet"
	"github.com/novafi/novafi/internal/webhook"
)

// Backends are the external connections a process opened. Any of them may be
// nil in dev mode, in which case in-memory stand-ins are used.
type Backends struct {
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Publisher notification.Publisher
}

// Components is the wired service graph shared by the API and the CLI.
type Components struct {
	Store        repository.Store
	Allocator    userid.Allocator
	Notifier     notification.Notifier
	Tokens       *auth.Tokens
	Identity     *identity.Service
	Wallets      *wallet.Service
	Orchestrator *provisioning.Orchestrator
	Dispatcher   *provisioning.Dispatcher
	Gateway      *webhook.Gateway
	Reconcile    *reconcile.Service
}

// NewComponents builds the service graph from configuration and backends.
func NewComponents(cfg config.Config, b Backends, logger *slog.Logger) (*Components, error) {
	if !cfg.IsDev() {
		if b.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", cfg.AppEnv)
		}
		if !cfg.Processor.Enabled() || !cfg.Custody.Enabled() {
			return nil, fmt.Errorf("processor and custody endpoints are required when APP_ENV=%s", cfg.AppEnv)
		}
	}

	var (
		store     repository.Store
		allocator userid.Allocator
	)
	if b.DB != nil {
		store = repository.NewPostgresStore(b.DB)
		allocator = userid.NewPostgresAllocator(b.DB)
	} else {
		logger.Warn("no database configured, using in-memory store")
		store = repository.NewMemoryStore()
		allocator = userid.NewMemoryAllocator()
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if b.Publisher != nil {
		notifier = notification.NewAMQPNotifier(b.Publisher, cfg.AMQPExchange)
	}

	p := cfg.Provisioning
	httpClient := &http.Client{}

	var customers processor.Client
	if cfg.Processor.Enabled() {
		signer := signing.NewSigner(signing.Credentials{ID: cfg.Processor.KeyID, Key: []byte(cfg.Processor.Secret)})
		customers = processor.NewHTTPClient(extapi.New(cfg.Processor.BaseURL, signer, httpClient, p.CallTimeout))
	} else {
		logger.Warn("PROCESSOR_BASE_URL not set, using payment processor simulator")
		customers = processor.NewStaticClient()
	}

	var wallets custody.Client
	if cfg.Custody.Enabled() {
		signer := signing.NewSigner(signing.Credentials{ID: cfg.Custody.KeyID, Key: []byte(cfg.Custody.Secret)})
		wallets = custody.NewHTTPClient(extapi.New(cfg.Custody.BaseURL, signer, httpClient, p.CallTimeout))
	} else {
		logger.Warn("CUSTODY_BASE_URL not set, using custody simulator")
		wallets = custody.NewStaticClient()
	}

	orchestrator := provisioning.NewOrchestrator(store, customers, wallets, notifier, logger, provisioning.Config{
		Targets: cfg.WalletTargets,
		Retry: provisioning.RetryPolicy{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   p.BaseBackoff,
			MaxDelay:    p.MaxBackoff,
			CallTimeout: p.CallTimeout,
		},
		LeaseTTL: p.LeaseTTL,
	})
	dispatcher := provisioning.NewDispatcher(orchestrator, store, logger, provisioning.DispatcherConfig{
		Workers:  p.Workers,
		Schedule: p.SweepSchedule,
	})

	return &Components{
		Store:        store,
		Allocator:    allocator,
		Notifier:     notifier,
		Tokens:       auth.NewTokens(cfg.AdminJWTSecret, cfg.UserTokenTTL),
		Identity:     identity.NewService(store, allocator),
		Wallets:      wallet.NewService(store, cfg.WalletTargets),
		Orchestrator: orchestrator,
		Dispatcher:   dispatcher,
		Gateway:      webhook.NewGateway(store, webhook.NewVerifier(cfg.KYCWebhookSecret), dispatcher, notifier, logger),
		Reconcile:    reconcile.NewService(store, orchestrator, allocator, logger),
	}, nil
}
