package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/novafi/novafi/internal/wallet"
)

const (
	defaultAppName        = "NovaFi"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultAMQPExchange   = "novafi.events"
	defaultSweepSchedule  = "@every 1m"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	AMQPURL        string
	AMQPExchange   string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	AdminJWTSecret   string
	UserTokenTTL     time.Duration
	KYCWebhookSecret string

	Processor ExternalService
	Custody   ExternalService

	WalletTargets []wallet.Target

	Provisioning Provisioning

	RegisterRatePerMin int
}

// ExternalService holds the address and signing credentials of an upstream API.
type ExternalService struct {
	BaseURL string
	KeyID   string
	Secret  string
}

// Enabled reports whether a real upstream is configured.
func (s ExternalService) Enabled() bool { return s.BaseURL != "" }

// Provisioning tunes the orchestrator and its dispatcher.
type Provisioning struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	CallTimeout   time.Duration
	LeaseTTL      time.Duration
	SweepSchedule string
	Workers       int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		AMQPURL:          os.Getenv("AMQP_URL"),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", defaultAMQPExchange),
		AdminJWTSecret:   os.Getenv("ADMIN_JWT_SECRET"),
		KYCWebhookSecret: os.Getenv("KYC_WEBHOOK_SECRET"),
		Processor: ExternalService{
			BaseURL: strings.TrimRight(os.Getenv("PROCESSOR_BASE_URL"), "/"),
			KeyID:   os.Getenv("PROCESSOR_HAWK_ID"),
			Secret:  os.Getenv("PROCESSOR_SECRET"),
		},
		Custody: ExternalService{
			BaseURL: strings.TrimRight(os.Getenv("CUSTODY_BASE_URL"), "/"),
			KeyID:   os.Getenv("CUSTODY_KEY_ID"),
			Secret:  os.Getenv("CUSTODY_SECRET"),
		},
		Provisioning: Provisioning{
			SweepSchedule: getEnv("PROVISION_SWEEP_SCHEDULE", defaultSweepSchedule),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.UserTokenTTL, err = durationEnv("USER_TOKEN_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	p := &cfg.Provisioning
	if p.BaseBackoff, err = durationEnv("PROVISION_BASE_BACKOFF", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if p.MaxBackoff, err = durationEnv("PROVISION_MAX_BACKOFF", 8*time.Second); err != nil {
		return Config{}, err
	}
	if p.CallTimeout, err = durationEnv("EXTERNAL_CALL_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if p.LeaseTTL, err = durationEnv("PROVISION_LEASE_TTL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if p.MaxAttempts, err = intEnv("PROVISION_MAX_ATTEMPTS", 4); err != nil {
		return Config{}, err
	}
	if p.Workers, err = intEnv("PROVISION_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.RegisterRatePerMin, err = intEnv("REGISTER_RATE_PER_MIN", 5); err != nil {
		return Config{}, err
	}

	if raw := os.Getenv("WALLET_CURRENCIES"); raw != "" {
		targets, err := wallet.ParseSet(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid WALLET_CURRENCIES: %w", err)
		}
		cfg.WalletTargets = targets
	} else {
		cfg.WalletTargets = wallet.DefaultTargets(cfg.IsDev())
	}
	if worst := p.WorstCaseRun(len(cfg.WalletTargets)); p.LeaseTTL <= worst {
		return Config{}, fmt.Errorf("PROVISION_LEASE_TTL %s must exceed the longest provisioning run (%s)", p.LeaseTTL, worst)
	}

	if cfg.IsDev() {
		if cfg.AdminJWTSecret == "" {
			cfg.AdminJWTSecret = "dev-admin-secret"
		}
		if cfg.KYCWebhookSecret == "" {
			cfg.KYCWebhookSecret = "dev-webhook-secret"
		}
		return cfg, nil
	}

	required := []struct{ key, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
		{"ADMIN_JWT_SECRET", cfg.AdminJWTSecret},
		{"KYC_WEBHOOK_SECRET", cfg.KYCWebhookSecret},
		{"PROCESSOR_BASE_URL", cfg.Processor.BaseURL},
		{"CUSTODY_BASE_URL", cfg.Custody.BaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return Config{}, fmt.Errorf("%s must be set when APP_ENV=%s", r.key, cfg.AppEnv)
		}
	}
	return cfg, nil
}

// WorstCaseRun bounds one provisioning run: every call for the customer and
// each wallet exhausting its attempts with full timeouts and backoff.
func (p Provisioning) WorstCaseRun(wallets int) time.Duration {
	return time.Duration(p.MaxAttempts) * (p.CallTimeout + p.MaxBackoff) * time.Duration(1+wallets)
}

// IsDev reports whether in-memory stores and simulators may replace real backends.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads KEY_SECONDS as an integer, else KEY as a Go duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
