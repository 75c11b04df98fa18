package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/novafi/novafi/internal/config"
	"github.com/novafi/novafi/internal/infra"
)

const dbMaxConns = 10

// OpenBackends connects every backend cfg names. The returned close function
// releases whatever was opened, in reverse order.
func OpenBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (Backends, func(), error) {
	var (
		b       Backends
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, dbMaxConns)
		if err != nil {
			return Backends{}, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, db.Close)
		b.DB = db
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			closeAll()
			return Backends{}, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		})
		b.Cache = cache
	}

	if cfg.AMQPURL != "" {
		conn, ch, err := infra.NewAMQPChannel(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			closeAll()
			return Backends{}, nil, err
		}
		closers = append(closers, func() {
			if err := ch.Close(); err != nil {
				logger.Warn("close amqp channel", "error", err)
			}
			if err := conn.Close(); err != nil {
				logger.Warn("close amqp connection", "error", err)
			}
		})
		b.Publisher = ch
	} else {
		logger.Info("AMQP_URL not set, notifications are logged only")
	}

	return b, closeAll, nil
}
