package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v2:"
	inProgressMarker     = "__in_progress__"
	redisOpTimeout       = 2 * time.Second
)

var errInFlight = errors.New("request with this key is in flight")

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// replayCache holds reservations and finished responses in Redis.
type replayCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func (r replayCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

// lookup returns the stored response for key, errInFlight while the first
// request is still running, or redis.Nil when the key is unused.
func (r replayCache) lookup(key string) (*storedResponse, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	if string(raw) == inProgressMarker {
		return nil, errInFlight
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r replayCache) reserve(key string) (bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.rdb.SetNX(ctx, key, inProgressMarker, r.ttl).Result()
}

func (r replayCache) save(key string, resp storedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	ctx, cancel := r.ctx()
	defer cancel()
	return r.rdb.Set(ctx, key, payload, r.ttl).Err()
}

func (r replayCache) release(key string) {
	ctx, cancel := r.ctx()
	defer cancel()
	r.rdb.Del(ctx, key)
}

// Idempotency replays the stored response of an unsafe request that repeats
// its Idempotency-Key on the same method and path. Requests without the
// header pass through unless required is set. Failed requests are not
// stored, so the client may retry them with the same key.
func Idempotency(cache *redis.Client, ttl time.Duration, required bool, logger *slog.Logger) fiber.Handler {
	store := replayCache{rdb: cache, ttl: ttl}
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		switch method {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			if required {
				return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
			}
			return c.Next()
		}
		cacheKey := idempotencyPrefix + method + ":" + c.Path() + ":" + key
		log := logger.With("idempotency_key", key, "path", c.Path())

		stored, err := store.lookup(cacheKey)
		switch {
		case err == nil:
			if stored.ContentType != "" {
				c.Set(fiber.HeaderContentType, stored.ContentType)
			}
			c.Set("Idempotent-Replayed", "true")
			return c.Status(stored.Status).Send(stored.Body)
		case errors.Is(err, errInFlight):
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		case !errors.Is(err, redis.Nil):
			log.Error("idempotency lookup failed", "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}

		reserved, err := store.reserve(cacheKey)
		if err != nil {
			log.Error("idempotency reservation failed", "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		if err := c.Next(); err != nil {
			store.release(cacheKey)
			return err
		}

		resp := storedResponse{
			Status:      c.Response().StatusCode(),
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if resp.Status >= fiber.StatusInternalServerError {
			store.release(cacheKey)
			return nil
		}
		if err := store.save(cacheKey, resp); err != nil {
			log.Error("failed to persist idempotent response", "error", err)
			store.release(cacheKey)
		}
		return nil
	}
}
