package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novafi/novafi/internal/auth"
)

func TestJWTAuthScopes(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	app := fiber.New()
	app.Get("/admin", JWTAuth(tokens, auth.ScopeAdmin), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalAdminSubject).(string))
	})

	call := func(token string) (int, string) {
		req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
		if token != "" {
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, resp.Body)
		return resp.StatusCode, buf.String()
	}

	status, _ := call("")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = call("not-a-token")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	userToken, _, err := tokens.Issue("NF-032025001", []string{auth.ScopeUser}, 0)
	require.NoError(t, err)
	status, _ = call(userToken)
	assert.Equal(t, fiber.StatusForbidden, status)

	adminToken, _, err := tokens.IssueAdmin("ops@novafi", 0)
	require.NoError(t, err)
	status, body := call(adminToken)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ops@novafi", body)
}

func TestRateLimitPerEmail(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/register", RateLimit(cache, "register", 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(email string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/register", strings.NewReader(`{"email":"`+email+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusCreated, send("ada@example.com"))
	assert.Equal(t, fiber.StatusCreated, send("ADA@example.com"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("ada@example.com"))
	assert.Equal(t, fiber.StatusCreated, send("bob@example.com"))
	assert.True(t, mr.Exists("rl:register:ada@example.com"))
}

func TestRateLimitWithoutRedisIsNoop(t *testing.T) {
	app := fiber.New()
	app.Post("/register", RateLimit(nil, "register", 1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/register", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
}
