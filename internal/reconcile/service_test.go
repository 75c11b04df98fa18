package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novafi/novafi/internal/custody"
	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/extapi"
	"github.com/novafi/novafi/internal/logging"
	"github.com/novafi/novafi/internal/middleware"
	"github.com/novafi/novafi/internal/processor"
	"github.com/novafi/novafi/internal/provisioning"
	"github.com/novafi/novafi/internal/repository"
	"github.com/novafi/novafi/internal/userid"
	"github.com/novafi/novafi/internal/wallet"
)

type env struct {
	store     repository.Store
	customers *processor.StaticClient
	wallets   *custody.StaticClient
	svc       *Service
}

func newEnv(t *testing.T, users map[string]domain.Status) env {
	t.Helper()
	store := repository.NewMemoryStore()
	created := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	for id, status := range users {
		i++
		require.NoError(t, store.CreateUser(context.Background(), domain.User{
			UserID:    id,
			Email:     id + "@example.com",
			Status:    status,
			Active:    true,
			CreatedAt: created.Add(time.Duration(i) * time.Minute),
		}))
	}
	customers := processor.NewStaticClient()
	wallets := custody.NewStaticClient()
	orch := provisioning.NewOrchestrator(store, customers, wallets, nil, logging.Discard(), provisioning.Config{
		Targets: wallet.DefaultTargets(true),
		Retry:   provisioning.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, CallTimeout: time.Second},
	})
	return env{store: store, customers: customers, wallets: wallets, svc: NewService(store, orch, userid.NewMemoryAllocator(), logging.Discard())}
}

func TestRetryProvisioningPreconditions(t *testing.T) {
	e := newEnv(t, map[string]domain.Status{
		"NF-032025001": domain.StatusUnverified,
		"NF-032025002": domain.StatusPending,
		"NF-032025003": domain.StatusRejected,
		"NF-032025004": domain.StatusOnHold,
	})
	for _, id := range []string{"NF-032025001", "NF-032025002", "NF-032025003", "NF-032025004"} {
		_, err := e.svc.RetryProvisioning(context.Background(), id, "ops")
		assert.True(t, errors.Is(err, domain.ErrNotEligible), id)
	}
	_, err := e.svc.RetryProvisioning(context.Background(), "NF-032025999", "ops")
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))
	assert.Zero(t, e.customers.Calls)
}

func TestRetryCompletesMissingWalletAndAudits(t *testing.T) {
	e := newEnv(t, map[string]domain.Status{"NF-032025001": domain.StatusApproved})
	e.wallets.FailCurrency("USDC", &extapi.APIError{StatusCode: http.StatusBadRequest, Message: "rejected"})

	first, err := e.svc.RetryProvisioning(context.Background(), "NF-032025001", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProvisioningFailed, first.Status)

	e.wallets.FailCurrency("USDC", nil)
	second, err := e.svc.RetryProvisioning(context.Background(), "NF-032025001", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProvisioned, second.Status)
	assert.Equal(t, 1, e.wallets.Calls["USDT"])
	assert.Equal(t, 2, e.wallets.Calls["USDC"])

	audit, err := e.svc.Audit(context.Background(), "NF-032025001", 10)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, domain.AuditProvisioningRetry, audit[0].Action)
	assert.Equal(t, domain.StatusProvisioningFailed, audit[0].OldStatus)
	assert.Equal(t, domain.StatusProvisioned, audit[0].NewStatus)
	assert.Equal(t, "ops", audit[0].Actor)
}

func TestRetryOnProvisionedUserIsSideEffectFree(t *testing.T) {
	e := newEnv(t, map[string]domain.Status{"NF-032025001": domain.StatusApproved})
	_, err := e.svc.RetryProvisioning(context.Background(), "NF-032025001", "ops")
	require.NoError(t, err)
	customerCalls, walletCalls := e.customers.Calls, e.wallets.TotalCalls()

	out, err := e.svc.RetryProvisioning(context.Background(), "NF-032025001", "ops")
	require.NoError(t, err)
	assert.True(t, out.Complete())
	assert.Zero(t, out.ExternalCalls)
	assert.Equal(t, customerCalls, e.customers.Calls)
	assert.Equal(t, walletCalls, e.wallets.TotalCalls())
}

func TestStatsAndList(t *testing.T) {
	e := newEnv(t, map[string]domain.Status{
		"NF-032025001": domain.StatusPending,
		"NF-032025002": domain.StatusProvisioned,
		"NF-032025003": domain.StatusProvisioningFailed,
	})

	st, err := e.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Verified)
	assert.Len(t, st.ByStatus, len(domain.AllStatuses))
	assert.Zero(t, st.ByStatus[domain.StatusRejected])

	page, err := e.svc.List(context.Background(), domain.UserFilter{Status: domain.StatusProvisioned})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "NF-032025002", page.Users[0].UserID)

	_, err = e.svc.List(context.Background(), domain.UserFilter{Status: "bogus"})
	assert.Error(t, err)
}

func TestIdentifierStats(t *testing.T) {
	e := newEnv(t, nil)
	st, err := e.svc.IdentifierStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, userid.MaxSequence, st.Remaining)
	assert.False(t, st.IsFull)
}

func TestHandlerRetryAndDetail(t *testing.T) {
	e := newEnv(t, map[string]domain.Status{"NF-032025001": domain.StatusApproved, "NF-032025002": domain.StatusPending})
	h := NewHandler(e.svc)
	app := fiber.New()
	app.Post("/customers/:userId/retry-provisioning", h.RetryProvisioning)
	app.Get("/customers/:userId", h.Detail)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/customers/NF-032025001/retry-provisioning", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "provisioned", body["status"])
	assert.Equal(t, true, body["complete"])

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/customers/NF-032025002/retry-provisioning", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/customers/NF-032025001", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var detail map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	customer := detail["customer"].(map[string]any)
	assert.NotContains(t, customer, "PasswordHash")
	assert.NotEmpty(t, customer["external_customer_id"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/customers/NF-000000000", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerRetryRecordsAdminSubject(t *testing.T) {
	e := newEnv(t, map[string]domain.Status{"NF-032025001": domain.StatusApproved})
	app := fiber.New()
	app.Post("/customers/:userId/retry-provisioning", func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalAdminSubject, "ops@novafi")
		return c.Next()
	}, NewHandler(e.svc).RetryProvisioning)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/customers/NF-032025001/retry-provisioning", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	audit, err := e.svc.Audit(context.Background(), "NF-032025001", 10)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, "ops@novafi", audit[0].Actor)
}
