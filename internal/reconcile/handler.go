package reconcile

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/middleware"
	"github.com/novafi/novafi/internal/provisioning"
)

// Handler exposes the admin endpoints. Routes must sit behind admin auth.
type Handler struct {
	service *Service
}

// NewHandler builds the admin HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type customerResponse struct {
	UserID             string        `json:"user_id"`
	Email              string        `json:"email"`
	FirstName          string        `json:"first_name"`
	LastName           string        `json:"last_name"`
	Status             domain.Status `json:"status"`
	KYCApproved        bool          `json:"kyc_approved"`
	ApplicantID        string        `json:"applicant_id,omitempty"`
	VerificationLevel  string        `json:"verification_level,omitempty"`
	VerifiedAt         *time.Time    `json:"verified_at,omitempty"`
	ReviewAnswer       string        `json:"review_answer,omitempty"`
	ExternalCustomerID string        `json:"external_customer_id,omitempty"`
	CustomerCreatedAt  *time.Time    `json:"customer_created_at,omitempty"`
	Active             bool          `json:"active"`
	CreatedAt          time.Time     `json:"created_at"`
}

type walletResponse struct {
	Currency         string `json:"currency"`
	Network          string `json:"network"`
	Address          string `json:"address,omitempty"`
	ExternalWalletID string `json:"external_wallet_id,omitempty"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
}

type provisioningResponse struct {
	AttemptCount int              `json:"attempt_count"`
	LastError    string           `json:"last_error,omitempty"`
	PendingSince *time.Time       `json:"pending_since,omitempty"`
	LeaseUntil   *time.Time       `json:"lease_until,omitempty"`
	Wallets      []walletResponse `json:"wallets"`
}

type eventResponse struct {
	EventID      string    `json:"event_id"`
	Type         string    `json:"type"`
	ReviewAnswer string    `json:"review_answer,omitempty"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

type auditResponse struct {
	Actor     string        `json:"actor"`
	Action    string        `json:"action"`
	OldStatus domain.Status `json:"old_status,omitempty"`
	NewStatus domain.Status `json:"new_status,omitempty"`
	Comment   string        `json:"comment,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func customerView(u domain.User) customerResponse {
	return customerResponse{
		UserID:             u.UserID,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Status:             u.Status,
		KYCApproved:        u.Status.KYCApproved(),
		ApplicantID:        u.ApplicantID,
		VerificationLevel:  u.VerificationLevel,
		VerifiedAt:         u.VerifiedAt,
		ReviewAnswer:       u.ReviewAnswer,
		ExternalCustomerID: u.ExternalCustomerID,
		CustomerCreatedAt:  u.CustomerCreatedAt,
		Active:             u.Active,
		CreatedAt:          u.CreatedAt,
	}
}

func provisioningView(r domain.ProvisioningRecord) provisioningResponse {
	out := provisioningResponse{
		AttemptCount: r.AttemptCount,
		LastError:    r.LastError,
		PendingSince: r.PendingSince,
		LeaseUntil:   r.LeaseUntil,
		Wallets:      make([]walletResponse, 0, len(r.Wallets)),
	}
	for _, w := range r.Wallets {
		out.Wallets = append(out.Wallets, walletResponse{
			Currency:         w.Currency,
			Network:          w.Network,
			Address:          w.Address,
			ExternalWalletID: w.ExternalWalletID,
			Status:           string(w.Status),
			Error:            w.Error,
		})
	}
	return out
}

func auditViews(entries []domain.AuditEntry) []auditResponse {
	out := make([]auditResponse, 0, len(entries))
	for _, a := range entries {
		out = append(out, auditResponse{Actor: a.Actor, Action: a.Action, OldStatus: a.OldStatus, NewStatus: a.NewStatus, Comment: a.Comment, CreatedAt: a.CreatedAt})
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotEligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProvisioningInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// List returns a page of customers.
func (h *Handler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "0"))
	size, _ := strconv.Atoi(c.Query("size", "20"))
	filter := domain.UserFilter{
		Status: domain.Status(strings.ToLower(c.Query("status"))),
		Search: strings.TrimSpace(c.Query("search")),
		Page:   page,
		Size:   size,
	}
	result, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		if filter.Status != "" && !filter.Status.Valid() {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	users := make([]customerResponse, 0, len(result.Users))
	for _, u := range result.Users {
		users = append(users, customerView(u))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"customers": users,
		"total":     result.Total,
		"page":      result.Page,
		"size":      result.Size,
	})
}

// Detail returns one customer with provisioning state, events and audit.
func (h *Handler) Detail(c *fiber.Ctx) error {
	d, err := h.service.Detail(c.UserContext(), c.Params("userId"))
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	events := make([]eventResponse, 0, len(d.Events))
	for _, ev := range d.Events {
		events = append(events, eventResponse{
			EventID:      ev.EventID,
			Type:         ev.Type,
			ReviewAnswer: ev.ReviewAnswer,
			Outcome:      string(ev.Outcome),
			Error:        ev.Error,
			ReceivedAt:   ev.ReceivedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"customer":     customerView(d.User),
		"provisioning": provisioningView(d.Record),
		"events":       events,
		"audit":        auditViews(d.Audit),
	})
}

// Audit returns the audit trail for one customer.
func (h *Handler) Audit(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	entries, err := h.service.Audit(c.UserContext(), c.Params("userId"), limit)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user_id": c.Params("userId"), "audit": auditViews(entries)})
}

// Stats returns counts by status.
func (h *Handler) Stats(c *fiber.Ctx) error {
	st, err := h.service.Stats(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(st)
}

// RetryProvisioning re-drives provisioning and returns the outcome.
func (h *Handler) RetryProvisioning(c *fiber.Ctx) error {
	actor, _ := c.Locals(middleware.LocalAdminSubject).(string)
	if actor == "" {
		actor = "admin"
	}
	out, err := h.service.RetryProvisioning(c.UserContext(), c.Params("userId"), actor)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(retryResponse(out))
}

func retryResponse(out provisioning.Outcome) fiber.Map {
	return fiber.Map{
		"user_id":          out.UserID,
		"status":           out.Status,
		"complete":         out.Complete(),
		"attempt":          out.Attempt,
		"customer_created": out.CustomerCreated,
		"customer_id":      out.CustomerID,
		"wallets_created":  out.WalletsCreated,
		"errors":           out.Errors,
		"external_calls":   out.ExternalCalls,
	}
}

// CurrentIdentifiers reports allocator usage for the running period.
func (h *Handler) CurrentIdentifiers(c *fiber.Ctx) error {
	st, err := h.service.IdentifierStats(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(st)
}
