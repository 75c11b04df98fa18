// Package provisioning creates the processor customer and custody wallets for
// approved users, once per user, across crashes and retries.
package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/novafi/novafi/internal/custody"
	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/notification"
	"github.com/novafi/novafi/internal/processor"
	"github.com/novafi/novafi/internal/repository"
	"github.com/novafi/novafi/internal/wallet"
)

const defaultLeaseTTL = 10 * time.Minute

// Outcome reports what one provisioning run achieved.
type Outcome struct {
	UserID          string                 `json:"user_id"`
	Status          domain.Status          `json:"status"`
	Attempt         int                    `json:"attempt"`
	CustomerCreated bool                   `json:"customer_created"`
	CustomerID      string                 `json:"customer_id,omitempty"`
	WalletsCreated  map[string]bool        `json:"wallets_created"`
	Errors          map[string]ErrorDetail `json:"errors,omitempty"`
	// ExternalCalls counts create requests sent during this run.
	ExternalCalls int `json:"external_calls"`
}

// Complete reports whether every sub-resource exists.
func (o Outcome) Complete() bool {
	if !o.CustomerCreated {
		return false
	}
	for _, ok := range o.WalletsCreated {
		if !ok {
			return false
		}
	}
	return true
}

// Config tunes an Orchestrator.
type Config struct {
	Targets  []wallet.Target
	Retry    RetryPolicy
	LeaseTTL time.Duration
}

// Orchestrator drives customer and wallet creation for one user at a time.
type Orchestrator struct {
	store     repository.Store
	customers processor.Client
	wallets   custody.Client
	notifier  notification.Notifier
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewOrchestrator wires an orchestrator. A nil notifier disables notifications.
func NewOrchestrator(store repository.Store, customers processor.Client, wallets custody.Client, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		customers: customers,
		wallets:   wallets,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for leases and timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Provision takes the user's lease and creates whatever is still missing.
// It returns domain.ErrNotEligible or domain.ErrProvisioningInProgress
// (wrapped) when the lease cannot be taken. Resource failures are reported in
// the Outcome, not as an error. When ctx ends mid-run the lease is handed back
// with the user still pending and the context error is returned.
func (o *Orchestrator) Provision(ctx context.Context, userID string) (Outcome, error) {
	user, rec, err := o.store.ClaimProvisioning(ctx, userID, o.now(), o.cfg.LeaseTTL)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		UserID:         userID,
		Attempt:        rec.AttemptCount,
		WalletsCreated: make(map[string]bool, len(o.cfg.Targets)),
		Errors:         map[string]ErrorDetail{},
	}
	log := o.logger.With("user_id", userID, "attempt", rec.AttemptCount)
	log.Info("provisioning started")

	o.ensureCustomer(ctx, user, rec, &out, log)
	for _, target := range o.cfg.Targets {
		o.ensureWallet(ctx, userID, rec, target, &out, log)
	}

	// The lease must be released even when the caller's context is gone.
	finishCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil && !out.Complete() {
		out.Status = restoreStatus(rec.ClaimedFrom)
		if err := o.store.ReleaseProvisioning(finishCtx, userID, rec.AttemptCount, out.Status, o.now()); err != nil {
			return out, fmt.Errorf("release provisioning: %w", err)
		}
		log.Warn("provisioning interrupted, left pending", "status", out.Status, "error", ctx.Err())
		return out, fmt.Errorf("provisioning interrupted: %w", ctx.Err())
	}

	out.Status = domain.StatusProvisioned
	lastErr := ""
	if !out.Complete() {
		out.Status = domain.StatusProvisioningFailed
		lastErr = summarize(out.Errors)
	}

	if err := o.store.FinishProvisioning(finishCtx, userID, rec.AttemptCount, out.Status, lastErr, o.now()); err != nil {
		return out, fmt.Errorf("finish provisioning: %w", err)
	}

	if out.Status == domain.StatusProvisioned {
		log.Info("provisioning completed", "customer_id", out.CustomerID, "external_calls", out.ExternalCalls)
	} else {
		log.Warn("provisioning incomplete", "error", lastErr)
	}
	o.notify(finishCtx, out, log)
	return out, nil
}

func (o *Orchestrator) ensureCustomer(ctx context.Context, user domain.User, rec domain.ProvisioningRecord, out *Outcome, log *slog.Logger) {
	if user.ExternalCustomerID != "" {
		out.CustomerCreated = true
		out.CustomerID = user.ExternalCustomerID
		return
	}

	req := processor.CustomerRequest{
		ExternalReference: user.UserID,
		Email:             user.Email,
		FirstName:         user.FirstName,
		LastName:          user.LastName,
		Metadata:          verificationMetadata(user, rec),
	}
	key := CustomerKey(user.UserID)

	var cust processor.Customer
	attempts, err := o.cfg.Retry.Do(ctx, func(callCtx context.Context) error {
		out.ExternalCalls++
		var callErr error
		cust, callErr = o.customers.CreateCustomer(callCtx, req, key)
		return callErr
	})
	if err != nil {
		o.fail(out, &ResourceError{Resource: resourceCustomer, Attempts: attempts, Transient: IsTransient(err), Err: err}, log)
		return
	}
	if err := o.store.SaveCustomer(ctx, user.UserID, cust.ID, o.now()); err != nil {
		o.fail(out, &ResourceError{Resource: resourceCustomer, Attempts: attempts, Transient: true, Err: fmt.Errorf("save customer: %w", err)}, log)
		return
	}
	out.CustomerCreated = true
	out.CustomerID = cust.ID
	log.Info("customer ready", "customer_id", cust.ID, "existing", cust.Existing, "attempts", attempts)
}

func (o *Orchestrator) ensureWallet(ctx context.Context, userID string, rec domain.ProvisioningRecord, target wallet.Target, out *Outcome, log *slog.Logger) {
	if _, ok := rec.ActiveWallet(target.Currency); ok {
		out.WalletsCreated[target.Currency] = true
		return
	}
	out.WalletsCreated[target.Currency] = false

	req := custody.WalletRequest{
		Currency:   target.Currency,
		Network:    target.Network,
		ExternalID: WalletKey(userID, target.Currency),
		Tags:       map[string]string{"user_id": userID},
	}

	var created custody.Wallet
	attempts, err := o.cfg.Retry.Do(ctx, func(callCtx context.Context) error {
		out.ExternalCalls++
		var callErr error
		created, callErr = o.wallets.CreateWallet(callCtx, req)
		return callErr
	})

	now := o.now()
	entry := domain.WalletEntry{
		Currency:  target.Currency,
		Network:   target.Network,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err != nil {
		resErr := &ResourceError{Resource: walletResource(target.Currency), Attempts: attempts, Transient: IsTransient(err), Err: err}
		entry.Status = domain.WalletFailed
		entry.Error = resErr.Error()
		if saveErr := o.store.SaveWallet(ctx, userID, entry); saveErr != nil {
			log.Error("record wallet failure", "currency", target.Currency, "error", saveErr)
		}
		o.fail(out, resErr, log)
		return
	}

	if created.Network != "" {
		entry.Network = created.Network
	}
	entry.Address = created.Address
	entry.ExternalWalletID = created.ID
	entry.Status = domain.WalletActive
	if err := o.store.SaveWallet(ctx, userID, entry); err != nil {
		o.fail(out, &ResourceError{Resource: walletResource(target.Currency), Attempts: attempts, Transient: true, Err: fmt.Errorf("save wallet: %w", err)}, log)
		return
	}
	out.WalletsCreated[target.Currency] = true
	log.Info("wallet ready", "currency", target.Currency, "network", entry.Network, "existing", created.Existing, "attempts", attempts)
}

func (o *Orchestrator) fail(out *Outcome, err *ResourceError, log *slog.Logger) {
	out.Errors[err.Resource] = detailOf(err)
	log.Warn("resource provisioning failed", "resource", err.Resource, "attempts", err.Attempts, "transient", err.Transient, "error", err.Err)
}

func (o *Orchestrator) notify(ctx context.Context, out Outcome, log *slog.Logger) {
	if o.notifier == nil {
		return
	}
	kind := notification.KindProvisioningCompleted
	if out.Status != domain.StatusProvisioned {
		kind = notification.KindProvisioningFailed
	}
	data := map[string]any{
		"status":          string(out.Status),
		"attempt":         out.Attempt,
		"customer_id":     out.CustomerID,
		"wallets_created": out.WalletsCreated,
	}
	if len(out.Errors) > 0 {
		data["errors"] = out.Errors
	}
	msg := notification.Message{Kind: kind, UserID: out.UserID, Data: data, OccurredAt: o.now()}
	if err := o.notifier.Send(ctx, msg); err != nil {
		log.Error("send provisioning notification", "kind", kind, "error", err)
	}
}

// restoreStatus is where an interrupted run leaves the user. A run that took
// over an expired lease goes back to approved.
func restoreStatus(claimedFrom domain.Status) domain.Status {
	switch claimedFrom {
	case domain.StatusApproved, domain.StatusProvisioningFailed, domain.StatusProvisioned:
		return claimedFrom
	default:
		return domain.StatusApproved
	}
}

func verificationMetadata(user domain.User, rec domain.ProvisioningRecord) map[string]string {
	meta := map[string]string{"userId": user.UserID}
	level := rec.VerificationLevel
	if level == "" {
		level = user.VerificationLevel
	}
	if level != "" {
		meta["verificationLevel"] = level
	}
	verifiedAt := rec.VerifiedAt
	if verifiedAt == nil {
		verifiedAt = user.VerifiedAt
	}
	if verifiedAt != nil {
		meta["verifiedAt"] = verifiedAt.UTC().Format(time.RFC3339)
	}
	return meta
}

func summarize(errs map[string]ErrorDetail) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+errs[k].Message)
	}
	return strings.Join(parts, "; ")
}
