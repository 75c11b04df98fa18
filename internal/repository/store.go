package repository

import (
	"context"
	"time"

	"github.com/novafi/novafi/internal/domain"
)

// TransitionFunc decides the status update for the locked user while an event is
// being processed. It runs inside the store's transaction and must not block.
type TransitionFunc func(user domain.User) (domain.StatusUpdate, domain.EventOutcome, error)

// EventResult reports what ProcessEvent did.
type EventResult struct {
	Duplicate bool
	Outcome   domain.EventOutcome
	From      domain.Status
	Update    domain.StatusUpdate
	User      domain.User
}

// Store is the full persistence surface of the onboarding pipeline.
type Store interface {
	CreateUser(ctx context.Context, user domain.User) error
	FindUser(ctx context.Context, userID string) (domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)
	ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, int, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)

	// ProcessEvent claims ev for processing, locks its user, applies fn and records
	// the outcome atomically. When fn requests provisioning the pending marker is
	// written in the same transaction as the status.
	ProcessEvent(ctx context.Context, ev domain.VerificationEvent, fn TransitionFunc) (EventResult, error)
	// RecordEvent stores an event that never reached a user. It reports
	// duplicate=true when a settled record already exists.
	RecordEvent(ctx context.Context, ev domain.VerificationEvent) (bool, error)
	FindEvent(ctx context.Context, eventID string) (domain.VerificationEvent, error)
	ListEvents(ctx context.Context, userID string, limit int) ([]domain.VerificationEvent, error)

	// ClaimProvisioning takes the user's lease. The returned record's
	// AttemptCount identifies the lease for FinishProvisioning and
	// ReleaseProvisioning.
	ClaimProvisioning(ctx context.Context, userID string, now time.Time, lease time.Duration) (domain.User, domain.ProvisioningRecord, error)
	SaveCustomer(ctx context.Context, userID, customerID string, at time.Time) error
	SaveWallet(ctx context.Context, userID string, wallet domain.WalletEntry) error
	// FinishProvisioning writes the final status and clears the lease and the
	// pending marker. It fails with domain.ErrLeaseLost when attempt no longer
	// holds the lease.
	FinishProvisioning(ctx context.Context, userID string, attempt int, status domain.Status, lastErr string, now time.Time) error
	// ReleaseProvisioning gives up an interrupted lease: the user returns to
	// restore and keeps a pending marker so the sweeper runs it again.
	ReleaseProvisioning(ctx context.Context, userID string, attempt int, restore domain.Status, now time.Time) error
	ProvisioningRecord(ctx context.Context, userID string) (domain.ProvisioningRecord, error)
	PendingProvisioning(ctx context.Context, now time.Time, limit int) ([]string, error)
	ClearPending(ctx context.Context, userID string) error

	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	ListAudit(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error)
}

// claimable reports whether a user in status may take the provisioning lease.
func claimable(status domain.Status, leaseUntil *time.Time, now time.Time) error {
	switch status {
	case domain.StatusApproved, domain.StatusProvisioningFailed, domain.StatusProvisioned:
		return nil
	case domain.StatusProvisioningInProgress:
		if leaseUntil == nil || !leaseUntil.After(now) {
			return nil
		}
		return domain.ErrProvisioningInProgress
	default:
		return domain.ErrNotEligible
	}
}

func normalizePage(f domain.UserFilter) domain.UserFilter {
	if f.Page < 0 {
		f.Page = 0
	}
	if f.Size <= 0 {
		f.Size = 20
	}
	if f.Size > 100 {
		f.Size = 100
	}
	return f
}
