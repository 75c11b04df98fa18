// Package reconcile is the administrative view of the pipeline: aggregate and
// per-user queries, and the manual re-drive of incomplete provisioning.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/provisioning"
	"github.com/novafi/novafi/internal/repository"
	"github.com/novafi/novafi/internal/userid"
)

const (
	detailEventLimit = 20
	detailAuditLimit = 50
)

// Stats aggregates users by status.
type Stats struct {
	Total    int                   `json:"total"`
	Verified int                   `json:"verified"`
	ByStatus map[domain.Status]int `json:"by_status"`
}

// Detail is everything an operator needs to decide on a retry.
type Detail struct {
	User   domain.User
	Record domain.ProvisioningRecord
	Events []domain.VerificationEvent
	Audit  []domain.AuditEntry
}

// Page is one slice of the admin list.
type Page struct {
	Users []domain.User
	Total int
	Page  int
	Size  int
}

// Service backs the admin surface.
type Service struct {
	store       repository.Store
	provisioner provisioning.Provisioner
	allocator   userid.Allocator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds the reconciliation service.
func NewService(store repository.Store, provisioner provisioning.Provisioner, allocator userid.Allocator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		provisioner: provisioner,
		allocator:   allocator,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RetryProvisioning re-drives provisioning for userID on behalf of actor. It is
// safe to repeat: resources that already exist are not requested again.
func (s *Service) RetryProvisioning(ctx context.Context, userID, actor string) (provisioning.Outcome, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return provisioning.Outcome{}, err
	}
	switch user.Status {
	case domain.StatusApproved, domain.StatusProvisioned, domain.StatusProvisioningFailed:
	case domain.StatusProvisioningInProgress:
		// The store decides whether the lease has expired.
	default:
		return provisioning.Outcome{}, fmt.Errorf("%w: status %s", domain.ErrNotEligible, user.Status)
	}

	out, err := s.provisioner.Provision(ctx, userID)
	if err != nil {
		return provisioning.Outcome{}, err
	}

	comment := fmt.Sprintf("attempt %d", out.Attempt)
	if len(out.Errors) > 0 {
		comment += fmt.Sprintf(", %d resource(s) failed", len(out.Errors))
	}
	entry := domain.AuditEntry{
		UserID:    userID,
		Actor:     actor,
		Action:    domain.AuditProvisioningRetry,
		OldStatus: user.Status,
		NewStatus: out.Status,
		Comment:   comment,
		CreatedAt: s.now(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("write retry audit", "user_id", userID, "error", err)
	}
	s.logger.Info("provisioning retried", "user_id", userID, "actor", actor, "status", out.Status)
	return out, nil
}

// Stats counts users per status. Every status is present, zero included.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByStatus: make(map[domain.Status]int, len(domain.AllStatuses))}
	for _, status := range domain.AllStatuses {
		n := counts[status]
		st.ByStatus[status] = n
		st.Total += n
		if status.KYCApproved() {
			st.Verified += n
		}
	}
	return st, nil
}

// Detail loads the user with provisioning state, recent events and audit trail.
func (s *Service) Detail(ctx context.Context, userID string) (Detail, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return Detail{}, err
	}
	rec, err := s.store.ProvisioningRecord(ctx, userID)
	if err != nil {
		return Detail{}, err
	}
	events, err := s.store.ListEvents(ctx, userID, detailEventLimit)
	if err != nil {
		return Detail{}, err
	}
	audit, err := s.store.ListAudit(ctx, userID, detailAuditLimit)
	if err != nil {
		return Detail{}, err
	}
	return Detail{User: user, Record: rec, Events: events, Audit: audit}, nil
}

// List pages through users, newest first.
func (s *Service) List(ctx context.Context, filter domain.UserFilter) (Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return Page{}, fmt.Errorf("unknown status %q", filter.Status)
	}
	users, total, err := s.store.ListUsers(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	size := filter.Size
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return Page{Users: users, Total: total, Page: filter.Page, Size: size}, nil
}

// Audit returns the latest audit entries for userID.
func (s *Service) Audit(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	if _, err := s.store.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, userID, limit)
}

// IdentifierStats reports allocator usage for the current period.
func (s *Service) IdentifierStats(ctx context.Context) (userid.Stats, error) {
	return userid.PeriodStats(ctx, s.allocator, userid.PeriodOf(s.now()))
}
