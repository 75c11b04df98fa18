package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/infra"
)

// openTestStore connects to DATABASE_URL, applies the schema and empties the
// onboarding tables.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL required")
	}
	ctx := context.Background()
	pool, err := infra.NewPostgresPool(ctx, url, 20)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := infra.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE audit_logs, provisioning_wallets, provisioning_records, verification_events, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewPostgresStore(pool)
}

func seedPostgresUser(t *testing.T, s *PostgresStore, id string, status domain.Status) {
	t.Helper()
	err := s.CreateUser(context.Background(), domain.User{
		ID:           uuid.NewString(),
		UserID:       id,
		Email:        id + "@example.com",
		PasswordHash: []byte("hash"),
		Status:       status,
		Active:       true,
		CreatedAt:    t0,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestPostgresProcessEventReplayAndReprocess(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedPostgresUser(t, s, "NF-032025001", domain.StatusPending)

	ev := domain.VerificationEvent{EventID: "pg-evt-1", UserID: "NF-032025001", Type: "applicantReviewed", ReceivedAt: t0}
	res, err := s.ProcessEvent(ctx, ev, approve)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Duplicate || res.User.Status != domain.StatusApproved {
		t.Fatalf("unexpected result %+v", res)
	}
	ids, err := s.PendingProvisioning(ctx, t0, 10)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected pending marker with approval, got %v (%v)", ids, err)
	}

	res, err = s.ProcessEvent(ctx, ev, approve)
	if err != nil || !res.Duplicate {
		t.Fatalf("expected duplicate on replay, got %+v (%v)", res, err)
	}

	late := domain.VerificationEvent{EventID: "pg-evt-2", UserID: "NF-032025777", Type: "applicantPending", ReceivedAt: t0}
	if _, err := s.ProcessEvent(ctx, late, approve); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected unknown user, got %v", err)
	}
	late.Outcome = domain.OutcomeFailed
	late.Error = "user not found"
	if dup, err := s.RecordEvent(ctx, late); err != nil || dup {
		t.Fatalf("record failed event: dup=%v err=%v", dup, err)
	}

	seedPostgresUser(t, s, "NF-032025777", domain.StatusPending)
	res, err = s.ProcessEvent(ctx, late, approve)
	if err != nil || res.Duplicate {
		t.Fatalf("expected failed event to be reprocessed, got %+v (%v)", res, err)
	}
	stored, err := s.FindEvent(ctx, "pg-evt-2")
	if err != nil || stored.Outcome != domain.OutcomeProcessed || stored.UserID != "NF-032025777" {
		t.Fatalf("unexpected stored event %+v (%v)", stored, err)
	}
}

func TestPostgresConcurrentDeliveriesApplyOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedPostgresUser(t, s, "NF-032025001", domain.StatusPending)
	ev := domain.VerificationEvent{EventID: "pg-evt-same", UserID: "NF-032025001", Type: "applicantReviewed", ReceivedAt: t0}

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ProcessEvent(ctx, ev, approve)
			if err != nil {
				t.Errorf("process: %v", err)
				return
			}
			if !res.Duplicate {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected one delivery to apply, got %d", applied)
	}
	audit, err := s.ListAudit(ctx, "NF-032025001", 10)
	if err != nil || len(audit) != 1 {
		t.Fatalf("expected one audit entry, got %v (%v)", audit, err)
	}
}

func TestPostgresLeaseTakeoverAndRelease(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedPostgresUser(t, s, "NF-032025001", domain.StatusApproved)

	_, first, err := s.ClaimProvisioning(ctx, "NF-032025001", t0, time.Minute)
	if err != nil {
		t.Fatalf("claim first: %v", err)
	}
	if first.ClaimedFrom != domain.StatusApproved {
		t.Fatalf("expected claim from approved, got %s", first.ClaimedFrom)
	}
	_, second, err := s.ClaimProvisioning(ctx, "NF-032025001", t0.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}

	err = s.FinishProvisioning(ctx, "NF-032025001", first.AttemptCount, domain.StatusProvisioningFailed, "late", t0.Add(150*time.Second))
	if !errors.Is(err, domain.ErrLeaseLost) {
		t.Fatalf("expected stale finish to lose the lease, got %v", err)
	}
	if _, _, err := s.ClaimProvisioning(ctx, "NF-032025001", t0.Add(150*time.Second), time.Minute); !errors.Is(err, domain.ErrProvisioningInProgress) {
		t.Fatalf("expected second lease to still be held, got %v", err)
	}

	if err := s.ReleaseProvisioning(ctx, "NF-032025001", second.AttemptCount, domain.StatusApproved, t0.Add(160*time.Second)); err != nil {
		t.Fatalf("release: %v", err)
	}
	user, err := s.FindUser(ctx, "NF-032025001")
	if err != nil || user.Status != domain.StatusApproved {
		t.Fatalf("expected approved after release, got %s (%v)", user.Status, err)
	}
	ids, err := s.PendingProvisioning(ctx, t0.Add(160*time.Second), 10)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected released user to stay pending, got %v (%v)", ids, err)
	}

	_, third, err := s.ClaimProvisioning(ctx, "NF-032025001", t0.Add(170*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if err := s.FinishProvisioning(ctx, "NF-032025001", third.AttemptCount, domain.StatusProvisioned, "", t0.Add(180*time.Second)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	ids, _ = s.PendingProvisioning(ctx, t0.Add(time.Hour), 10)
	if len(ids) != 0 {
		t.Fatalf("expected nothing pending, got %v", ids)
	}
}
