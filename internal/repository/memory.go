package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novafi/novafi/internal/domain"
)

type memoryStore struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	emails  map[string]string
	events  map[string]domain.VerificationEvent
	records map[string]domain.ProvisioningRecord
	audit   []domain.AuditEntry
}

// NewMemoryStore builds an in-memory store for tests and dev mode.
func NewMemoryStore() Store {
	return &memoryStore{
		users:   make(map[string]domain.User),
		emails:  make(map[string]string),
		events:  make(map[string]domain.VerificationEvent),
		records: make(map[string]domain.ProvisioningRecord),
	}
}

func copyRecord(r domain.ProvisioningRecord) domain.ProvisioningRecord {
	wallets := make(map[string]domain.WalletEntry, len(r.Wallets))
	for k, v := range r.Wallets {
		wallets[k] = v
	}
	r.Wallets = wallets
	return r
}

func (s *memoryStore) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, exists := s.emails[email]; exists {
		return domain.ErrEmailTaken
	}
	if _, exists := s.users[user.UserID]; exists {
		return fmt.Errorf("user %s exists", user.UserID)
	}
	s.users[user.UserID] = user
	s.emails[email] = user.UserID
	return nil
}

func (s *memoryStore) FindUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *memoryStore) FindUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *memoryStore) ListUsers(_ context.Context, filter domain.UserFilter) ([]domain.User, int, error) {
	filter = normalizePage(filter)
	search := strings.ToLower(filter.Search)

	s.mu.RLock()
	matched := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Email), search) && !strings.Contains(strings.ToLower(u.UserID), search) {
			continue
		}
		matched = append(matched, u)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].UserID > matched[j].UserID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Page * filter.Size
	if start >= total {
		return []domain.User{}, total, nil
	}
	end := start + filter.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *memoryStore) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.Status]int, len(domain.AllStatuses))
	for _, u := range s.users {
		counts[u.Status]++
	}
	return counts, nil
}

func (s *memoryStore) ProcessEvent(_ context.Context, ev domain.VerificationEvent, fn TransitionFunc) (EventResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.events[ev.EventID]; ok && prev.Outcome.Settled() {
		return EventResult{Duplicate: true, Outcome: prev.Outcome}, nil
	}

	user, ok := s.users[ev.UserID]
	if !ok {
		return EventResult{}, domain.ErrUserNotFound
	}

	update, outcome, err := fn(user)
	if err != nil {
		return EventResult{}, err
	}

	now := ev.ReceivedAt
	from := user.Status
	user = applyUpdate(user, update, now)
	s.users[user.UserID] = user

	if update.RequestProvisioning {
		rec, ok := s.records[user.UserID]
		if !ok {
			rec = domain.ProvisioningRecord{UserID: user.UserID, Wallets: map[string]domain.WalletEntry{}}
		}
		if rec.PendingSince == nil {
			at := now
			rec.PendingSince = &at
		}
		if update.VerificationLevel != "" {
			rec.VerificationLevel = update.VerificationLevel
		}
		if update.VerifiedAt != nil {
			rec.VerifiedAt = update.VerifiedAt
		}
		rec.UpdatedAt = now
		s.records[user.UserID] = rec
	}

	if update.Changed {
		s.audit = append(s.audit, domain.AuditEntry{
			ID:        uuid.NewString(),
			UserID:    user.UserID,
			Actor:     "webhook",
			Action:    domain.AuditStatusChange,
			OldStatus: from,
			NewStatus: update.To,
			Comment:   ev.Type,
			CreatedAt: now,
		})
	}

	ev.Outcome = outcome
	ev.Error = ""
	s.events[ev.EventID] = ev

	return EventResult{Outcome: outcome, From: from, Update: update, User: user}, nil
}

func applyUpdate(user domain.User, update domain.StatusUpdate, now time.Time) domain.User {
	if update.Changed {
		user.Status = update.To
	}
	if update.ApplicantID != "" {
		user.ApplicantID = update.ApplicantID
	}
	if update.ReviewAnswer != "" {
		user.ReviewAnswer = update.ReviewAnswer
	}
	if update.VerificationLevel != "" {
		user.VerificationLevel = update.VerificationLevel
	}
	if update.VerifiedAt != nil {
		user.VerifiedAt = update.VerifiedAt
	}
	user.UpdatedAt = now
	return user
}

func (s *memoryStore) RecordEvent(_ context.Context, ev domain.VerificationEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.events[ev.EventID]; ok && prev.Outcome.Settled() {
		return true, nil
	}
	s.events[ev.EventID] = ev
	return false, nil
}

func (s *memoryStore) FindEvent(_ context.Context, eventID string) (domain.VerificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return domain.VerificationEvent{}, fmt.Errorf("event %s not found", eventID)
	}
	return ev, nil
}

func (s *memoryStore) ListEvents(_ context.Context, userID string, limit int) ([]domain.VerificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.VerificationEvent{}
	for _, ev := range s.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ClaimProvisioning(_ context.Context, userID string, now time.Time, lease time.Duration) (domain.User, domain.ProvisioningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ProvisioningRecord{}, domain.ErrUserNotFound
	}
	rec, ok := s.records[userID]
	if !ok {
		rec = domain.ProvisioningRecord{UserID: userID, Wallets: map[string]domain.WalletEntry{}}
	}
	if err := claimable(user.Status, rec.LeaseUntil, now); err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, fmt.Errorf("%w: status %s", err, user.Status)
	}

	claimedFrom := user.Status
	user.Status = domain.StatusProvisioningInProgress
	user.UpdatedAt = now
	s.users[userID] = user

	until := now.Add(lease)
	rec.LeaseUntil = &until
	rec.AttemptCount++
	rec.UpdatedAt = now
	s.records[userID] = rec

	out := copyRecord(rec)
	out.ClaimedFrom = claimedFrom
	return user, out, nil
}

func (s *memoryStore) SaveCustomer(_ context.Context, userID, customerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.ExternalCustomerID = customerID
	if user.CustomerCreatedAt == nil {
		t := at
		user.CustomerCreatedAt = &t
	}
	s.users[userID] = user
	return nil
}

func (s *memoryStore) SaveWallet(_ context.Context, userID string, wallet domain.WalletEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		rec = domain.ProvisioningRecord{UserID: userID}
	}
	if rec.Wallets == nil {
		rec.Wallets = map[string]domain.WalletEntry{}
	}
	if prev, ok := rec.Wallets[wallet.Currency]; ok && !prev.CreatedAt.IsZero() {
		wallet.CreatedAt = prev.CreatedAt
	}
	rec.Wallets[wallet.Currency] = wallet
	s.records[userID] = rec
	return nil
}

// leaseHolder returns the user and record when attempt still holds the lease.
// Callers hold s.mu.
func (s *memoryStore) leaseHolder(userID string, attempt int) (domain.User, domain.ProvisioningRecord, error) {
	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ProvisioningRecord{}, domain.ErrUserNotFound
	}
	rec := s.records[userID]
	if user.Status != domain.StatusProvisioningInProgress || rec.AttemptCount != attempt {
		return domain.User{}, domain.ProvisioningRecord{}, fmt.Errorf("%w: %s attempt %d", domain.ErrLeaseLost, userID, attempt)
	}
	rec.UserID = userID
	return user, rec, nil
}

func (s *memoryStore) FinishProvisioning(_ context.Context, userID string, attempt int, status domain.Status, lastErr string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, rec, err := s.leaseHolder(userID, attempt)
	if err != nil {
		return err
	}
	user.Status = status
	user.UpdatedAt = now
	s.users[userID] = user

	rec.LeaseUntil = nil
	rec.PendingSince = nil
	rec.LastError = lastErr
	rec.UpdatedAt = now
	s.records[userID] = rec
	return nil
}

func (s *memoryStore) ReleaseProvisioning(_ context.Context, userID string, attempt int, restore domain.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, rec, err := s.leaseHolder(userID, attempt)
	if err != nil {
		return err
	}
	user.Status = restore
	user.UpdatedAt = now
	s.users[userID] = user

	rec.LeaseUntil = nil
	if rec.PendingSince == nil {
		t := now
		rec.PendingSince = &t
	}
	rec.UpdatedAt = now
	s.records[userID] = rec
	return nil
}

func (s *memoryStore) ProvisioningRecord(_ context.Context, userID string) (domain.ProvisioningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return domain.ProvisioningRecord{UserID: userID, Wallets: map[string]domain.WalletEntry{}}, nil
	}
	return copyRecord(rec), nil
}

func (s *memoryStore) PendingProvisioning(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type pending struct {
		id    string
		since time.Time
	}
	var found []pending
	for id, rec := range s.records {
		user := s.users[id]
		switch {
		case rec.PendingSince != nil:
			found = append(found, pending{id, *rec.PendingSince})
		case user.Status == domain.StatusProvisioningInProgress && rec.LeaseUntil != nil && !rec.LeaseUntil.After(now):
			found = append(found, pending{id, *rec.LeaseUntil})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].since.Before(found[j].since) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]string, 0, len(found))
	for _, p := range found {
		ids = append(ids, p.id)
	}
	return ids, nil
}

func (s *memoryStore) ClearPending(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[userID]; ok {
		rec.PendingSince = nil
		s.records[userID] = rec
	}
	return nil
}

func (s *memoryStore) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memoryStore) ListAudit(_ context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.AuditEntry{}
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].UserID == userID {
			out = append(out, s.audit[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
