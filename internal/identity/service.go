package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/repository"
	"github.com/novafi/novafi/internal/userid"
)

// Service manages identity lifecycle.
type Service struct {
	store     repository.Store
	allocator userid.Allocator
	now       func() time.Time
}

// NewService creates a new identity service.
func NewService(store repository.Store, allocator userid.Allocator) *Service {
	return &Service{store: store, allocator: allocator, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the registration clock, which also picks the identifier period.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates an unverified user with a freshly allocated identifier.
func (s *Service) Register(ctx context.Context, reg Registration) (domain.User, error) {
	reg.normalize()
	if err := validate.Struct(reg); err != nil {
		return domain.User{}, validationError(err)
	}

	if _, err := s.store.FindUserByEmail(ctx, reg.Email); err == nil {
		return domain.User{}, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	now := s.now()
	id, err := s.allocator.Allocate(ctx, userid.PeriodOf(now))
	if err != nil {
		return domain.User{}, fmt.Errorf("allocate user id: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		UserID:       id,
		Email:        reg.Email,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		PasswordHash: hash,
		Status:       domain.StatusUnverified,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Authenticate verifies email and password.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (domain.User, error) {
	if err := validate.Struct(creds); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	user, err := s.store.FindUserByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.User{}, errors.New("account deactivated")
	}
	return user, nil
}

// Get returns the user by allocated identifier.
func (s *Service) Get(ctx context.Context, userID string) (domain.User, error) {
	return s.store.FindUser(ctx, userID)
}
