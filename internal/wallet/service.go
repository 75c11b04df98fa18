package wallet

import (
	"context"
	"time"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/repository"
)

const statusMissing = "missing"

// View is a configured wallet target joined with what provisioning recorded.
type View struct {
	Currency         string     `json:"currency"`
	Network          string     `json:"network"`
	Contract         string     `json:"contract_address,omitempty"`
	Decimals         int        `json:"decimals"`
	Address          string     `json:"address,omitempty"`
	ExternalWalletID string     `json:"external_wallet_id,omitempty"`
	Status           string     `json:"status"`
	Error            string     `json:"error,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// Service answers wallet questions for provisioned users.
type Service struct {
	store   repository.Store
	targets []Target
}

// NewService builds a wallet service over the configured targets.
func NewService(store repository.Store, targets []Target) *Service {
	return &Service{store: store, targets: targets}
}

// Targets returns the configured wallet set.
func (s *Service) Targets() []Target {
	return s.targets
}

// ForUser lists every configured wallet for userID, including ones not created yet.
func (s *Service) ForUser(ctx context.Context, userID string) ([]View, error) {
	if _, err := s.store.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	rec, err := s.store.ProvisioningRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(s.targets))
	for _, t := range s.targets {
		cur, _ := Lookup(t.Currency)
		v := View{
			Currency: t.Currency,
			Network:  t.Network,
			Contract: cur.Contracts[t.Network],
			Decimals: cur.Decimals,
			Status:   statusMissing,
		}
		if entry, ok := rec.Wallets[t.Currency]; ok {
			v.Network = entry.Network
			v.Address = entry.Address
			v.ExternalWalletID = entry.ExternalWalletID
			v.Status = string(entry.Status)
			v.Error = entry.Error
			at := entry.UpdatedAt
			v.UpdatedAt = &at
		}
		views = append(views, v)
	}
	return views, nil
}

// Complete reports whether every configured currency has an active wallet.
func (s *Service) Complete(rec domain.ProvisioningRecord) bool {
	for _, t := range s.targets {
		if _, ok := rec.ActiveWallet(t.Currency); !ok {
			return false
		}
	}
	return true
}
