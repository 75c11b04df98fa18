// Package custody creates blockchain wallets at the custody provider.
package custody

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/novafi/novafi/internal/extapi"
)

// WalletRequest asks for one wallet on one network. ExternalID is the
// idempotency key derived from (user, currency).
type WalletRequest struct {
	Currency   string            `json:"currency"`
	Network    string            `json:"network"`
	ExternalID string            `json:"externalId"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Wallet is a created custody wallet.
type Wallet struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Network    string `json:"network"`
	Status     string `json:"status"`
	ExternalID string `json:"externalId"`
	Existing   bool   `json:"-"`
}

// Client creates or resolves wallets.
type Client interface {
	CreateWallet(ctx context.Context, req WalletRequest) (Wallet, error)
}

// HTTPClient talks to the custody REST API.
type HTTPClient struct {
	api *extapi.Client
}

func NewHTTPClient(api *extapi.Client) *HTTPClient {
	return &HTTPClient{api: api}
}

// CreateWallet posts the wallet request. A 409 for the same external id resolves
// to the wallet created by an earlier attempt.
func (c *HTTPClient) CreateWallet(ctx context.Context, req WalletRequest) (Wallet, error) {
	header := http.Header{}
	header.Set("Idempotency-Key", req.ExternalID)

	var created Wallet
	err := c.api.Do(ctx, http.MethodPost, "/wallets", header, req, &created)
	if err == nil {
		return created, nil
	}
	if _, conflict := extapi.IsConflict(err); !conflict {
		return Wallet{}, err
	}

	var page struct {
		Items []Wallet `json:"items"`
	}
	if err := c.api.Do(ctx, http.MethodGet, "/wallets?externalId="+url.QueryEscape(req.ExternalID), nil, nil, &page); err != nil {
		return Wallet{}, fmt.Errorf("resolve existing wallet %s: %w", req.ExternalID, err)
	}
	for _, w := range page.Items {
		if w.ExternalID == req.ExternalID {
			w.Existing = true
			return w, nil
		}
	}
	return Wallet{}, fmt.Errorf("conflict for wallet %s but no wallet carries that external id", req.ExternalID)
}

// StaticClient simulates custody with deterministic mock addresses.
type StaticClient struct {
	mu    sync.Mutex
	byKey map[string]Wallet
	fail  map[string]error
	// Calls counts requests per currency.
	Calls map[string]int
}

func NewStaticClient() *StaticClient {
	return &StaticClient{byKey: map[string]Wallet{}, fail: map[string]error{}, Calls: map[string]int{}}
}

// FailCurrency makes every call for currency return err until cleared with nil.
func (s *StaticClient) FailCurrency(currency string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, currency)
		return
	}
	s.fail[currency] = err
}

// TotalCalls sums calls across currencies.
func (s *StaticClient) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Calls {
		n += c
	}
	return n
}

func (s *StaticClient) CreateWallet(_ context.Context, req WalletRequest) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls[req.Currency]++
	if err := s.fail[req.Currency]; err != nil {
		return Wallet{}, err
	}
	if w, ok := s.byKey[req.ExternalID]; ok {
		w.Existing = true
		return w, nil
	}
	sum := sha256.Sum256([]byte(req.ExternalID))
	w := Wallet{
		ID:         "wa-" + uuid.NewString(),
		Address:    "0x" + hex.EncodeToString(sum[:20]),
		Network:    req.Network,
		Status:     "Active",
		ExternalID: req.ExternalID,
	}
	s.byKey[req.ExternalID] = w
	return w, nil
}
