// Package processor creates customer records at the payment processor.
package processor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/novafi/novafi/internal/extapi"
)

// Conflict codes the processor returns when the idempotency key or external
// reference already produced a customer.
var existingCodes = map[string]bool{
	"CUSTOMER_ALREADY_EXISTS": true,
	"IDEMPOTENCY_KEY_REUSED":  true,
	"DUPLICATE_IDEMPOTENCY":   true,
}

// CustomerRequest carries the profile sent on creation. ExternalReference is the
// allocated user identifier.
type CustomerRequest struct {
	ExternalReference string            `json:"externalReference"`
	Email             string            `json:"email"`
	FirstName         string            `json:"firstName,omitempty"`
	LastName          string            `json:"lastName,omitempty"`
	Type              string            `json:"type"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Customer is the processor's view of a created customer.
type Customer struct {
	ID                string `json:"id"`
	ExternalReference string `json:"externalReference"`
	Status            string `json:"status"`
	// Existing is set when the call resolved to a customer created earlier.
	Existing bool `json:"-"`
}

// Client creates or resolves customers.
type Client interface {
	CreateCustomer(ctx context.Context, req CustomerRequest, idempotencyKey string) (Customer, error)
}

// HTTPClient talks to the processor's REST API.
type HTTPClient struct {
	api *extapi.Client
}

// NewHTTPClient wraps a signed transport.
func NewHTTPClient(api *extapi.Client) *HTTPClient {
	return &HTTPClient{api: api}
}

// CreateCustomer posts the customer with the idempotency key. A conflict that
// names the key or the external reference resolves to the existing customer.
func (c *HTTPClient) CreateCustomer(ctx context.Context, req CustomerRequest, idempotencyKey string) (Customer, error) {
	if req.Type == "" {
		req.Type = "INDIVIDUAL"
	}
	header := http.Header{}
	header.Set("X-Idempotency-Key", idempotencyKey)

	var created Customer
	err := c.api.Do(ctx, http.MethodPost, "/api/customer", header, req, &created)
	if err == nil {
		return created, nil
	}

	apiErr, conflict := extapi.IsConflict(err)
	if !conflict || !existingCodes[strings.ToUpper(apiErr.Code)] {
		return Customer{}, err
	}

	existing, lookupErr := c.findByReference(ctx, req.ExternalReference)
	if lookupErr != nil {
		return Customer{}, fmt.Errorf("resolve existing customer %s: %w", req.ExternalReference, lookupErr)
	}
	existing.Existing = true
	return existing, nil
}

func (c *HTTPClient) findByReference(ctx context.Context, reference string) (Customer, error) {
	var page struct {
		Content []Customer `json:"content"`
	}
	path := "/api/customer?externalReference=" + url.QueryEscape(reference)
	if err := c.api.Do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
		return Customer{}, err
	}
	for _, cust := range page.Content {
		if cust.ExternalReference == reference {
			return cust, nil
		}
	}
	return Customer{}, fmt.Errorf("no customer with reference %s", reference)
}

// StaticClient simulates the processor in dev mode and tests. Repeated calls
// with the same idempotency key return the same customer.
type StaticClient struct {
	mu    sync.Mutex
	byKey map[string]Customer
	// Calls counts requests that reached the simulator.
	Calls int
	// Fail, when set, is returned for the next call and then cleared.
	Fail error
}

// NewStaticClient builds an empty simulator.
func NewStaticClient() *StaticClient {
	return &StaticClient{byKey: make(map[string]Customer)}
}

// CreateCustomer returns a synthetic customer id.
func (s *StaticClient) CreateCustomer(_ context.Context, req CustomerRequest, idempotencyKey string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Fail != nil {
		err := s.Fail
		s.Fail = nil
		return Customer{}, err
	}
	if cust, ok := s.byKey[idempotencyKey]; ok {
		cust.Existing = true
		return cust, nil
	}
	cust := Customer{ID: uuid.NewString(), ExternalReference: req.ExternalReference, Status: "ACTIVE"}
	s.byKey[idempotencyKey] = cust
	return cust, nil
}

// Seed pins the customer id returned for a key.
func (s *StaticClient) Seed(idempotencyKey string, cust Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[idempotencyKey] = cust
}
