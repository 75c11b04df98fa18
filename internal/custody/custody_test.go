package custody

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novafi/novafi/internal/extapi"
	"github.com/novafi/novafi/internal/signing"
)

func TestCreateWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if _, err := signing.Verify(r, body, []byte("k")); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "wk-1", r.Header.Get("Idempotency-Key"))
		assert.Contains(t, string(body), `"network":"Ethereum"`)
		_, _ = w.Write([]byte(`{"id":"wa-1","address":"0xabc","network":"Ethereum","status":"Active","externalId":"wk-1"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(extapi.New(srv.URL, signing.NewSigner(signing.Credentials{ID: "kid", Key: []byte("k")}), srv.Client(), 0))
	w, err := client.CreateWallet(context.Background(), WalletRequest{Currency: "USDT", Network: "Ethereum", ExternalID: "wk-1"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", w.Address)
	assert.Equal(t, "wa-1", w.ID)
}

func TestCreateWalletConflictFetchesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"wa-1","address":"0xabc","network":"Ethereum","externalId":"wk-1"}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(extapi.New(srv.URL, nil, srv.Client(), 0))
	w, err := client.CreateWallet(context.Background(), WalletRequest{Currency: "USDT", Network: "Ethereum", ExternalID: "wk-1"})
	require.NoError(t, err)
	assert.True(t, w.Existing)
	assert.Equal(t, "wa-1", w.ID)
}

func TestCreateWalletValidationErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"unsupported network"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(extapi.New(srv.URL, nil, srv.Client(), 0))
	_, err := client.CreateWallet(context.Background(), WalletRequest{Currency: "USDT", Network: "Nope", ExternalID: "wk-1"})
	var apiErr *extapi.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Transient())
	assert.Equal(t, "unsupported network", apiErr.Message)
}

func TestStaticClient(t *testing.T) {
	s := NewStaticClient()
	a, err := s.CreateWallet(context.Background(), WalletRequest{Currency: "USDT", Network: "Ethereum", ExternalID: "k1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Address, "0x"))
	assert.Len(t, a.Address, 42)

	again, err := s.CreateWallet(context.Background(), WalletRequest{Currency: "USDT", Network: "Ethereum", ExternalID: "k1"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	s.FailCurrency("USDC", errors.New("down"))
	_, err = s.CreateWallet(context.Background(), WalletRequest{Currency: "USDC", Network: "Ethereum", ExternalID: "k2"})
	assert.Error(t, err)
	assert.Equal(t, 3, s.TotalCalls())
}
