package signing

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner(key string) *Signer {
	return NewSigner(Credentials{ID: "hawk-id", Key: []byte(key)}).
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }).
		WithNonce(func() (string, error) { return "abc123", nil })
}

func TestSignSetsHawkHeader(t *testing.T) {
	body := []byte(`{"email":"a@b.c"}`)
	req, err := http.NewRequest(http.MethodPost, "https://api.example.com/api/customer", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	require.NoError(t, fixedSigner("secret").Sign(req, body))

	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, `Hawk id="hawk-id", ts="1700000000", nonce="abc123", hash="`))
	assert.Contains(t, auth, `mac="`)

	id, err := Verify(req, body, []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, "hawk-id", id)
}

func TestSignReplacesForeignAuthorization(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/api/customer?externalReference=NF-032025001", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", `Hawk id="attacker", ts="1", nonce="x", mac="forged"`)

	require.NoError(t, fixedSigner("secret").Sign(req, nil))

	assert.Len(t, req.Header.Values("Authorization"), 1)
	assert.NotContains(t, req.Header.Get("Authorization"), "forged")
	assert.NotContains(t, req.Header.Get("Authorization"), "hash=")
	_, err = Verify(req, nil, []byte("secret"))
	require.NoError(t, err)
}

func TestVerifyRejectsTampering(t *testing.T) {
	body := []byte(`{"currency":"USDT"}`)
	req, err := http.NewRequest(http.MethodPost, "https://custody.example.com/wallets", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, fixedSigner("secret").Sign(req, body))

	_, err = Verify(req, []byte(`{"currency":"USDC"}`), []byte("secret"))
	assert.Error(t, err)

	_, err = Verify(req, body, []byte("other"))
	assert.Error(t, err)

	req.URL.Path = "/wallets/other"
	_, err = Verify(req, body, []byte("secret"))
	assert.Error(t, err)
}

func TestNonceIsFreshPerRequest(t *testing.T) {
	s := NewSigner(Credentials{ID: "id", Key: []byte("k")})
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/api/customer", nil)
		require.NoError(t, s.Sign(req, nil))
		attrs, err := parseHeader(req.Header.Get("Authorization"))
		require.NoError(t, err)
		assert.Len(t, attrs["nonce"], nonceLength)
		seen[attrs["nonce"]] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestSignRequiresCredentials(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	assert.Error(t, NewSigner(Credentials{}).Sign(req, nil))
}
