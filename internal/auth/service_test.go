package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens("secret", time.Hour).WithClock(fixedClock(now))

	token, exp, err := tokens.Issue("NF-032025001", []string{ScopeUser}, 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "NF-032025001", claims.Subject)
	assert.True(t, claims.HasScope(ScopeUser))
	assert.False(t, claims.HasScope(ScopeAdmin))
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens("secret", time.Minute).WithClock(fixedClock(now))
	token, _, err := tokens.Issue("ops", []string{ScopeAdmin}, 0)
	require.NoError(t, err)

	tokens.WithClock(fixedClock(now.Add(2 * time.Minute)))
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyScope(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	userToken, _, err := tokens.Issue("NF-032025001", []string{ScopeUser}, 0)
	require.NoError(t, err)
	_, err = tokens.VerifyScope(userToken, ScopeAdmin)
	assert.ErrorIs(t, err, ErrMissingScope)

	adminToken, _, err := tokens.IssueAdmin("ops@novafi", 0)
	require.NoError(t, err)
	claims, err := tokens.VerifyScope(adminToken, ScopeAdmin)
	require.NoError(t, err)
	assert.Equal(t, "ops@novafi", claims.Subject)
}

func TestVerifyRejectsForeignSecretAndTampering(t *testing.T) {
	issuer := NewTokens("secret-a", time.Hour)
	token, _, err := issuer.Issue("NF-032025001", []string{ScopeUser}, 0)
	require.NoError(t, err)

	_, err = NewTokens("secret-b", time.Hour).Verify(token)
	assert.Error(t, err)

	parts := strings.Split(token, ".")
	forged, err := SignHS256(map[string]any{"sub": "NF-032025001", "scope": "admin", "exp": float64(time.Now().Add(time.Hour).Unix())}, []byte("secret-b"))
	require.NoError(t, err)
	forgedParts := strings.Split(forged, ".")
	_, err = issuer.Verify(parts[0] + "." + forgedParts[1] + "." + parts[2])
	assert.Error(t, err)
}

func TestIssueRequiresSubject(t *testing.T) {
	_, _, err := NewTokens("secret", time.Hour).Issue("", nil, 0)
	assert.Error(t, err)
}
