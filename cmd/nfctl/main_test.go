package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novafi/novafi/internal/auth"
)

func TestAdminTokenCommand(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ADMIN_JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"admin-token", "--subject", "ops@novafi", "--ttl", "10m"})
	require.NoError(t, cmd.Execute())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	claims, err := auth.NewTokens("cli-secret", time.Hour).VerifyScope(resp["token"], auth.ScopeAdmin)
	require.NoError(t, err)
	assert.Equal(t, "ops@novafi", claims.Subject)
}

func TestAdminTokenRequiresSubject(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"admin-token"})
	assert.Error(t, cmd.Execute())
}

func TestSweepInDevModeHasNothingPending(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sweep"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "provisioned 0 of 0 pending users")
}
