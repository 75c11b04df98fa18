package auth

import (
	"errors"
	"strings"
	"time"
)

// Capability scopes carried in tokens.
const (
	ScopeAdmin = "admin"
	ScopeUser  = "user"
)

var (
	// ErrTokenExpired is returned for a well-signed token past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrMissingScope is returned when a token lacks the capability a route needs.
	ErrMissingScope = errors.New("token lacks required scope")
)

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasScope reports whether the token grants scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Tokens issues and verifies capability tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens builds a token service. ttl is the default lifetime.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

// Issue signs a token for subject. A zero ttl uses the default lifetime.
func (t *Tokens) Issue(subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if ttl <= 0 {
		ttl = t.ttl
	}
	now := t.now()
	exp := now.Add(ttl)
	claims := map[string]any{
		"sub":   subject,
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	signed, err := SignHS256(claims, t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueAdmin signs a token carrying the admin capability.
func (t *Tokens) IssueAdmin(subject string, ttl time.Duration) (string, time.Time, error) {
	return t.Issue(subject, []string{ScopeAdmin}, ttl)
}

// Verify checks signature and expiry.
func (t *Tokens) Verify(token string) (Claims, error) {
	raw, err := ParseAndVerifyHS256(token, t.secret)
	if err != nil {
		return Claims{}, err
	}
	sub, _ := raw["sub"].(string)
	scope, _ := raw["scope"].(string)
	iat, _ := raw["iat"].(float64)
	exp, ok := raw["exp"].(float64)
	if !ok || sub == "" {
		return Claims{}, errors.New("token missing sub or exp")
	}
	claims := Claims{
		Subject:   sub,
		Scopes:    strings.Fields(scope),
		IssuedAt:  time.Unix(int64(iat), 0),
		ExpiresAt: time.Unix(int64(exp), 0),
	}
	if !t.now().Before(claims.ExpiresAt) {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}

// VerifyScope verifies token and requires scope.
func (t *Tokens) VerifyScope(token, scope string) (Claims, error) {
	claims, err := t.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if !claims.HasScope(scope) {
		return Claims{}, ErrMissingScope
	}
	return claims, nil
}
