// Package signing authenticates outbound calls to the payment processor and the
// custody provider with a Hawk-style request MAC.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerVersion = "1"
	nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	nonceLength   = 6
)

var b64 = base64.StdEncoding

// Credentials identify the caller to the remote API.
type Credentials struct {
	ID  string
	Key []byte
}

// Signer stamps requests with a fresh timestamp, nonce and MAC.
type Signer struct {
	creds Credentials
	now   func() time.Time
	nonce func() (string, error)
}

// NewSigner builds a signer using the wall clock and a random nonce.
func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds, now: time.Now, nonce: randomNonce}
}

// WithClock overrides the time source. Used in tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// WithNonce overrides the nonce source. Used in tests.
func (s *Signer) WithNonce(fn func() (string, error)) *Signer {
	s.nonce = fn
	return s
}

// Sign sets the Authorization header on req. Any Authorization value already on
// the request is discarded so only signatures produced here leave the process.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	if s.creds.ID == "" || len(s.creds.Key) == 0 {
		return errors.New("signing credentials are not configured")
	}
	req.Header.Del("Authorization")

	nonce, err := s.nonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ts := strconv.FormatInt(s.now().Unix(), 10)

	var hash string
	if len(body) > 0 {
		hash = PayloadHash(req.Header.Get("Content-Type"), body)
	}

	host, port := hostPort(req)
	mac := computeMAC(s.creds.Key, ts, nonce, req.Method, resource(req), host, port, hash)

	header := fmt.Sprintf(`Hawk id="%s", ts="%s", nonce="%s"`, s.creds.ID, ts, nonce)
	if hash != "" {
		header += fmt.Sprintf(`, hash="%s"`, hash)
	}
	header += fmt.Sprintf(`, mac="%s"`, mac)
	req.Header.Set("Authorization", header)
	return nil
}

// PayloadHash is the base64 SHA-256 over the normalized payload description.
func PayloadHash(contentType string, body []byte) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	h := sha256.New()
	h.Write([]byte("hawk." + headerVersion + ".payload\n"))
	h.Write([]byte(mediaType + "\n"))
	h.Write(body)
	h.Write([]byte("\n"))
	return b64.EncodeToString(h.Sum(nil))
}

// Verify checks an Authorization header produced by Sign against req. The
// simulators use it to authenticate incoming calls in tests.
func Verify(req *http.Request, body []byte, key []byte) (string, error) {
	attrs, err := parseHeader(req.Header.Get("Authorization"))
	if err != nil {
		return "", err
	}
	hash := attrs["hash"]
	if len(body) > 0 {
		expected := PayloadHash(req.Header.Get("Content-Type"), body)
		if !hmac.Equal([]byte(hash), []byte(expected)) {
			return "", errors.New("payload hash mismatch")
		}
	}
	host, port := hostPort(req)
	mac := computeMAC(key, attrs["ts"], attrs["nonce"], req.Method, resource(req), host, port, hash)
	if !hmac.Equal([]byte(mac), []byte(attrs["mac"])) {
		return "", errors.New("mac mismatch")
	}
	return attrs["id"], nil
}

func computeMAC(key []byte, ts, nonce, method, resource, host, port, hash string) string {
	var b strings.Builder
	b.WriteString("hawk." + headerVersion + ".header\n")
	b.WriteString(ts + "\n")
	b.WriteString(nonce + "\n")
	b.WriteString(strings.ToUpper(method) + "\n")
	b.WriteString(resource + "\n")
	b.WriteString(strings.ToLower(host) + "\n")
	b.WriteString(port + "\n")
	b.WriteString(hash + "\n")
	b.WriteString("\n")

	m := hmac.New(sha256.New, key)
	m.Write([]byte(b.String()))
	return b64.EncodeToString(m.Sum(nil))
}

func resource(req *http.Request) string {
	uri := req.URL.RequestURI()
	if uri == "" {
		return "/"
	}
	return uri
}

func hostPort(req *http.Request) (string, string) {
	hostport := req.URL.Host
	if hostport == "" {
		hostport = req.Host
	}
	host, port, err := net.SplitHostPort(hostport)
	if err == nil {
		return host, port
	}
	if req.URL.Scheme == "http" {
		return hostport, "80"
	}
	return hostport, "443"
}

func parseHeader(value string) (map[string]string, error) {
	rest, ok := strings.CutPrefix(value, "Hawk ")
	if !ok {
		return nil, errors.New("missing hawk authorization")
	}
	attrs := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("malformed attribute %q", part)
		}
		attrs[k] = strings.Trim(v, `"`)
	}
	for _, required := range []string{"id", "ts", "nonce", "mac"} {
		if attrs[required] == "" {
			return nil, fmt.Errorf("missing %s attribute", required)
		}
	}
	return attrs, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, nonceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, c := range buf {
		buf[i] = nonceAlphabet[int(c)%len(nonceAlphabet)]
	}
	return string(buf), nil
}
