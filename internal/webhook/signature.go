package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/novafi/novafi/internal/domain"
)

// Header names the provider signs deliveries with.
const (
	HeaderDigest    = "X-Payload-Digest"
	HeaderDigestAlg = "X-Payload-Digest-Alg"
)

// Digest algorithms the provider may announce.
const (
	AlgSHA1   = "HMAC_SHA1_HEX"
	AlgSHA256 = "HMAC_SHA256_HEX"
	AlgSHA512 = "HMAC_SHA512_HEX"
)

// Signature is the pair of headers sent with a delivery.
type Signature struct {
	Digest    string
	Algorithm string
}

// Verifier checks delivery digests against the shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier. An empty secret rejects every delivery.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify returns domain.ErrInvalidSignature unless sig is the HMAC of body.
func (v *Verifier) Verify(body []byte, sig Signature) error {
	if len(v.secret) == 0 || sig.Digest == "" {
		return domain.ErrInvalidSignature
	}
	newHash, err := hashFor(sig.Algorithm)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	got, err := hex.DecodeString(strings.TrimSpace(sig.Digest))
	if err != nil {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(newHash, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign produces the digest a provider would send for body. Used by tests and the
// operator CLI to craft deliveries.
func (v *Verifier) Sign(body []byte, algorithm string) (Signature, error) {
	newHash, err := hashFor(algorithm)
	if err != nil {
		return Signature{}, err
	}
	mac := hmac.New(newHash, v.secret)
	mac.Write(body)
	if algorithm == "" {
		algorithm = AlgSHA256
	}
	return Signature{Digest: hex.EncodeToString(mac.Sum(nil)), Algorithm: algorithm}, nil
}

func hashFor(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", AlgSHA256:
		return sha256.New, nil
	case AlgSHA1:
		return sha1.New, nil
	case AlgSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
}
