package verify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/x402gate/x402gate/internal/x402"
)

// DefaultMockSecret is used when no secret is configured. Deployments should
// override it with a random 32-byte string.
const DefaultMockSecret = "mock-secret"

// Mock validates HMAC-SHA256 proofs produced by the mock payer sharing the
// same secret. It carries no amount semantics and exists for offline testing.
type Mock struct {
	secret []byte
}

func NewMock(secret string) *Mock {
	if secret == "" {
		secret = DefaultMockSecret
	}
	return &Mock{secret: []byte(secret)}
}

func (m *Mock) Verify(_ context.Context, proofHeader, requestHash string, _ x402.PricingConfig) bool {
	proof, err := x402.DecodeProof(proofHeader)
	if err != nil {
		return false
	}
	if proof.RequestHash != requestHash {
		return false
	}
	expiry, err := proof.Expiry()
	if err != nil || !expiry.After(time.Now()) {
		return false
	}

	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(x402.MemoFor(proof.Nonce, proof.RequestHash)))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(proof.Signature) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(proof.Signature))
}
