package pay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/x402gate/x402gate/internal/x402"
)

// Mock signs challenges with HMAC-SHA256 over "nonce|requestHash". Paired
// with the mock verifier under the same secret it completes the 402 loop
// without touching a ledger.
type Mock struct {
	secret       []byte
	payerAddress string
}

func NewMock(secret, payerAddress string) *Mock {
	if secret == "" {
		secret = "mock-secret"
	}
	if payerAddress == "" {
		payerAddress = "mock-payer"
	}
	return &Mock{secret: []byte(secret), payerAddress: payerAddress}
}

func (m *Mock) Pay(_ context.Context, ch x402.Challenge, _ Request) (x402.PaymentProof, error) {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(x402.MemoFor(ch.Nonce, ch.RequestHash)))

	return x402.PaymentProof{
		Version:     ch.Version,
		Nonce:       ch.Nonce,
		RequestHash: ch.RequestHash,
		Payer:       m.payerAddress,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		ExpiresAt:   ch.ExpiresAt,
		Signature:   hex.EncodeToString(mac.Sum(nil)),
	}, nil
}
