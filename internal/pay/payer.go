// Package pay holds the client-side payer implementations that turn a 402
// challenge into a payment proof: a deterministic HMAC payer for offline use
// and an on-chain payer that submits a memo-bound SPL transfer.
package pay

import (
	"context"

	"github.com/x402gate/x402gate/internal/x402"
)

// Request describes the HTTP request a payment is being made for.
type Request struct {
	URL    string
	Method string
}

// Payer obtains proof of payment for a challenge. Implementations copy the
// challenge's nonce, requestHash, expiresAt, and version into the proof
// verbatim; only payer identity, timestamp, and signature are their own.
type Payer interface {
	Pay(ctx context.Context, ch x402.Challenge, req Request) (x402.PaymentProof, error)
}
