// Package verify holds the proof verifiers the payment gate delegates to:
// a symmetric HMAC verifier for offline use and an on-chain verifier that
// checks a memo-bound SPL transfer on a Solana ledger.
package verify

import (
	"context"

	"github.com/x402gate/x402gate/internal/x402"
)

// Verifier decides whether a raw X-Payment-Proof header proves payment for
// the request identified by requestHash under the given pricing. It reports
// only a boolean toward the gate; which check failed is never surfaced to
// clients.
type Verifier interface {
	Verify(ctx context.Context, proofHeader, requestHash string, pricing x402.PricingConfig) bool
}
