// Package x402 holds the wire types and pure functions shared by the
// payment-gate middleware, the verifiers/payers, and the paying client:
// challenge/proof structs, the base64url proof codec, canonical request
// hashing, and decimal price → base-unit conversion.
package x402

import (
	"fmt"
	"time"
)

// Challenge is the server → client half of the 402 handshake. It is
// stateless: the server never stores it, the requestHash reconstructs the
// binding at verification time.
type Challenge struct {
	Version     int    `json:"version"`
	Scheme      string `json:"scheme"`
	Price       string `json:"price"`
	Asset       string `json:"asset"`
	Network     string `json:"network"`
	Recipient   string `json:"recipient"`
	Nonce       string `json:"nonce"`
	ExpiresAt   string `json:"expiresAt"`
	RequestHash string `json:"requestHash"`
	Description string `json:"description,omitempty"`
}

// PaymentProof is the client → server half, carried base64url-encoded in the
// X-Payment-Proof header. Signature is scheme-specific: an HMAC hex digest
// for the mock scheme, a transaction signature for Solana.
type PaymentProof struct {
	Version     int    `json:"version"`
	Nonce       string `json:"nonce"`
	RequestHash string `json:"requestHash"`
	Payer       string `json:"payer"`
	Timestamp   string `json:"timestamp"`
	ExpiresAt   string `json:"expiresAt"`
	Signature   string `json:"signature"`
}

// Expiry parses the proof's expiresAt timestamp.
func (p PaymentProof) Expiry() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, p.ExpiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse proof expiresAt: %w", err)
	}
	return t, nil
}

// PricingConfig prices a single route. Zero-value optional fields fall back
// to gate defaults (scheme "exact", network "mock", TTL 300 s).
type PricingConfig struct {
	Price       string
	Asset       string
	Network     string
	Recipient   string
	Scheme      string
	Description string
	TTLSeconds  int
}
