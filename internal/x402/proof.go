package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeProof serializes a proof into the X-Payment-Proof header value:
// unpadded base64url over compact JSON.
func EncodeProof(p PaymentProof) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment proof: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeProof parses an X-Payment-Proof header value. Padded and unpadded
// base64url are both accepted.
func DecodeProof(header string) (PaymentProof, error) {
	raw, err := base64.RawURLEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(header)
	}
	if err != nil {
		return PaymentProof{}, fmt.Errorf("decode payment proof: %w", err)
	}
	var p PaymentProof
	if err := json.Unmarshal(raw, &p); err != nil {
		return PaymentProof{}, fmt.Errorf("unmarshal payment proof: %w", err)
	}
	return p, nil
}

// MemoFor returns the memo string that binds an on-chain transaction to a
// challenge: "<nonce>|<requestHash>". Both verifier and payer must agree on
// this format byte for byte.
func MemoFor(nonce, requestHash string) string {
	return nonce + "|" + requestHash
}
