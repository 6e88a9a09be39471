package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/x402gate/x402gate/internal/x402"
)

// txFixture assembles a jsonParsed getTransaction result the way the devnet
// RPC reports it.
type txFixture struct {
	blockTime   *int64
	mint        string
	destination string
	amount      string
	ixType      string
	memo        string
	omitMemo    bool
	omitXfer    bool
	notFound    bool
}

func (f txFixture) result() any {
	if f.notFound {
		return nil
	}
	var instructions []map[string]any
	if !f.omitXfer {
		instructions = append(instructions, map[string]any{
			"program":   "spl-token",
			"programId": x402.TokenProgramID.String(),
			"parsed": map[string]any{
				"type": f.ixType,
				"info": map[string]any{
					"mint":        f.mint,
					"destination": f.destination,
					"tokenAmount": map[string]any{
						"amount":   f.amount,
						"decimals": 6,
					},
				},
			},
		})
	}
	if !f.omitMemo {
		instructions = append(instructions, map[string]any{
			"program":   "spl-memo",
			"programId": x402.MemoProgramID.String(),
			"parsed":    f.memo,
		})
	}
	return map[string]any{
		"blockTime": f.blockTime,
		"transaction": map[string]any{
			"message": map[string]any{
				"instructions": instructions,
			},
		},
	}
}

func mockRPC(t *testing.T, fixture *txFixture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     any    `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		if req.Method != "getTransaction" {
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  fixture.result(),
		})
	}))
}

func solanaProofHeader(t *testing.T, nonce, hash string, expiresIn time.Duration) string {
	t.Helper()
	header, err := x402.EncodeProof(x402.PaymentProof{
		Version:     1,
		Nonce:       nonce,
		RequestHash: hash,
		Payer:       solana.NewWallet().PublicKey().String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		ExpiresAt:   time.Now().Add(expiresIn).UTC().Format(time.RFC3339),
		Signature:   "4mH5p4ygeJQVzMSGv5WiKCnozJ3mXJSCz5s4FjQ6mCkKMWo6GRQLoomvLknDcfRpYEJ3J7tBOCKRhhps77kXTWYM",
	})
	if err != nil {
		t.Fatal(err)
	}
	return header
}

func int64p(v int64) *int64 { return &v }

func TestSolanaVerifier(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, x402.USDCDevnetMint)
	if err != nil {
		t.Fatal(err)
	}

	const (
		nonce = "N"
		hash  = "4242424242424242424242424242424242424242424242424242424242424242"
	)
	pricing := x402.PricingConfig{Price: "0.001", Asset: "USDC", Recipient: recipient.String()}

	good := func() txFixture {
		return txFixture{
			blockTime:   int64p(time.Now().Add(-10 * time.Second).Unix()),
			mint:        x402.USDCDevnetMint.String(),
			destination: recipientATA.String(),
			amount:      "1000",
			ixType:      "transferChecked",
			memo:        x402.MemoFor(nonce, hash),
		}
	}

	tests := []struct {
		name   string
		mutate func(*txFixture)
		want   bool
	}{
		{"accepts matching transfer and memo", func(f *txFixture) {}, true},
		{"rejects under-amount", func(f *txFixture) { f.amount = "999" }, false},
		{"rejects wrong mint", func(f *txFixture) { f.mint = solana.NewWallet().PublicKey().String() }, false},
		{"rejects wrong destination", func(f *txFixture) { f.destination = solana.NewWallet().PublicKey().String() }, false},
		{"rejects plain transfer", func(f *txFixture) { f.ixType = "transfer" }, false},
		{"rejects missing transfer", func(f *txFixture) { f.omitXfer = true }, false},
		{"rejects wrong memo", func(f *txFixture) { f.memo = x402.MemoFor("other", hash) }, false},
		{"rejects missing memo", func(f *txFixture) { f.omitMemo = true }, false},
		{"rejects null blockTime", func(f *txFixture) { f.blockTime = nil }, false},
		{"rejects tx after challenge window", func(f *txFixture) {
			f.blockTime = int64p(time.Now().Add(10 * time.Minute).Unix())
		}, false},
		{"rejects stale tx", func(f *txFixture) {
			f.blockTime = int64p(time.Now().Add(-11 * time.Minute).Unix())
		}, false},
		{"rejects absent tx", func(f *txFixture) { f.notFound = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := good()
			tt.mutate(&fixture)
			srv := mockRPC(t, &fixture)
			defer srv.Close()

			v := NewSolana(SolanaConfig{RPCURL: srv.URL})
			header := solanaProofHeader(t, nonce, hash, 5*time.Minute)
			if got := v.Verify(context.Background(), header, hash, pricing); got != tt.want {
				t.Fatalf("Verify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSolanaVerifier_ProofSanity(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()
	recipientATA, _, _ := solana.FindAssociatedTokenAddress(recipient, x402.USDCDevnetMint)

	const hash = "4242424242424242424242424242424242424242424242424242424242424242"
	pricing := x402.PricingConfig{Price: "0.001", Recipient: recipient.String()}
	fixture := txFixture{
		blockTime:   int64p(time.Now().Add(-10 * time.Second).Unix()),
		mint:        x402.USDCDevnetMint.String(),
		destination: recipientATA.String(),
		amount:      "1000",
		ixType:      "transferChecked",
		memo:        x402.MemoFor("N", hash),
	}
	srv := mockRPC(t, &fixture)
	defer srv.Close()
	v := NewSolana(SolanaConfig{RPCURL: srv.URL})
	ctx := context.Background()

	if v.Verify(ctx, solanaProofHeader(t, "N", hash, -time.Minute), hash, pricing) {
		t.Fatal("expired proof accepted")
	}
	other := "1111111111111111111111111111111111111111111111111111111111111111"
	if v.Verify(ctx, solanaProofHeader(t, "N", hash, 5*time.Minute), other, pricing) {
		t.Fatal("mismatched request hash accepted")
	}
	if v.Verify(ctx, "garbage!!", hash, pricing) {
		t.Fatal("malformed header accepted")
	}

	// Version must be 1.
	header, err := x402.EncodeProof(x402.PaymentProof{
		Version:     2,
		Nonce:       "N",
		RequestHash: hash,
		ExpiresAt:   time.Now().Add(5 * time.Minute).UTC().Format(time.RFC3339),
		Signature:   "sig",
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Verify(ctx, header, hash, pricing) {
		t.Fatal("wrong-version proof accepted")
	}
}

func TestSolanaVerifier_AmountTolerance(t *testing.T) {
	recipient := solana.NewWallet().PublicKey()
	recipientATA, _, _ := solana.FindAssociatedTokenAddress(recipient, x402.USDCDevnetMint)

	const (
		nonce = "N"
		hash  = "4242424242424242424242424242424242424242424242424242424242424242"
	)
	pricing := x402.PricingConfig{Price: "0.001", Recipient: recipient.String()}

	for _, tt := range []struct {
		amount string
		want   bool
	}{
		{"996", true},  // expected 1000, tolerance 5
		{"995", true},  // exactly at the floor
		{"994", false}, // below the floor
	} {
		fixture := txFixture{
			blockTime:   int64p(time.Now().Add(-10 * time.Second).Unix()),
			mint:        x402.USDCDevnetMint.String(),
			destination: recipientATA.String(),
			amount:      tt.amount,
			ixType:      "transferChecked",
			memo:        x402.MemoFor(nonce, hash),
		}
		srv := mockRPC(t, &fixture)
		v := NewSolana(SolanaConfig{RPCURL: srv.URL, AmountTolerance: big.NewInt(5)})
		header := solanaProofHeader(t, nonce, hash, 5*time.Minute)
		if got := v.Verify(context.Background(), header, hash, pricing); got != tt.want {
			t.Errorf("amount %s: Verify = %v, want %v", tt.amount, got, tt.want)
		}
		srv.Close()
	}
}

func TestSolanaVerifier_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`)
	}))
	defer srv.Close()

	const hash = "4242424242424242424242424242424242424242424242424242424242424242"
	v := NewSolana(SolanaConfig{RPCURL: srv.URL})
	pricing := x402.PricingConfig{Price: "0.001", Recipient: solana.NewWallet().PublicKey().String()}
	if v.Verify(context.Background(), solanaProofHeader(t, "N", hash, 5*time.Minute), hash, pricing) {
		t.Fatal("rpc error treated as valid payment")
	}
}
