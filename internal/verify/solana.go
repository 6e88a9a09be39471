package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/x402gate/x402gate/internal/x402"
)

// SolanaConfig configures the on-chain verifier. Zero values fall back to the
// devnet RPC URL, "confirmed" commitment, and zero amount tolerance.
type SolanaConfig struct {
	RPCURL          string
	Commitment      string
	AmountTolerance *big.Int
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// Solana verifies that proof.signature names a ledger transaction which (a)
// moves at least the priced USDC amount to the recipient's associated token
// account via transferChecked and (b) carries a memo binding it to the exact
// challenge ("nonce|requestHash"). The memo is what prevents reuse of an
// unrelated transfer to the same recipient.
type Solana struct {
	rpcURL     string
	commitment string
	tolerance  *big.Int
	http       *http.Client
	log        *zap.Logger
}

func NewSolana(cfg SolanaConfig) *Solana {
	v := &Solana{
		rpcURL:     cfg.RPCURL,
		commitment: cfg.Commitment,
		tolerance:  cfg.AmountTolerance,
		http:       cfg.HTTPClient,
		log:        cfg.Logger,
	}
	if v.rpcURL == "" {
		v.rpcURL = x402.DefaultRPCURL
	}
	if v.commitment == "" {
		v.commitment = x402.DefaultCommitment
	}
	if v.tolerance == nil {
		v.tolerance = big.NewInt(0)
	}
	if v.http == nil {
		v.http = &http.Client{Timeout: 30 * time.Second}
	}
	if v.log == nil {
		v.log = zap.NewNop()
	}
	return v
}

func (v *Solana) Verify(ctx context.Context, proofHeader, requestHash string, pricing x402.PricingConfig) bool {
	proof, err := x402.DecodeProof(proofHeader)
	if err != nil {
		return false
	}
	if proof.RequestHash != requestHash || proof.Version != 1 {
		return false
	}
	expiry, err := proof.Expiry()
	if err != nil || !expiry.After(time.Now()) {
		return false
	}

	tx, err := v.fetchTransaction(ctx, proof.Signature)
	if err != nil {
		v.log.Debug("transaction fetch failed", zap.String("signature", proof.Signature), zap.Error(err))
		return false
	}

	expected, err := x402.ToBaseUnits(pricing.Price, x402.USDCDecimals)
	if err != nil {
		return false
	}
	minAmount := new(big.Int).Sub(expected, v.tolerance)

	recipient, err := solana.PublicKeyFromBase58(pricing.Recipient)
	if err != nil {
		return false
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, x402.USDCDevnetMint)
	if err != nil {
		return false
	}

	wantMemo := x402.MemoFor(proof.Nonce, proof.RequestHash)
	var transferOK, memoOK bool
	for _, ix := range tx.Transaction.Message.Instructions {
		switch ix.ProgramID {
		case x402.TokenProgramID.String():
			if matchesTransfer(ix.Parsed, recipientATA.String(), minAmount) {
				transferOK = true
			}
		case x402.MemoProgramID.String():
			var memo string
			if json.Unmarshal(ix.Parsed, &memo) == nil && memo == wantMemo {
				memoOK = true
			}
		}
	}
	if !transferOK || !memoOK {
		return false
	}

	// Temporal binding: the transfer must have landed inside the challenge
	// window and must not be a stale transaction replayed long after.
	if tx.BlockTime == nil {
		return false
	}
	blockTime := time.Unix(*tx.BlockTime, 0)
	if blockTime.After(expiry) {
		return false
	}
	if blockTime.Before(time.Now().Add(-x402.MaxTxAge)) {
		return false
	}
	return true
}

// ── Parsed transaction fetch ───────────────────────────────────────────────
// Decoding jsonParsed getTransaction responses needs only a handful of
// fields, declared locally below.

type parsedTx struct {
	BlockTime   *int64 `json:"blockTime"`
	Transaction struct {
		Message struct {
			Instructions []parsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

type parsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

// tokenTransfer is the parsed payload of an SPL token instruction. Only
// transferChecked carries all three of mint, destination, and tokenAmount.
type tokenTransfer struct {
	Type string `json:"type"`
	Info struct {
		Mint        string `json:"mint"`
		Destination string `json:"destination"`
		TokenAmount struct {
			Amount string `json:"amount"`
		} `json:"tokenAmount"`
	} `json:"info"`
}

func matchesTransfer(parsed json.RawMessage, recipientATA string, minAmount *big.Int) bool {
	var t tokenTransfer
	if json.Unmarshal(parsed, &t) != nil {
		return false
	}
	if t.Type != "transferChecked" {
		return false
	}
	if t.Info.Mint != x402.USDCDevnetMint.String() || t.Info.Destination != recipientATA {
		return false
	}
	amount, ok := new(big.Int).SetString(t.Info.TokenAmount.Amount, 10)
	if !ok {
		return false
	}
	return amount.Cmp(minAmount) >= 0
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (v *Solana) fetchTransaction(ctx context.Context, signature string) (*parsedTx, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []any{signature, map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     v.commitment,
			"maxSupportedTransactionVersion": 0,
		}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getTransaction: status %d", resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("getTransaction: decode: %w", err)
	}
	if rr.Error != nil {
		return nil, fmt.Errorf("getTransaction: rpc error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	if len(rr.Result) == 0 || string(rr.Result) == "null" {
		return nil, fmt.Errorf("getTransaction: %s not found", signature)
	}

	var tx parsedTx
	if err := json.Unmarshal(rr.Result, &tx); err != nil {
		return nil, fmt.Errorf("getTransaction: decode result: %w", err)
	}
	return &tx, nil
}
