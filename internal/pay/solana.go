package pay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/x402gate/x402gate/internal/x402"
)

// SolanaConfig configures the on-chain payer. PrivateKey is required and
// accepts either a base58 string or a JSON byte array (auto-detected by a
// leading '[').
type SolanaConfig struct {
	PrivateKey string
	RPCURL     string
	Commitment string
	Logger     *zap.Logger
}

// Solana pays challenges with a two-instruction devnet transaction:
// transferChecked of the priced USDC amount to the recipient's associated
// token account, plus a memo carrying "nonce|requestHash" so the verifier can
// bind the transaction to this exact challenge.
type Solana struct {
	key        solana.PrivateKey
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	log        *zap.Logger
}

func NewSolana(cfg SolanaConfig) (*Solana, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("solana payer: private key is required")
	}
	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("solana payer: %w", err)
	}

	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = x402.DefaultRPCURL
	}
	commitment := rpc.CommitmentType(cfg.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Solana{key: key, rpc: rpc.New(rpcURL), commitment: commitment, log: log}, nil
}

// parsePrivateKey accepts base58 or a JSON array of key bytes.
func parsePrivateKey(raw string) (solana.PrivateKey, error) {
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var b []byte
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("parse private key array: %w", err)
		}
		key := solana.PrivateKey(b)
		if _, err := key.Sign([]byte("probe")); err != nil {
			return nil, fmt.Errorf("invalid private key bytes: %w", err)
		}
		return key, nil
	}
	key, err := solana.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key base58: %w", err)
	}
	return key, nil
}

func (s *Solana) Pay(ctx context.Context, ch x402.Challenge, _ Request) (x402.PaymentProof, error) {
	amount, err := x402.ToBaseUnits(ch.Price, x402.USDCDecimals)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("challenge price: %w", err)
	}
	if !amount.IsUint64() {
		return x402.PaymentProof{}, fmt.Errorf("challenge price %q out of range", ch.Price)
	}

	sender := s.key.PublicKey()
	senderATA, _, err := solana.FindAssociatedTokenAddress(sender, x402.USDCDevnetMint)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("derive sender token account: %w", err)
	}
	if ok, err := s.accountExists(ctx, senderATA); err != nil {
		return x402.PaymentProof{}, err
	} else if !ok {
		return x402.PaymentProof{}, errors.New("payer has no USDC token account")
	}

	recipient, err := solana.PublicKeyFromBase58(ch.Recipient)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("challenge recipient: %w", err)
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, x402.USDCDevnetMint)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("derive recipient token account: %w", err)
	}
	// Never auto-create the recipient's account: that would shift the rent
	// funding burden onto the payer.
	if ok, err := s.accountExists(ctx, recipientATA); err != nil {
		return x402.PaymentProof{}, err
	} else if !ok {
		return x402.PaymentProof{}, errors.New("recipient has no USDC token account")
	}

	blockhash, err := s.rpc.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	transfer := token.NewTransferCheckedInstruction(
		amount.Uint64(),
		x402.USDCDecimals,
		senderATA,
		x402.USDCDevnetMint,
		recipientATA,
		sender,
		nil,
	).Build()
	// SPL Memo takes no accounts; adding signers breaks verification.
	memo := solana.NewInstruction(
		x402.MemoProgramID,
		solana.AccountMetaSlice{},
		[]byte(x402.MemoFor(ch.Nonce, ch.RequestHash)),
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transfer, memo},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(sender),
	)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(sender) {
			return &s.key
		}
		return nil
	}); err != nil {
		return x402.PaymentProof{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("send transaction: %w", err)
	}
	s.log.Info("payment submitted",
		zap.String("signature", sig.String()),
		zap.String("recipient", ch.Recipient),
		zap.String("price", ch.Price),
	)

	if err := s.waitForCommitment(ctx, sig); err != nil {
		return x402.PaymentProof{}, err
	}

	return x402.PaymentProof{
		Version:     ch.Version,
		Nonce:       ch.Nonce,
		RequestHash: ch.RequestHash,
		Payer:       sender.String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		ExpiresAt:   ch.ExpiresAt,
		Signature:   sig.String(),
	}, nil
}

func (s *Solana) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := s.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get account %s: %w", account, err)
	}
	return info.Value != nil, nil
}

// waitForCommitment polls signature status until the configured commitment is
// reached. The transaction may still land after a timeout; the caller's
// context bounds how long we wait, not whether funds move.
func (s *Solana) waitForCommitment(ctx context.Context, sig solana.Signature) error {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for commitment: %w", ctx.Err())
		case <-t.C:
			out, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				s.log.Debug("signature status poll failed", zap.Error(err))
				continue
			}
			if len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on chain", sig)
			}
			if commitmentReached(st.ConfirmationStatus, s.commitment) {
				return nil
			}
		}
	}
}

func commitmentReached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := map[string]int{"processed": 0, "confirmed": 1, "finalized": 2}
	got, ok := rank[string(status)]
	if !ok {
		return false
	}
	wanted, ok := rank[string(want)]
	if !ok {
		wanted = rank[string(rpc.CommitmentConfirmed)]
	}
	return got >= wanted
}
