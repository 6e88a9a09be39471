package x402

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Process-wide protocol constants.
const (
	// USDCDecimals is the decimal count of USDC on every supported network.
	USDCDecimals = 6

	// DefaultRPCURL is the Solana devnet public RPC endpoint.
	DefaultRPCURL = "https://api.devnet.solana.com"

	// DefaultCommitment is the commitment level used when none is configured.
	DefaultCommitment = "confirmed"

	// DefaultChallengeTTL bounds how long an issued challenge stays payable.
	DefaultChallengeTTL = 300 * time.Second

	// NonceGrace is added to a proof's expiry when reserving its nonce, so
	// the registry entry outlives any in-flight verification of the same
	// proof.
	NonceGrace = 60 * time.Second

	// MaxTxAge rejects on-chain transactions older than this, independent of
	// the challenge window.
	MaxTxAge = 600 * time.Second
)

var (
	// USDCDevnetMint is the USDC mint on Solana devnet.
	USDCDevnetMint = solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")

	// MemoProgramID is the SPL Memo v2 program.
	MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// TokenProgramID is the SPL Token program.
	TokenProgramID = solana.TokenProgramID
)
