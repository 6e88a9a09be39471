// Package gate implements the payment-gate state machine that fronts priced
// routes: capture body → canonical hash → idempotency lookup → challenge or
// proof verification → nonce reservation → handler → response capture.
package gate

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/x402gate/x402gate/internal/idempotency"
	"github.com/x402gate/x402gate/internal/nonce"
	"github.com/x402gate/x402gate/internal/verify"
	"github.com/x402gate/x402gate/internal/x402"
)

const (
	// ProofHeader carries the base64url payment proof. Lookup through gin is
	// case-insensitive.
	ProofHeader = "X-Payment-Proof"

	// IdempotencyHeader is the client-chosen retry key.
	IdempotencyHeader = "Idempotency-Key"

	// ReplayHeader marks responses served from the idempotency cache.
	ReplayHeader = "X-Idempotent-Replay"

	// DefaultMaxBodyBytes bounds how much request body the gate buffers.
	DefaultMaxBodyBytes = 1 << 20
)

// Config wires a Gate. Verifier is required; nil stores default to in-memory
// implementations owned (and closed) by the Gate.
type Config struct {
	Verifier    verify.Verifier
	Nonces      nonce.Registry
	Idempotency idempotency.Store
	// DefaultTTLSeconds is the challenge TTL for routes whose pricing does
	// not set one. Defaults to 300.
	DefaultTTLSeconds int
	MaxBodyBytes      int64
	Logger            *zap.Logger
}

// Gate owns the shared per-process payment state: the nonce registry and the
// idempotency store. One Gate serves any number of priced routes.
type Gate struct {
	verifier   verify.Verifier
	nonces     nonce.Registry
	idem       idempotency.Store
	defaultTTL time.Duration
	maxBody    int64
	log        *zap.Logger

	ownsNonces bool
	ownsIdem   bool
}

func New(cfg Config) (*Gate, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("gate: verifier is required")
	}
	g := &Gate{
		verifier:   cfg.Verifier,
		nonces:     cfg.Nonces,
		idem:       cfg.Idempotency,
		defaultTTL: time.Duration(cfg.DefaultTTLSeconds) * time.Second,
		maxBody:    cfg.MaxBodyBytes,
		log:        cfg.Logger,
	}
	if g.nonces == nil {
		g.nonces = nonce.NewMemoryRegistry()
		g.ownsNonces = true
	}
	if g.idem == nil {
		g.idem = idempotency.NewMemoryStore(idempotency.DefaultTTL)
		g.ownsIdem = true
	}
	if g.defaultTTL <= 0 {
		g.defaultTTL = x402.DefaultChallengeTTL
	}
	if g.maxBody <= 0 {
		g.maxBody = DefaultMaxBodyBytes
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	return g, nil
}

// Close stops background sweeps of any store the Gate created itself.
// Caller-supplied stores are left alone.
func (g *Gate) Close() error {
	if g.ownsNonces {
		g.nonces.Close() //nolint:errcheck
	}
	if g.ownsIdem {
		g.idem.Close() //nolint:errcheck
	}
	return nil
}

// Priced returns the middleware that gates one route behind the given
// pricing. Routes without this middleware are never charged. Invalid pricing
// is a startup defect and panics during route registration, before any
// traffic is served.
func (g *Gate) Priced(pricing x402.PricingConfig) gin.HandlerFunc {
	if _, err := x402.ToBaseUnits(pricing.Price, x402.USDCDecimals); err != nil {
		panic(fmt.Sprintf("gate: invalid route price: %v", err))
	}
	if pricing.Recipient == "" {
		panic("gate: route pricing requires a recipient")
	}

	return func(c *gin.Context) {
		// ── Body capture ────────────────────────────────────────────────
		// Buffer the raw bytes before any parser consumes them; the exact
		// bytes are hashed and then re-offered to downstream readers.
		body, ok := g.captureBody(c)
		if !ok {
			return
		}
		hash := x402.HashRequest(c.Request.Method, c.Request.URL.EscapedPath(), c.Request.URL.RawQuery, body)

		// ── Idempotency lookup ──────────────────────────────────────────
		// Checked before proof verification so a retried request replays
		// without burning a fresh one-shot nonce.
		idemKey := c.GetHeader(IdempotencyHeader)
		if idemKey != "" && !g.checkIdempotency(c, idemKey, hash) {
			return
		}

		// ── Proof check ─────────────────────────────────────────────────
		proofHeader := c.GetHeader(ProofHeader)
		if proofHeader == "" {
			g.issueChallenge(c, pricing, hash)
			return
		}
		if !g.verifier.Verify(c.Request.Context(), proofHeader, hash, pricing) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "invalid payment proof"})
			return
		}

		// ── Nonce reservation ───────────────────────────────────────────
		// Reserved only after the signature checks out, so forged proofs
		// cannot exhaust the nonce space.
		proof, err := x402.DecodeProof(proofHeader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "invalid payment proof"})
			return
		}
		expiry, err := proof.Expiry()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "invalid payment proof"})
			return
		}
		reserved, err := g.nonces.TryReserve(c.Request.Context(), proof.Nonce, expiry.Add(x402.NonceGrace))
		if err != nil {
			g.log.Error("nonce reserve failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !reserved {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "payment proof replay detected"})
			return
		}

		// ── Handler + response capture ──────────────────────────────────
		if idemKey == "" {
			c.Next()
			return
		}
		rec := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rec
		c.Next()

		// A cancelled handler never populates the cache.
		if c.Request.Context().Err() != nil {
			return
		}
		headers := make(map[string]string, len(rec.Header()))
		for k := range rec.Header() {
			headers[k] = rec.Header().Get(k)
		}
		stored := idempotency.StoredResponse{
			RequestHash: hash,
			StatusCode:  rec.Status(),
			Body:        rec.body.Bytes(),
			Headers:     headers,
		}
		if err := g.idem.Set(c.Request.Context(), idemKey, stored); err != nil {
			g.log.Warn("idempotency set failed", zap.String("key", idemKey), zap.Error(err))
		}
	}
}

func (g *Gate) captureBody(c *gin.Context) ([]byte, bool) {
	if c.Request.Body == nil {
		return nil, true
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, g.maxBody+1))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return nil, false
	}
	if int64(len(body)) > g.maxBody {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return nil, false
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}

// checkIdempotency resolves the stored-response path. Returns false when the
// request has been fully answered (replay or conflict).
func (g *Gate) checkIdempotency(c *gin.Context, key, hash string) bool {
	stored, err := g.idem.Get(c.Request.Context(), key)
	if err != nil {
		// A degraded cache must not block payment; treat as a miss.
		g.log.Warn("idempotency get failed", zap.String("key", key), zap.Error(err))
		return true
	}
	if stored == nil {
		return true
	}
	if stored.RequestHash != hash {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":          "idempotency key already used for a different request",
			"idempotencyKey": key,
		})
		return false
	}

	for k, v := range stored.Headers {
		c.Writer.Header().Set(k, v)
	}
	c.Header(ReplayHeader, "true")
	c.Data(stored.StatusCode, stored.Headers["Content-Type"], stored.Body)
	c.Abort()
	return false
}

func (g *Gate) issueChallenge(c *gin.Context, pricing x402.PricingConfig, hash string) {
	ttl := g.defaultTTL
	if pricing.TTLSeconds > 0 {
		ttl = time.Duration(pricing.TTLSeconds) * time.Second
	}

	ch := x402.Challenge{
		Version:     1,
		Scheme:      orDefault(pricing.Scheme, "exact"),
		Price:       pricing.Price,
		Asset:       pricing.Asset,
		Network:     orDefault(pricing.Network, "mock"),
		Recipient:   pricing.Recipient,
		Nonce:       uuid.NewString(),
		ExpiresAt:   time.Now().UTC().Add(ttl).Format(time.RFC3339),
		RequestHash: hash,
		Description: pricing.Description,
	}
	g.log.Debug("challenge issued",
		zap.String("nonce", ch.Nonce),
		zap.String("requestHash", ch.RequestHash),
		zap.String("path", c.Request.URL.Path),
	)
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"x402": ch})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// captureWriter tees the handler's response body so it can be stored for
// idempotent replay while still streaming to the client.
type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
