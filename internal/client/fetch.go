// Package client implements the paying HTTP client: a fetch wrapper that
// transparently answers 402 challenges through a Payer, and a thin tool
// facade that shapes schema-checked inputs into paid requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/x402gate/x402gate/internal/pay"
	"github.com/x402gate/x402gate/internal/x402"
)

// Doer is the transport seam; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client. Payer is required.
type Options struct {
	Payer pay.Payer
	HTTP  Doer
	// MaxRetries bounds how many payments one Fetch may make. Defaults to 1.
	MaxRetries int
	Logger     *zap.Logger
}

// Client issues requests and, on a 402 carrying a challenge, pays once and
// retries with the proof attached. A single Fetch never sends more than
// 1 + MaxRetries requests.
type Client struct {
	payer      pay.Payer
	http       Doer
	maxRetries int
	log        *zap.Logger
}

func New(opts Options) (*Client, error) {
	if opts.Payer == nil {
		return nil, fmt.Errorf("client: payer is required")
	}
	c := &Client{
		payer:      opts.Payer,
		http:       opts.HTTP,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 1
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c, nil
}

// Fetch performs the 402 → pay → retry loop. Caller-supplied headers,
// including any Idempotency-Key, are re-sent verbatim on the retry. A 402
// whose body is not a challenge envelope is returned unchanged with its body
// intact. Payer failures surface as errors; they are never swallowed.
func (c *Client) Fetch(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	resp, err := c.send(ctx, method, url, body, header, "")
	if err != nil {
		return nil, err
	}

	attempts := c.maxRetries
	for resp.StatusCode == http.StatusPaymentRequired && attempts > 0 {
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck
		if err != nil {
			return nil, fmt.Errorf("read 402 body: %w", err)
		}

		ch, ok := parseChallenge(raw)
		if !ok {
			// Not an x402 challenge; hand the 402 back untouched.
			resp.Body = io.NopCloser(bytes.NewReader(raw))
			return resp, nil
		}

		proof, err := c.payer.Pay(ctx, ch, pay.Request{URL: url, Method: method})
		if err != nil {
			return nil, fmt.Errorf("pay challenge: %w", err)
		}
		proofHeader, err := x402.EncodeProof(proof)
		if err != nil {
			return nil, err
		}
		c.log.Debug("retrying with payment proof",
			zap.String("url", url),
			zap.String("nonce", ch.Nonce),
		)

		attempts--
		resp, err = c.send(ctx, method, url, body, header, proofHeader)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, url string, body []byte, header http.Header, proofHeader string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if proofHeader != "" {
		req.Header.Set("X-Payment-Proof", proofHeader)
	}
	return c.http.Do(req)
}

// challengeEnvelope accepts the canonical {"x402": …} wrapper and the older
// {"challenge": …} form.
type challengeEnvelope struct {
	X402      *x402.Challenge `json:"x402"`
	Challenge *x402.Challenge `json:"challenge"`
}

func parseChallenge(body []byte) (x402.Challenge, bool) {
	var env challengeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return x402.Challenge{}, false
	}
	ch := env.X402
	if ch == nil {
		ch = env.Challenge
	}
	if ch == nil || ch.Nonce == "" || ch.RequestHash == "" {
		return x402.Challenge{}, false
	}
	return *ch, true
}
