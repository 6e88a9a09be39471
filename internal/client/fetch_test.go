package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/x402gate/x402gate/internal/gate"
	"github.com/x402gate/x402gate/internal/pay"
	"github.com/x402gate/x402gate/internal/verify"
	"github.com/x402gate/x402gate/internal/x402"
)

const testSecret = "client-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// gatedServer runs a real gate in front of a counting weather handler.
func gatedServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	g, err := gate.New(gate.Config{Verifier: verify.NewMock(testSecret)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() }) //nolint:errcheck

	var calls atomic.Int64
	r := gin.New()
	pricing := x402.PricingConfig{Price: "0.001", Asset: "USDC", Recipient: "mock-recipient"}
	r.GET("/weather", g.Priced(pricing), func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusOK, gin.H{"city": c.Query("city"), "temp": 15})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &calls
}

// countingPayer wraps the mock payer and counts Pay calls.
type countingPayer struct {
	inner pay.Payer
	calls atomic.Int64
}

func (p *countingPayer) Pay(ctx context.Context, ch x402.Challenge, req pay.Request) (x402.PaymentProof, error) {
	p.calls.Add(1)
	return p.inner.Pay(ctx, ch, req)
}

func newTestClient(t *testing.T, payer pay.Payer) *Client {
	t.Helper()
	c, err := New(Options{Payer: payer})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFetch_PaysAndRetries(t *testing.T) {
	srv, calls := gatedServer(t)
	payer := &countingPayer{inner: pay.NewMock(testSecret, "tester")}
	c := newTestClient(t, payer)

	resp, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+"/weather?city=London", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var data struct{ City string }
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatal(err)
	}
	if data.City != "London" {
		t.Errorf("city = %q, want London", data.City)
	}
	if payer.calls.Load() != 1 {
		t.Errorf("payer called %d times, want 1", payer.calls.Load())
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}
}

func TestFetch_PreservesIdempotencyKey(t *testing.T) {
	srv, calls := gatedServer(t)
	c := newTestClient(t, pay.NewMock(testSecret, "tester"))

	header := make(http.Header)
	header.Set("Idempotency-Key", "fetch-k1")

	resp1, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+"/weather?city=London", nil, header)
	if err != nil {
		t.Fatal(err)
	}
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close() //nolint:errcheck
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first fetch: expected 200, got %d: %s", resp1.StatusCode, body1)
	}

	// Second fetch replays from the idempotency cache without a new payment.
	resp2, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+"/weather?city=London", nil, header)
	if err != nil {
		t.Fatal(err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close() //nolint:errcheck

	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("second fetch: expected 200, got %d", resp2.StatusCode)
	}
	if resp2.Header.Get("X-Idempotent-Replay") != "true" {
		t.Error("second fetch missing replay header")
	}
	if string(body1) != string(body2) {
		t.Errorf("bodies differ:\n first %s\nsecond %s", body1, body2)
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}
}

func TestFetch_NonChallenge402PassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"subscription required"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	payer := &countingPayer{inner: pay.NewMock(testSecret, "tester")}
	c := newTestClient(t, payer)

	resp, err := c.Fetch(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "subscription required") {
		t.Errorf("402 body not preserved: %s", body)
	}
	if payer.calls.Load() != 0 {
		t.Errorf("payer called %d times for a non-challenge 402", payer.calls.Load())
	}
}

func TestFetch_OnePaymentPerBudget(t *testing.T) {
	// Server that always challenges, never accepts.
	var requests atomic.Int64
	g, err := gate.New(gate.Config{Verifier: verify.NewMock("server-side-secret")})
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close() //nolint:errcheck

	r := gin.New()
	r.GET("/paid", g.Priced(x402.PricingConfig{Price: "0.001", Recipient: "mock-recipient"}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requests.Add(1)
		r.ServeHTTP(w, req)
	}))
	defer srv.Close()

	// Client pays with the wrong secret, so every attempt is rejected.
	payer := &countingPayer{inner: pay.NewMock("client-side-secret", "tester")}
	c := newTestClient(t, payer)

	resp, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+"/paid", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected persisting 402, got %d", resp.StatusCode)
	}
	if payer.calls.Load() != 1 {
		t.Errorf("payer called %d times, want exactly 1", payer.calls.Load())
	}
	if requests.Load() != 2 {
		t.Errorf("server saw %d requests, want 2 (initial + one retry)", requests.Load())
	}
}

func TestFetch_PayerErrorSurfaces(t *testing.T) {
	srv, _ := gatedServer(t)
	c := newTestClient(t, failingPayer{})

	if _, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+"/weather?city=London", nil, nil); err == nil {
		t.Fatal("expected payer error to surface")
	}
}

type failingPayer struct{}

func (failingPayer) Pay(context.Context, x402.Challenge, pay.Request) (x402.PaymentProof, error) {
	return x402.PaymentProof{}, context.DeadlineExceeded
}

func TestClient_RequiresPayer(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for missing payer")
	}
}
