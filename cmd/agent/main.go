// Command agent demonstrates the paying client: it declares the weather tool
// and invokes it once, letting the fetch loop answer the 402 challenge.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/x402gate/x402gate/internal/client"
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/pay"
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8080", "server base URL")
		city    = flag.String("city", "London", "city to look up")
		idemKey = flag.String("idempotency-key", "", "optional Idempotency-Key header")
	)
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	var payer pay.Payer
	switch cfg.Payment.Mode {
	case "solana":
		if cfg.Solana.PrivateKey == "" {
			log.Fatal("required config missing: SOLANA_PRIVATE_KEY")
		}
		payer, err = pay.NewSolana(pay.SolanaConfig{
			PrivateKey: cfg.Solana.PrivateKey,
			RPCURL:     cfg.Solana.RPCURL,
			Commitment: cfg.Solana.Commitment,
			Logger:     log,
		})
		if err != nil {
			log.Fatal("solana payer init failed", zap.Error(err))
		}
	default:
		payer = pay.NewMock(cfg.Payment.MockSecret, "agent-demo")
	}

	c, err := client.New(client.Options{Payer: payer, Logger: log})
	if err != nil {
		log.Fatal("client init failed", zap.Error(err))
	}

	header := make(http.Header)
	if *idemKey != "" {
		header.Set("Idempotency-Key", *idemKey)
	}
	tool := client.Tool{
		Name:        "get_weather",
		Description: "Current weather for a city",
		InputSchema: client.Schema{
			Type: "object",
			Properties: map[string]any{
				"city": map[string]any{"type": "string"},
			},
			Required: []string{"city"},
		},
		Endpoint: *baseURL + "/weather",
		Method:   http.MethodGet,
		Header:   header,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := c.Invoke(ctx, tool, map[string]any{"city": *city})
	if err != nil {
		log.Fatal("tool invocation failed", zap.Error(err))
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
