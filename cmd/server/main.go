package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/gate"
	"github.com/x402gate/x402gate/internal/idempotency"
	"github.com/x402gate/x402gate/internal/nonce"
	"github.com/x402gate/x402gate/internal/verify"
	"github.com/x402gate/x402gate/internal/x402"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Stores (Redis when configured, in-memory otherwise) ──────────────────
	gateCfg := gate.Config{Logger: log}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		gateCfg.Nonces = nonce.NewRedisRegistry(rdb)
		gateCfg.Idempotency = idempotency.NewRedisStore(rdb, idempotency.DefaultTTL)
	}

	// ── Verifier ──────────────────────────────────────────────────────────────
	switch cfg.Payment.Mode {
	case "solana":
		gateCfg.Verifier = verify.NewSolana(verify.SolanaConfig{
			RPCURL:     cfg.Solana.RPCURL,
			Commitment: cfg.Solana.Commitment,
			Logger:     log,
		})
	default:
		gateCfg.Verifier = verify.NewMock(cfg.Payment.MockSecret)
	}

	g, err := gate.New(gateCfg)
	if err != nil {
		log.Fatal("gate init failed", zap.Error(err))
	}
	defer g.Close() //nolint:errcheck

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	weatherPricing := x402.PricingConfig{
		Price:       "0.001",
		Asset:       "USDC",
		Network:     network(cfg.Payment.Mode),
		Recipient:   cfg.Recipient(),
		Description: "Current weather for a city",
	}
	r.GET("/weather", g.Priced(weatherPricing), handleWeather)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("mode", cfg.Payment.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func network(mode string) string {
	if mode == "solana" {
		return "solana-devnet"
	}
	return "mock"
}

type weather struct {
	City      string `json:"city"`
	Temp      int    `json:"temp"`
	Condition string `json:"condition"`
	Humidity  int    `json:"humidity"`
	Unit      string `json:"unit"`
}

var cities = map[string]weather{
	"London": {City: "London", Temp: 15, Condition: "Cloudy", Humidity: 72, Unit: "celsius"},
	"Paris":  {City: "Paris", Temp: 18, Condition: "Partly Cloudy", Humidity: 65, Unit: "celsius"},
	"Tokyo":  {City: "Tokyo", Temp: 22, Condition: "Sunny", Humidity: 55, Unit: "celsius"},
}

func handleWeather(c *gin.Context) {
	city := c.Query("city")
	if city == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "city query parameter is required"})
		return
	}
	w, ok := cities[city]
	if !ok {
		w = weather{City: city, Temp: 20, Condition: "Sunny", Humidity: 50, Unit: "celsius"}
	}
	c.JSON(http.StatusOK, w)
}
