package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Payment PaymentConfig
	Solana  SolanaConfig
	Redis   RedisConfig
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PaymentConfig struct {
	// Mode selects the verifier/payer pair: "mock" or "solana".
	Mode       string `mapstructure:"mode"`
	MockSecret string `mapstructure:"mock_secret"`
}

type SolanaConfig struct {
	PrivateKey      string `mapstructure:"private_key"`
	RPCURL          string `mapstructure:"rpc_url"`
	Commitment      string `mapstructure:"commitment"`
	RecipientWallet string `mapstructure:"recipient_wallet"`
}

type RedisConfig struct {
	// Addr is optional; empty means in-memory nonce/idempotency stores.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("payment.mode", "mock")
	v.SetDefault("payment.mock_secret", "mock-secret")
	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.commitment", "confirmed")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.host":             "HOST",
		"server.port":             "PORT",
		"payment.mode":            "PAYMENT_MODE",
		"payment.mock_secret":     "MOCK_SECRET",
		"solana.private_key":      "SOLANA_PRIVATE_KEY",
		"solana.rpc_url":          "SOLANA_RPC_URL",
		"solana.commitment":       "SOLANA_COMMITMENT",
		"solana.recipient_wallet": "RECIPIENT_WALLET",
		"redis.addr":              "REDIS_ADDR",
		"redis.password":          "REDIS_PASSWORD",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Payment.Mode {
	case "mock":
	case "solana":
		if c.Solana.RecipientWallet == "" {
			return fmt.Errorf("required config missing: RECIPIENT_WALLET")
		}
	default:
		return fmt.Errorf("PAYMENT_MODE must be \"mock\" or \"solana\", got %q", c.Payment.Mode)
	}
	return nil
}

// Recipient is the challenge recipient for the active mode.
func (c *Config) Recipient() string {
	if c.Payment.Mode == "solana" {
		return c.Solana.RecipientWallet
	}
	if c.Solana.RecipientWallet != "" {
		return c.Solana.RecipientWallet
	}
	return "mock-recipient"
}
