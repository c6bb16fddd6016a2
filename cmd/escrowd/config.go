package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	HTTPAddr  string
	JWTSecret string
	LogLevel  slog.Level

	PolicyFile string

	DatabaseURL string
	CacheTTL    time.Duration

	Ledger           string // "mock" or "lnd"
	LndHost          string
	LndTLSCert       string
	LndMacaroon      string
	LndNetwork       string
	LndFeeLimit      int64
	LndTimeout       int32
	LndHoldWait      time.Duration
	LndInvoiceExpiry time.Duration

	RabbitURL   string
	RabbitQueue string

	KeeperInterval time.Duration
	KeeperAccount  string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig() (config, error) {
	cfg := config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		PolicyFile:  os.Getenv("POLICY_FILE"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Ledger:      strings.ToLower(getEnv("LEDGER", "mock")),
		LndHost:     getEnv("LND_HOST", "localhost:10009"),
		LndTLSCert:  os.Getenv("LND_TLS_CERT"),
		LndMacaroon: os.Getenv("LND_MACAROON"),
		LndNetwork:  getEnv("LND_NETWORK", "regtest"),
		RabbitURL:   os.Getenv("RABBITMQ_URL"),
		RabbitQueue: getEnv("RABBITMQ_QUEUE", "escrow_events"),

		KeeperAccount: getEnv("KEEPER_ACCOUNT", "escrow-keeper"),
	}

	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", "30s")); err != nil {
		return cfg, fmt.Errorf("CACHE_TTL: %w", err)
	}
	if cfg.KeeperInterval, err = time.ParseDuration(getEnv("KEEPER_INTERVAL", "1m")); err != nil {
		return cfg, fmt.Errorf("KEEPER_INTERVAL: %w", err)
	}
	if cfg.LndHoldWait, err = time.ParseDuration(getEnv("LND_HOLD_WAIT", "5s")); err != nil {
		return cfg, fmt.Errorf("LND_HOLD_WAIT: %w", err)
	}
	if cfg.LndInvoiceExpiry, err = time.ParseDuration(getEnv("LND_INVOICE_EXPIRY", "1h")); err != nil {
		return cfg, fmt.Errorf("LND_INVOICE_EXPIRY: %w", err)
	}
	if cfg.LndFeeLimit, err = strconv.ParseInt(getEnv("LND_FEE_LIMIT_SATS", "100"), 10, 64); err != nil {
		return cfg, fmt.Errorf("LND_FEE_LIMIT_SATS: %w", err)
	}
	timeout, err := strconv.ParseInt(getEnv("LND_PAYMENT_TIMEOUT_SECONDS", "60"), 10, 32)
	if err != nil {
		return cfg, fmt.Errorf("LND_PAYMENT_TIMEOUT_SECONDS: %w", err)
	}
	cfg.LndTimeout = int32(timeout)

	switch cfg.Ledger {
	case "mock":
	case "lnd":
		if cfg.LndTLSCert == "" || cfg.LndMacaroon == "" {
			return cfg, fmt.Errorf("LEDGER=lnd needs LND_TLS_CERT and LND_MACAROON")
		}
	default:
		return cfg, fmt.Errorf("LEDGER must be mock or lnd, got %q", cfg.Ledger)
	}
	return cfg, nil
}
