// Command escrowd runs the rental escrow engine behind an HTTP API, with a
// keeper refunding expired locks in the background.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ThorbenD/htlc-rental-escrow/adapters/lnd"
	"github.com/ThorbenD/htlc-rental-escrow/adapters/logsink"
	"github.com/ThorbenD/htlc-rental-escrow/adapters/mock"
	"github.com/ThorbenD/htlc-rental-escrow/adapters/postgres"
	"github.com/ThorbenD/htlc-rental-escrow/adapters/rabbitmq"
	lndclient "github.com/ThorbenD/htlc-rental-escrow/clients/lnd"
	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/escrow"
	"github.com/ThorbenD/htlc-rental-escrow/policy"
	"github.com/ThorbenD/htlc-rental-escrow/registry"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
	"github.com/ThorbenD/htlc-rental-escrow/transport/httpapi"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("❌ invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("❌ escrowd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	fees := policy.Default()
	if cfg.PolicyFile != "" {
		var err error
		if fees, err = policy.LoadConfig(cfg.PolicyFile); err != nil {
			return err
		}
	}
	logger.Info("💶 Fee policy loaded",
		"publish_fee", fees.PublishFee.String(),
		"recovery_fee", fees.RecoveryFee.String(),
		"booking_fee", fees.BookingFee.String(),
		"lock_duration", fees.LockDuration,
		"renewal_period", fees.RenewalPeriod,
	)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()

	var store registry.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{CacheTTL: cfg.CacheTTL}, logger)
		if err != nil {
			return err
		}
		closers = append(closers, pg)
		store = pg
		logger.Info("🐘 Using PostgreSQL store")
	} else {
		store = registry.NewMemoryStore()
		logger.Warn("🧠 DATABASE_URL not set, listings are kept in memory only")
	}

	// Payouts and deposit settles must finish even when the caller hangs up.
	settleTimeout := escrow.DefaultSettleTimeout

	var ledger settlement.Ledger
	switch cfg.Ledger {
	case "lnd":
		client, err := lndclient.NewClient(lndclient.Config{
			Host:                  cfg.LndHost,
			TLSCertPath:           cfg.LndTLSCert,
			MacaroonPath:          cfg.LndMacaroon,
			Network:               cfg.LndNetwork,
			PaymentTimeoutSeconds: cfg.LndTimeout,
			FeeLimitSats:          cfg.LndFeeLimit,
		})
		if err != nil {
			return err
		}
		closers = append(closers, client)

		info, err := client.GetInfo(ctx)
		if err != nil {
			return err
		}
		logger.Info("⚡ Connected to LND", "alias", info.Alias, "pubkey", info.Pubkey, "network", info.Network, "synced", info.Synced)
		ledger = lnd.NewLndLedger(client, lnd.Options{
			HoldWait:      cfg.LndHoldWait,
			InvoiceExpiry: cfg.LndInvoiceExpiry,
		})
		// A payout may need its full timeout twice: once sending, once tracking.
		if t := 2*time.Duration(cfg.LndTimeout)*time.Second + 30*time.Second; t > settleTimeout {
			settleTimeout = t
		}
	default:
		m := mock.NewMockLedger()
		m.AutoFund(true)
		ledger = m
		logger.Warn("🧪 Using mock ledger, invoices count as paid and payouts are not real")
	}

	notifiers := settlement.Fanout{logsink.New(logger)}
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.Dial(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		closers = append(closers, pub)
		notifiers = append(notifiers, pub)
	}

	clock := settlement.SystemClock{}
	reg := registry.New(store, fees, clock, logger)
	engine := escrow.NewEngine(reg, ledger, clock, notifiers, logger, escrow.WithSettleTimeout(settleTimeout))

	keeper := escrow.NewKeeper(engine, domain.Account(cfg.KeeperAccount), cfg.KeeperInterval, logger)
	keeper.Start(ctx)
	defer keeper.Stop()

	auth, err := httpapi.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return err
	}
	return httpapi.NewServer(engine, auth, logger).Run(ctx, cfg.HTTPAddr)
}
