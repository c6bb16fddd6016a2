package escrow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

// DefaultKeeperAccount is the caller identity the keeper submits refunds as.
const DefaultKeeperAccount domain.Account = "escrow-keeper"

// Keeper refunds locks whose deadline passed without an unlock. Refund is
// open to any caller, so the keeper only saves tenants from having to submit
// it themselves.
type Keeper struct {
	engine   *Engine
	account  domain.Account
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKeeper(engine *Engine, account domain.Account, interval time.Duration, logger *slog.Logger) *Keeper {
	if account == domain.NoAccount {
		account = DefaultKeeperAccount
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		engine:   engine,
		account:  account,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the sweep loop in a background goroutine until ctx is done or
// Stop is called. It is a no-op while the loop is already running.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}

	ctx, k.cancel = context.WithCancel(ctx)
	k.done = make(chan struct{})
	go k.run(ctx, k.done)
}

// Stop cancels the loop and waits for the current sweep to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel, k.done = nil, nil
	k.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	k.logger.Info("⏹️  [Keeper] Stopped")
}

func (k *Keeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Info("⏱️  [Keeper] Watching for expired locks", "interval", k.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := k.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				k.logger.Error("❌ [Keeper] Sweep failed", "error", err)
			}
		}
	}
}

// Sweep refunds every expired lock once and returns how many were refunded.
// A failure on one listing is logged and does not stop the sweep.
func (k *Keeper) Sweep(ctx context.Context) (int, error) {
	locks, err := k.engine.registry.ActiveLocks(ctx)
	if err != nil {
		return 0, err
	}

	now := k.engine.clock.Now()
	refunded := 0
	for _, l := range locks {
		if now.Before(l.TimeLock) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return refunded, err
		}

		_, err := k.engine.RefundTimeout(ctx, k.account, l.ID)
		switch {
		case err == nil:
			refunded++
		case errors.Is(err, domain.ErrInvalidState):
			// Unlocked or refunded between the scan and the apply.
			k.logger.Debug("[Keeper] Lock already resolved", "listing_id", l.ID)
		default:
			k.logger.Error("❌ [Keeper] Refund failed", "listing_id", l.ID, "error", err)
		}
	}

	if refunded > 0 {
		k.logger.Info("🧹 [Keeper] Expired locks refunded", "count", refunded)
	}
	return refunded, nil
}
