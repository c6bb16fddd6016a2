package lnd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

var errInvoiceSettled = errors.New("invoice already settled")

// waitForHeld watches a deposit hold invoice until the payer's HTLCs are
// ACCEPTED (locked but not yet claimed) and returns the accepted update. An
// invoice still OPEN when ctx ends has not been paid.
func waitForHeld(ctx context.Context, client settlement.LightningClient, hash string) (*settlement.InvoiceUpdate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updateChan, errChan, err := client.SubscribeSingleInvoice(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("subscribe invoice failed: %w", err)
	}

	slog.Debug("⚡ [LndLedger] Watching deposit invoice...", "hash", hash)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: invoice %s not paid", domain.ErrFundsNotReceived, hash)
		case err, ok := <-errChan:
			if ok {
				return nil, fmt.Errorf("invoice stream error: %w", err)
			}
			errChan = nil
		case update, ok := <-updateChan:
			if !ok {
				return nil, fmt.Errorf("invoice stream closed unexpectedly")
			}

			switch update.State {
			case "ACCEPTED":
				slog.Info("⚡ [LndLedger] Deposit HTLC accepted (held)", "hash", hash, "amt_paid", update.AmtPaid)
				return update, nil
			case "SETTLED":
				return nil, fmt.Errorf("%w: %w", domain.ErrFundsNotReceived, errInvoiceSettled)
			case "CANCELED":
				return nil, fmt.Errorf("%w: invoice %s canceled", domain.ErrFundsNotReceived, hash)
			}
			// OPEN: keep waiting
		}
	}
}
