package lnd

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// ErrUnpayable is returned for amounts or accounts the Lightning ledger
// cannot express: fractional satoshi amounts or recipients that are not node
// pubkeys.
var ErrUnpayable = errors.New("payout not payable over lightning")

const (
	pubkeyLen = 33

	DefaultHoldWait      = 5 * time.Second
	DefaultInvoiceExpiry = time.Hour
)

type depositState int

const (
	depositOpen depositState = iota
	depositHeld
	depositSettled
	depositCanceled
)

type pendingDeposit struct {
	req      settlement.DepositRequest
	preimage []byte
	state    depositState
}

// Options tunes the deposit side of the ledger.
type Options struct {
	// HoldWait bounds how long HoldDeposit waits for an unpaid invoice.
	HoldWait time.Duration
	// InvoiceExpiry is the lifetime of deposit hold invoices.
	InvoiceExpiry time.Duration
}

// LndLedger implements settlement.Ledger on an LND node.
//
// Deposits are hold invoices: the daemon generates the preimage, so the
// payer's HTLC stays locked until the transition commits (settle) or fails
// (cancel). Payouts are keysends from the escrow node. Accounts are node
// pubkeys (hex) and amounts are whole satoshis.
//
// Preimages live in memory only. Invoices outstanding when the daemon stops
// can no longer be settled and expire back to their payers.
type LndLedger struct {
	client settlement.LightningClient
	opts   Options

	mu       sync.Mutex
	deposits map[string]*pendingDeposit
}

// NewLndLedger creates a ledger paying through the given LND client.
func NewLndLedger(client settlement.LightningClient, opts Options) *LndLedger {
	if opts.HoldWait <= 0 {
		opts.HoldWait = DefaultHoldWait
	}
	if opts.InvoiceExpiry <= 0 {
		opts.InvoiceExpiry = DefaultInvoiceExpiry
	}
	return &LndLedger{
		client:   client,
		opts:     opts,
		deposits: make(map[string]*pendingDeposit),
	}
}

func toSats(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() || !amount.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s is not a whole positive number of sats", ErrUnpayable, amount)
	}
	if !amount.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: amount %s out of range", ErrUnpayable, amount)
	}
	return amount.BigInt().Uint64(), nil
}

// RequestDeposit creates a hold invoice for r. The returned Ref is the
// invoice payment hash.
func (l *LndLedger) RequestDeposit(ctx context.Context, r settlement.DepositRequest) (*settlement.DepositInvoice, error) {
	amt, err := toSats(r.Amount)
	if err != nil {
		return nil, err
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, fmt.Errorf("failed to generate preimage: %w", err)
	}
	sum := sha256.Sum256(preimage)
	hash := hex.EncodeToString(sum[:])

	memo := fmt.Sprintf("listing %d %s", r.ListingID, r.Reason)
	payReq, err := l.client.AddHoldInvoice(ctx, memo, hash, amt, int64(l.opts.InvoiceExpiry/time.Second))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.deposits[hash] = &pendingDeposit{req: r, preimage: preimage}
	l.mu.Unlock()

	slog.Info("⚡ [LndLedger] Deposit invoice issued",
		"listing_id", r.ListingID,
		"from", r.From,
		"amount_sats", amt,
		"reason", r.Reason,
		"hash", hash,
	)

	return &settlement.DepositInvoice{
		Ref:            hash,
		PaymentRequest: payReq,
		Amount:         r.Amount,
		ExpiresAt:      time.Now().Add(l.opts.InvoiceExpiry).UTC(),
	}, nil
}

// HoldDeposit waits up to HoldWait for the invoice named by d.Ref to be
// accepted and checks the locked amount. A payment of the wrong size is
// canceled back to the payer.
func (l *LndLedger) HoldDeposit(ctx context.Context, d settlement.Deposit) (*settlement.DepositHold, error) {
	amt, err := toSats(d.Amount)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	p, ok := l.deposits[d.Ref]
	switch {
	case !ok:
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown deposit reference %q", domain.ErrFundsNotReceived, d.Ref)
	case p.state != depositOpen:
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: deposit %s already used", domain.ErrFundsNotReceived, d.Ref)
	case p.req.ListingID != d.ListingID || p.req.From != d.From || p.req.Reason != d.Reason:
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: deposit %s was issued to %s for listing %d %s",
			domain.ErrFundsNotReceived, d.Ref, p.req.From, p.req.ListingID, p.req.Reason)
	}
	p.state = depositHeld
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.HoldWait)
	defer cancel()

	update, err := waitForHeld(waitCtx, l.client, d.Ref)
	if err != nil {
		l.setState(d.Ref, depositOpen)
		return nil, err
	}

	if update.AmtPaid != amt {
		if cerr := l.client.CancelInvoice(context.WithoutCancel(ctx), d.Ref); cerr != nil {
			slog.Error("⚡ [LndLedger] Failed to cancel mismatched deposit", "hash", d.Ref, "error", cerr)
		}
		l.setState(d.Ref, depositCanceled)
		return nil, fmt.Errorf("%w: deposit %s holds %d sats, expected %d", domain.ErrIncorrectPayment, d.Ref, update.AmtPaid, amt)
	}

	return &settlement.DepositHold{
		Ref:        d.Ref,
		ListingID:  d.ListingID,
		From:       d.From,
		Amount:     decimal.NewFromInt(int64(update.AmtPaid)),
		Reason:     d.Reason,
		LedgerType: "LIGHTNING_HOLD_INVOICE",
		HeldAt:     time.Now(),
	}, nil
}

// SettleDeposit reveals the preimage, claiming the held HTLCs.
func (l *LndLedger) SettleDeposit(ctx context.Context, h *settlement.DepositHold) (*settlement.DepositReceipt, error) {
	l.mu.Lock()
	p, ok := l.deposits[h.Ref]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown deposit reference %q", h.Ref)
	}

	if err := l.client.SettleInvoice(ctx, hex.EncodeToString(p.preimage)); err != nil {
		return nil, fmt.Errorf("settle deposit %s: %w", h.Ref, err)
	}
	l.setState(h.Ref, depositSettled)

	slog.Info("⚡ [LndLedger] Deposit settled", "listing_id", h.ListingID, "hash", h.Ref, "reason", h.Reason)

	return &settlement.DepositReceipt{
		TxID:       h.Ref,
		LedgerType: "LIGHTNING_HOLD_INVOICE",
		SettledAt:  time.Now(),
	}, nil
}

// ReleaseDeposit cancels the hold invoice so the payer's HTLCs fail back.
func (l *LndLedger) ReleaseDeposit(ctx context.Context, h *settlement.DepositHold) error {
	if err := l.client.CancelInvoice(ctx, h.Ref); err != nil {
		return fmt.Errorf("release deposit %s: %w", h.Ref, err)
	}
	l.setState(h.Ref, depositCanceled)

	slog.Info("⚡ [LndLedger] Deposit released", "listing_id", h.ListingID, "hash", h.Ref)
	return nil
}

func (l *LndLedger) setState(ref string, s depositState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.deposits[ref]; ok {
		p.state = s
	}
}

// Pay sends the payout and blocks until LND reports a final state.
func (l *LndLedger) Pay(ctx context.Context, p settlement.Payout) (*settlement.PayoutReceipt, error) {
	amt, err := toSats(p.Amount)
	if err != nil {
		return nil, err
	}
	dest := string(p.To)
	if b, err := hex.DecodeString(dest); err != nil || len(b) != pubkeyLen {
		return nil, fmt.Errorf("%w: recipient %q is not a node pubkey", ErrUnpayable, dest)
	}

	memo := fmt.Sprintf("listing %d %s", p.ListingID, p.Reason)

	slog.Info("⚡ [LndLedger] Sending keysend payout...",
		"listing_id", p.ListingID,
		"dest", dest,
		"amount_sats", amt,
		"reason", p.Reason,
	)

	res, err := l.client.SendKeysend(ctx, dest, amt, memo)
	if err != nil {
		return nil, fmt.Errorf("keysend to %s failed: %w", dest, err)
	}
	if res.Status != "SUCCEEDED" {
		return nil, fmt.Errorf("keysend to %s ended %s: %s", dest, res.Status, res.Failure)
	}

	slog.Info("⚡ [LndLedger] Payout settled",
		"listing_id", p.ListingID,
		"payment_hash", res.PaymentHash,
		"fee_sats", res.FeeSats,
	)

	return &settlement.PayoutReceipt{
		TxID:       res.PaymentHash,
		LedgerType: "LIGHTNING_KEYSEND",
		SettledAt:  time.Now(),
	}, nil
}
