package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

// PayoutReason names the transition a payout settles.
type PayoutReason string

const (
	ReasonUnlock        PayoutReason = "UNLOCK"
	ReasonRefund        PayoutReason = "REFUND_TIMEOUT"
	ReasonRenewal       PayoutReason = "RENEWAL"
	ReasonDepositReturn PayoutReason = "DEPOSIT_RETURN"
)

// DepositReason names what an incoming payment is for.
type DepositReason string

const (
	DepositPublishFee DepositReason = "PUBLISH_FEE"
	DepositRentStart  DepositReason = "RENT_START"
	DepositRenewal    DepositReason = "RENEWAL"
)

// Payout moves funds out of escrow custody to a counterparty.
type Payout struct {
	ListingID domain.ListingID
	To        domain.Account
	Amount    decimal.Decimal
	Reason    PayoutReason
}

// PayoutReceipt is returned by the ledger once the funds have left custody.
type PayoutReceipt struct {
	TxID       string    // Ledger-specific reference of the transfer
	LedgerType string    // e.g. "MOCK", "LIGHTNING_KEYSEND"
	SettledAt  time.Time // When the ledger confirmed the transfer
}

// Payment is what a caller attaches to publish, rent start and renewal: the
// amount it pays and the ledger reference of the funds it sent.
type Payment struct {
	Amount decimal.Decimal
	Ref    string
}

// DepositRequest asks the ledger for somewhere to send an incoming payment.
// ListingID is zero for publish fees.
type DepositRequest struct {
	ListingID domain.ListingID
	From      domain.Account
	Amount    decimal.Decimal
	Reason    DepositReason
}

// DepositInvoice tells the payer how to pay a DepositRequest. Ref is quoted
// back in the Payment of the transition the funds are for.
type DepositInvoice struct {
	Ref            string
	PaymentRequest string // e.g. a BOLT11 hold invoice
	Amount         decimal.Decimal
	ExpiresAt      time.Time
}

// Deposit identifies funds a transition wants to take into custody.
type Deposit struct {
	ListingID domain.ListingID
	From      domain.Account
	Amount    decimal.Decimal
	Reason    DepositReason
	Ref       string
}

// DepositHold is returned by HoldDeposit. Amount is what the ledger actually
// holds, never the figure the caller claimed.
type DepositHold struct {
	Ref        string
	ListingID  domain.ListingID
	From       domain.Account
	Amount     decimal.Decimal
	Reason     DepositReason
	LedgerType string
	HeldAt     time.Time
}

// DepositReceipt is returned once held funds are in custody.
type DepositReceipt struct {
	TxID       string
	LedgerType string
	SettledAt  time.Time
}

// Ledger is the port the escrow engine moves money through.
//
// Incoming funds are taken in two phases. HoldDeposit verifies, before any
// state is committed, that the funds named by a Deposit are locked for the
// escrow; SettleDeposit takes them into custody as part of the commit and
// ReleaseDeposit hands them back when the transition does not commit.
//
// Pay and SettleDeposit run as the final step of a transition; an error from
// either rolls the transition back unless it wraps
// domain.ErrUncertainSettlement.
type Ledger interface {
	// RequestDeposit issues a payment request for r.Amount bound to r.
	RequestDeposit(ctx context.Context, r DepositRequest) (*DepositInvoice, error)

	// HoldDeposit fails with domain.ErrFundsNotReceived when nothing is held
	// for d.Ref, the reference is spent, or it was issued for another
	// listing, payer or reason. It fails with domain.ErrIncorrectPayment when
	// the held amount differs from d.Amount.
	HoldDeposit(ctx context.Context, d Deposit) (*DepositHold, error)

	SettleDeposit(ctx context.Context, h *DepositHold) (*DepositReceipt, error)
	ReleaseDeposit(ctx context.Context, h *DepositHold) error

	Pay(ctx context.Context, p Payout) (*PayoutReceipt, error)
}
