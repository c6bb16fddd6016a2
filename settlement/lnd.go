package settlement

import (
	"context"
)

// NodeInfo contains basic information about a Lightning Node.
type NodeInfo struct {
	Pubkey  string
	Alias   string
	Network string
	Synced  bool
}

// PaymentResult describes a completed outgoing Lightning payment.
type PaymentResult struct {
	PaymentHash string
	Preimage    string
	FeeSats     int64
	Status      string // SUCCEEDED, FAILED, IN_FLIGHT
	Failure     string
}

// InvoiceUpdate is one state change of a hold invoice.
type InvoiceUpdate struct {
	Hash    string
	State   string // OPEN, SETTLED, CANCELED, ACCEPTED
	Amt     uint64 // invoice value in sats
	AmtPaid uint64 // sats actually locked by the payer's HTLCs
}

// LightningClient defines the slice of the LND API the Lightning ledger needs.
type LightningClient interface {
	GetInfo(ctx context.Context) (*NodeInfo, error)

	// SendKeysend pays amtSats to the node identified by destPubkey (hex)
	// without an invoice and blocks until the payment reaches a final state.
	// Once the payment has been dispatched, errors wrap
	// domain.ErrUncertainSettlement unless the final state could be
	// recovered.
	SendKeysend(ctx context.Context, destPubkey string, amtSats uint64, memo string) (*PaymentResult, error)

	AddHoldInvoice(ctx context.Context, memo string, hash string, val uint64, expirySeconds int64) (string, error)
	SettleInvoice(ctx context.Context, preimage string) error
	CancelInvoice(ctx context.Context, hash string) error
	SubscribeSingleInvoice(ctx context.Context, hash string) (<-chan *InvoiceUpdate, <-chan error, error)
}
