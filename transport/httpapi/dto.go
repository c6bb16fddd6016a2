package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/escrow"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// Invoice purposes accepted by POST /invoices.
var purposes = map[string]settlement.DepositReason{
	"publish": settlement.DepositPublishFee,
	"rent":    settlement.DepositRentStart,
	"renew":   settlement.DepositRenewal,
}

type invoiceRequest struct {
	Purpose   string           `json:"purpose"`
	ListingID domain.ListingID `json:"listing_id"`
}

type invoiceResponse struct {
	Ref            string          `json:"ref"`
	PaymentRequest string          `json:"payment_request"`
	Amount         decimal.Decimal `json:"amount"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

type publishRequest struct {
	Address    string          `json:"address"`
	Area       uint64          `json:"area"`
	Rent       decimal.Decimal `json:"rent"`
	Fee        decimal.Decimal `json:"fee"`
	PaymentRef string          `json:"payment_ref"`
}

type rentRequest struct {
	HashLock   string          `json:"hash_lock"`
	Payment    decimal.Decimal `json:"payment"`
	PaymentRef string          `json:"payment_ref"`
}

type unlockRequest struct {
	Preimage string `json:"preimage"`
}

type renewRequest struct {
	Payment    decimal.Decimal `json:"payment"`
	PaymentRef string          `json:"payment_ref"`
}

type listingResponse struct {
	ID            domain.ListingID `json:"id"`
	Address       string           `json:"address"`
	Area          uint64           `json:"area"`
	Rent          decimal.Decimal  `json:"rent"`
	Landlord      domain.Account   `json:"landlord"`
	Tenant        domain.Account   `json:"tenant,omitempty"`
	IsRented      bool             `json:"is_rented"`
	Phase         domain.LockPhase `json:"phase"`
	HashLock      string           `json:"hash_lock,omitempty"`
	TimeLock      *time.Time       `json:"time_lock,omitempty"`
	NextRentDue   *time.Time       `json:"next_rent_due,omitempty"`
	BadReputation bool             `json:"bad_reputation"`
	Escrow        decimal.Decimal  `json:"escrow"`
	Retained      decimal.Decimal  `json:"retained"`
	PublishedAt   time.Time        `json:"published_at"`
}

type payoutResponse struct {
	To     domain.Account  `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	TxID   string          `json:"tx_id,omitempty"`
}

type resultResponse struct {
	Listing   listingResponse `json:"listing"`
	Event     domain.Event    `json:"event"`
	Payout    *payoutResponse `json:"payout,omitempty"`
	DepositTx string          `json:"deposit_tx,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newListingResponse(l domain.Listing) listingResponse {
	r := listingResponse{
		ID:            l.ID,
		Address:       l.Address,
		Area:          l.Area,
		Rent:          l.Rent,
		Landlord:      l.Landlord,
		Tenant:        l.Tenant,
		IsRented:      l.IsRented,
		Phase:         l.Phase(),
		TimeLock:      optionalTime(l.TimeLock),
		NextRentDue:   optionalTime(l.NextRentDue),
		BadReputation: l.BadReputation,
		Escrow:        l.Escrow,
		Retained:      l.Retained,
		PublishedAt:   l.PublishedAt,
	}
	if !l.HashLock.IsZero() {
		r.HashLock = l.HashLock.String()
	}
	return r
}

func newResultResponse(res *escrow.Result) resultResponse {
	r := resultResponse{
		Listing: newListingResponse(res.Listing),
		Event:   res.Event,
	}
	if res.Payout != nil {
		r.Payout = &payoutResponse{
			To:     res.Payout.To,
			Amount: res.Payout.Amount,
			Reason: string(res.Payout.Reason),
		}
		if res.Receipt != nil {
			r.Payout.TxID = res.Receipt.TxID
		}
	}
	if res.Deposit != nil {
		r.DepositTx = res.Deposit.TxID
	}
	return r
}
