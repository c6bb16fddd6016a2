package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/policy"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// RenewLease takes one period of rent from the tenant, pays it straight
// through to the landlord and pushes the due date back by one renewal period.
// The schedule is cumulative: paying late does not shift it.
func (e *Engine) RenewLease(ctx context.Context, caller domain.Account, id domain.ListingID, payment settlement.Payment) (*Result, error) {
	res, err := e.apply(ctx, transition{
		op:     "renew lease",
		id:     id,
		caller: caller,
		kind:   domain.EventLeaseRenewed,
		stage: func(l *domain.Listing, _ time.Time) (outcome, error) {
			if !l.IsRented {
				return outcome{}, fmt.Errorf("%w: listing is not rented", domain.ErrInvalidState)
			}
			if caller != l.Tenant {
				return outcome{}, fmt.Errorf("%w: only the tenant can renew", domain.ErrUnauthorized)
			}
			if err := policy.CheckExact(e.policy.RenewalAmount(l.Rent), payment.Amount); err != nil {
				return outcome{}, err
			}

			l.NextRentDue = l.NextRentDue.Add(e.policy.RenewalPeriod)
			return outcome{
				counterparty: l.Landlord,
				deposit: &settlement.Deposit{
					ListingID: l.ID,
					From:      caller,
					Amount:    payment.Amount,
					Reason:    settlement.DepositRenewal,
					Ref:       payment.Ref,
				},
				payout: &settlement.Payout{
					ListingID: l.ID,
					To:        l.Landlord,
					Amount:    payment.Amount,
					Reason:    settlement.ReasonRenewal,
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("🔁 [Escrow] Lease renewed",
		"listing_id", id,
		"tenant", caller,
		"next_rent_due", res.Listing.NextRentDue,
		"tx_id", txID(res.Receipt),
	)
	return res, nil
}

// ReturnDeposit ends a lease whose term has run out: the tenant gets the
// deposit back and the listing becomes vacant again. Only allowed once the
// HTLC phase has been resolved by an unlock.
func (e *Engine) ReturnDeposit(ctx context.Context, caller domain.Account, id domain.ListingID) (*Result, error) {
	res, err := e.apply(ctx, transition{
		op:     "return deposit",
		id:     id,
		caller: caller,
		kind:   domain.EventDepositReturned,
		stage: func(l *domain.Listing, now time.Time) (outcome, error) {
			if caller != l.Landlord {
				return outcome{}, fmt.Errorf("%w: only the landlord can return the deposit", domain.ErrUnauthorized)
			}
			if !l.IsRented {
				return outcome{}, fmt.Errorf("%w: listing is not rented", domain.ErrInvalidState)
			}
			if !l.HashLock.IsZero() {
				return outcome{}, fmt.Errorf("%w: lock still pending unlock or refund", domain.ErrInvalidState)
			}
			if now.Before(l.NextRentDue) {
				return outcome{}, fmt.Errorf("%w: lease runs until %s", domain.ErrTimeNotReached, l.NextRentDue.Format(time.RFC3339))
			}

			amount := e.policy.DepositPayout(l.Rent)
			if l.Escrow.LessThan(amount) {
				return outcome{}, fmt.Errorf("%w: need %s, hold %s", domain.ErrInsufficientEscrow, amount, l.Escrow)
			}

			tenant := l.Tenant
			l.Escrow = l.Escrow.Sub(amount)
			l.Vacate()
			return outcome{counterparty: tenant, payout: &settlement.Payout{
				ListingID: l.ID,
				To:        tenant,
				Amount:    amount,
				Reason:    settlement.ReasonDepositReturn,
			}}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("🏁 [Escrow] Deposit returned, listing vacant",
		"listing_id", id,
		"tenant", res.Payout.To,
		"amount", res.Payout.Amount.String(),
		"tx_id", txID(res.Receipt),
	)
	return res, nil
}
