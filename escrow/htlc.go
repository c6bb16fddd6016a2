package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/policy"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// RentStart locks the tenant's payment in escrow behind hashLock. The
// payment must be held by the ledger under payment.Ref; escrow is credited
// with what the ledger holds. The landlord can claim the first rent with the
// preimage until someone refunds the lock after its deadline.
func (e *Engine) RentStart(ctx context.Context, caller domain.Account, id domain.ListingID, hashLock domain.HashLock, payment settlement.Payment) (*Result, error) {
	res, err := e.apply(ctx, transition{
		op:     "rent start",
		id:     id,
		caller: caller,
		kind:   domain.EventRentStarted,
		stage: func(l *domain.Listing, now time.Time) (outcome, error) {
			if caller == domain.NoAccount {
				return outcome{}, fmt.Errorf("%w: caller identity required", domain.ErrUnauthorized)
			}
			if l.BadReputation {
				return outcome{}, fmt.Errorf("%w: listing has a bad reputation", domain.ErrInvalidState)
			}
			if l.IsRented {
				return outcome{}, fmt.Errorf("%w: listing is already rented", domain.ErrInvalidState)
			}
			if hashLock.IsZero() {
				return outcome{}, fmt.Errorf("%w: hash lock must not be zero", domain.ErrInvalidInput)
			}
			if err := policy.CheckExact(e.policy.RentStartAmount(l.Rent), payment.Amount); err != nil {
				return outcome{}, err
			}

			l.Tenant = caller
			l.IsRented = true
			l.HashLock = hashLock
			l.TimeLock = now.Add(e.policy.LockDuration)
			l.NextRentDue = now.Add(e.policy.RenewalPeriod)
			return outcome{
				counterparty: l.Landlord,
				toEscrow:     true,
				deposit: &settlement.Deposit{
					ListingID: l.ID,
					From:      caller,
					Amount:    payment.Amount,
					Reason:    settlement.DepositRentStart,
					Ref:       payment.Ref,
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("🔒 [Escrow] Rent started, funds locked",
		"listing_id", id,
		"tenant", caller,
		"hash_lock", hashLock.String(),
		"time_lock", res.Listing.TimeLock,
		"escrow", res.Listing.Escrow.String(),
		"deposit_tx", res.Deposit.TxID,
	)
	return res, nil
}

// Unlock releases the booking fee and first rent to the landlord once they
// reveal the secret behind the hash lock. The tenancy stays active.
func (e *Engine) Unlock(ctx context.Context, caller domain.Account, id domain.ListingID, preimage []byte) (*Result, error) {
	res, err := e.apply(ctx, transition{
		op:     "unlock",
		id:     id,
		caller: caller,
		kind:   domain.EventUnlocked,
		stage: func(l *domain.Listing, _ time.Time) (outcome, error) {
			if caller != l.Landlord {
				return outcome{}, fmt.Errorf("%w: only the landlord can unlock", domain.ErrUnauthorized)
			}
			if !l.IsRented || l.HashLock.IsZero() {
				return outcome{}, fmt.Errorf("%w: no active lock", domain.ErrInvalidState)
			}
			if !l.HashLock.Opens(preimage) {
				return outcome{}, domain.ErrInvalidPreimage
			}

			amount := e.policy.UnlockPayout(l.Rent)
			if l.Escrow.LessThan(amount) {
				return outcome{}, fmt.Errorf("%w: need %s, hold %s", domain.ErrInsufficientEscrow, amount, l.Escrow)
			}

			l.Escrow = l.Escrow.Sub(amount)
			l.HashLock = domain.HashLock{}
			l.TimeLock = time.Time{}
			return outcome{counterparty: l.Tenant, payout: &settlement.Payout{
				ListingID: l.ID,
				To:        l.Landlord,
				Amount:    amount,
				Reason:    settlement.ReasonUnlock,
			}}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("🔓 [Escrow] Lock opened, landlord paid",
		"listing_id", id,
		"landlord", caller,
		"amount", res.Payout.Amount.String(),
		"tx_id", txID(res.Receipt),
	)
	return res, nil
}

// RefundTimeout returns the tenant's funds, less half the recovery fee, once
// the lock deadline has passed without an unlock. Anyone may call it. The
// listing is vacated and flagged so it can never be rented again.
func (e *Engine) RefundTimeout(ctx context.Context, caller domain.Account, id domain.ListingID) (*Result, error) {
	res, err := e.apply(ctx, transition{
		op:     "refund timeout",
		id:     id,
		caller: caller,
		kind:   domain.EventRefunded,
		stage: func(l *domain.Listing, now time.Time) (outcome, error) {
			if !l.IsRented || l.HashLock.IsZero() {
				return outcome{}, fmt.Errorf("%w: no active lock", domain.ErrInvalidState)
			}
			if now.Before(l.TimeLock) {
				return outcome{}, fmt.Errorf("%w: lock expires at %s", domain.ErrTimeNotReached, l.TimeLock.Format(time.RFC3339))
			}

			amount := e.policy.RefundPayout(l.Rent)
			if l.Escrow.LessThan(amount) {
				return outcome{}, fmt.Errorf("%w: need %s, hold %s", domain.ErrInsufficientEscrow, amount, l.Escrow)
			}

			tenant := l.Tenant
			l.Escrow = l.Escrow.Sub(amount)
			l.Vacate()
			l.BadReputation = true
			return outcome{counterparty: tenant, payout: &settlement.Payout{
				ListingID: l.ID,
				To:        tenant,
				Amount:    amount,
				Reason:    settlement.ReasonRefund,
			}}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	e.logger.Warn("⏰ [Escrow] Lock timed out, tenant refunded, listing flagged",
		"listing_id", id,
		"tenant", res.Payout.To,
		"amount", res.Payout.Amount.String(),
		"tx_id", txID(res.Receipt),
	)
	return res, nil
}

func txID(r *settlement.PayoutReceipt) string {
	if r == nil {
		return ""
	}
	return r.TxID
}
