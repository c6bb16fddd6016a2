package escrow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// RequestDeposit issues a payment request for the amount the next
// transition of kind reason will require from caller. id is ignored for
// publish fees. The listing is checked here only to spare the payer an
// invoice that cannot be used; the transition checks everything again.
func (e *Engine) RequestDeposit(ctx context.Context, caller domain.Account, id domain.ListingID, reason settlement.DepositReason) (*settlement.DepositInvoice, error) {
	if caller == domain.NoAccount {
		return nil, e.fail("request deposit", id, fmt.Errorf("%w: caller identity required", domain.ErrUnauthorized))
	}

	var amount decimal.Decimal
	switch reason {
	case settlement.DepositPublishFee:
		id = 0
		amount = e.policy.PublishFee
	case settlement.DepositRentStart, settlement.DepositRenewal:
		l, err := e.registry.Get(ctx, id)
		if err != nil {
			return nil, e.fail("request deposit", id, err)
		}
		if amount, err = e.quote(l, caller, reason); err != nil {
			return nil, e.fail("request deposit", id, err)
		}
	default:
		return nil, e.fail("request deposit", id, fmt.Errorf("%w: unknown deposit reason %q", domain.ErrInvalidInput, reason))
	}

	inv, err := e.ledger.RequestDeposit(ctx, settlement.DepositRequest{
		ListingID: id,
		From:      caller,
		Amount:    amount,
		Reason:    reason,
	})
	if err != nil {
		return nil, e.fail("request deposit", id, fmt.Errorf("issue %s invoice: %w", reason, err))
	}

	e.logger.Info("🧾 [Escrow] Deposit requested",
		"listing_id", id,
		"from", caller,
		"reason", reason,
		"amount", amount.String(),
		"ref", inv.Ref,
	)
	return inv, nil
}

func (e *Engine) quote(l domain.Listing, caller domain.Account, reason settlement.DepositReason) (decimal.Decimal, error) {
	if reason == settlement.DepositRenewal {
		if !l.IsRented {
			return decimal.Zero, fmt.Errorf("%w: listing is not rented", domain.ErrInvalidState)
		}
		if caller != l.Tenant {
			return decimal.Zero, fmt.Errorf("%w: only the tenant can renew", domain.ErrUnauthorized)
		}
		return e.policy.RenewalAmount(l.Rent), nil
	}

	if l.BadReputation {
		return decimal.Zero, fmt.Errorf("%w: listing has a bad reputation", domain.ErrInvalidState)
	}
	if l.IsRented {
		return decimal.Zero, fmt.Errorf("%w: listing is already rented", domain.ErrInvalidState)
	}
	return e.policy.RentStartAmount(l.Rent), nil
}
