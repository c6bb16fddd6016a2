// Package policy computes the exact amounts every escrow transition requires
// or pays out. It holds no state beyond the Config it is given.
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

const (
	DefaultLockDuration  = 30 * 24 * time.Hour
	DefaultRenewalPeriod = 30 * 24 * time.Hour
)

var two = decimal.NewFromInt(2)

// Config carries the platform fees and lease durations.
type Config struct {
	PublishFee    decimal.Decimal
	RecoveryFee   decimal.Decimal
	BookingFee    decimal.Decimal
	LockDuration  time.Duration
	RenewalPeriod time.Duration
}

// Default returns the standard fee schedule.
func Default() Config {
	return Config{
		PublishFee:    decimal.NewFromInt(100),
		RecoveryFee:   decimal.NewFromInt(100),
		BookingFee:    decimal.NewFromInt(100),
		LockDuration:  DefaultLockDuration,
		RenewalPeriod: DefaultRenewalPeriod,
	}
}

// Validate rejects negative fees and non-positive durations.
func (c Config) Validate() error {
	for name, fee := range map[string]decimal.Decimal{
		"publish_fee":  c.PublishFee,
		"recovery_fee": c.RecoveryFee,
		"booking_fee":  c.BookingFee,
	} {
		if fee.IsNegative() {
			return fmt.Errorf("policy: %s must not be negative, got %s", name, fee)
		}
	}
	if c.LockDuration <= 0 {
		return fmt.Errorf("policy: lock_duration must be positive, got %s", c.LockDuration)
	}
	if c.RenewalPeriod <= 0 {
		return fmt.Errorf("policy: renewal_period must be positive, got %s", c.RenewalPeriod)
	}
	return nil
}

// RentStartAmount is first month's rent, a deposit of one month's rent,
// the recovery fee and the booking fee.
func (c Config) RentStartAmount(rent decimal.Decimal) decimal.Decimal {
	return rent.Mul(two).Add(c.RecoveryFee).Add(c.BookingFee)
}

// RenewalAmount is exactly one period of rent.
func (c Config) RenewalAmount(rent decimal.Decimal) decimal.Decimal {
	return rent
}

// UnlockPayout is released to the landlord on a valid preimage.
func (c Config) UnlockPayout(rent decimal.Decimal) decimal.Decimal {
	return c.BookingFee.Add(rent)
}

// RefundPayout is returned to the tenant on timeout: deposit, first rent and
// half the recovery fee.
func (c Config) RefundPayout(rent decimal.Decimal) decimal.Decimal {
	return rent.Mul(two).Add(c.RecoveryFee.Div(two))
}

// DepositPayout is returned to the tenant at the end of the lease.
func (c Config) DepositPayout(rent decimal.Decimal) decimal.Decimal {
	return rent
}

// CheckExact fails with domain.ErrIncorrectPayment unless paid equals
// required. Overpayment is rejected like underpayment.
func CheckExact(required, paid decimal.Decimal) error {
	if !paid.Equal(required) {
		return fmt.Errorf("%w: want %s, got %s", domain.ErrIncorrectPayment, required, paid)
	}
	return nil
}
