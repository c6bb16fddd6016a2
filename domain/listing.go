package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ListingID identifies a listing. IDs start at 1 and are never reused.
type ListingID uint64

// Account is the identity of a landlord, tenant or caller as supplied by the
// runtime. The empty Account means "none".
type Account string

// NoAccount is the cleared tenant slot.
const NoAccount Account = ""

// Listing is the full record of one property: the attributes fixed at publish
// and the rental/escrow state that transitions mutate.
type Listing struct {
	ID       ListingID
	Address  string
	Area     uint64
	Rent     decimal.Decimal
	Landlord Account

	Tenant        Account
	IsRented      bool
	HashLock      HashLock
	TimeLock      time.Time
	NextRentDue   time.Time
	BadReputation bool

	Escrow      decimal.Decimal // held in custody for the active tenancy
	Retained    decimal.Decimal // forfeited to the system over the listing's life
	PublishedAt time.Time
}

// Phase derives the HTLC phase from the record.
func (l *Listing) Phase() LockPhase {
	switch {
	case !l.IsRented:
		return LockPhaseVacant
	case !l.HashLock.IsZero():
		return LockPhaseLocked
	default:
		return LockPhaseUnlocked
	}
}

// Vacate clears the tenancy and sweeps whatever is left in escrow into
// Retained. BadReputation is left as is.
func (l *Listing) Vacate() {
	l.Retained = l.Retained.Add(l.Escrow)
	l.Escrow = decimal.Zero
	l.Tenant = NoAccount
	l.IsRented = false
	l.HashLock = HashLock{}
	l.TimeLock = time.Time{}
	l.NextRentDue = time.Time{}
}

// Validate checks the invariants every stored record must satisfy.
func (l *Listing) Validate() error {
	if !l.Rent.IsPositive() {
		return fmt.Errorf("%w: listing %d rent %s is not positive", ErrInvariant, l.ID, l.Rent)
	}
	if l.Landlord == NoAccount {
		return fmt.Errorf("%w: listing %d has no landlord", ErrInvariant, l.ID)
	}
	active := !l.HashLock.IsZero() || !l.NextRentDue.IsZero()
	hasTenant := l.Tenant != NoAccount
	if l.IsRented != hasTenant || l.IsRented != active {
		return fmt.Errorf("%w: listing %d rented=%t tenant=%t active=%t",
			ErrInvariant, l.ID, l.IsRented, hasTenant, active)
	}
	if l.HashLock.IsZero() != l.TimeLock.IsZero() {
		return fmt.Errorf("%w: listing %d hash lock and time lock disagree", ErrInvariant, l.ID)
	}
	if l.Escrow.IsNegative() || l.Retained.IsNegative() {
		return fmt.Errorf("%w: listing %d negative balance", ErrInvariant, l.ID)
	}
	if !l.IsRented && !l.Escrow.IsZero() {
		return fmt.Errorf("%w: listing %d is vacant but holds %s in escrow", ErrInvariant, l.ID, l.Escrow)
	}
	return nil
}

// ValidateTransition checks a staged record against the stored one: the
// publish-time attributes never change and a bad reputation is never cleared.
func ValidateTransition(prev, next *Listing) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if prev.ID != next.ID || prev.Address != next.Address || prev.Area != next.Area ||
		!prev.Rent.Equal(next.Rent) || prev.Landlord != next.Landlord || !prev.PublishedAt.Equal(next.PublishedAt) {
		return fmt.Errorf("%w: listing %d immutable attributes changed", ErrInvariant, prev.ID)
	}
	if prev.BadReputation && !next.BadReputation {
		return fmt.Errorf("%w: listing %d bad reputation cleared", ErrInvariant, prev.ID)
	}
	return nil
}
