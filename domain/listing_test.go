package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func vacant() Listing {
	return Listing{
		ID:          1,
		Address:     "A",
		Area:        50,
		Rent:        decimal.NewFromInt(1000),
		Landlord:    "landlord",
		Escrow:      decimal.Zero,
		Retained:    decimal.NewFromInt(100),
		PublishedAt: now,
	}
}

func locked() Listing {
	l := vacant()
	l.Tenant = "tenant"
	l.IsRented = true
	l.HashLock = LockFor([]byte("secret"))
	l.TimeLock = now.Add(time.Hour)
	l.NextRentDue = now.Add(time.Hour)
	l.Escrow = decimal.NewFromInt(2200)
	return l
}

func TestListing_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Listing)
		base    func() Listing
		wantErr bool
	}{
		{"vacant", func(*Listing) {}, vacant, false},
		{"locked", func(*Listing) {}, locked, false},
		{"unlocked", func(l *Listing) { l.HashLock, l.TimeLock = HashLock{}, time.Time{} }, locked, false},
		{"zero rent", func(l *Listing) { l.Rent = decimal.Zero }, vacant, true},
		{"no landlord", func(l *Listing) { l.Landlord = NoAccount }, vacant, true},
		{"rented without tenant", func(l *Listing) { l.Tenant = NoAccount }, locked, true},
		{"tenant on vacant listing", func(l *Listing) { l.Tenant = "ghost" }, vacant, true},
		{"hash lock on vacant listing", func(l *Listing) {
			l.HashLock = LockFor([]byte("x"))
			l.TimeLock = now
		}, vacant, true},
		{"time lock without hash lock", func(l *Listing) { l.HashLock = HashLock{} }, locked, true},
		{"rented with nothing active", func(l *Listing) {
			l.HashLock, l.TimeLock, l.NextRentDue = HashLock{}, time.Time{}, time.Time{}
		}, locked, true},
		{"negative escrow", func(l *Listing) { l.Escrow = decimal.NewFromInt(-1) }, locked, true},
		{"escrow on vacant listing", func(l *Listing) { l.Escrow = decimal.NewFromInt(5) }, vacant, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.base()
			tt.mutate(&l)
			err := l.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvariant) {
				t.Errorf("error %v does not wrap ErrInvariant", err)
			}
		})
	}
}

func TestListing_Phase(t *testing.T) {
	v, lk := vacant(), locked()
	un := locked()
	un.HashLock, un.TimeLock = HashLock{}, time.Time{}

	for _, tt := range []struct {
		l    Listing
		want LockPhase
	}{
		{v, LockPhaseVacant},
		{lk, LockPhaseLocked},
		{un, LockPhaseUnlocked},
	} {
		if got := tt.l.Phase(); got != tt.want {
			t.Errorf("Phase() = %s, want %s", got, tt.want)
		}
	}
}

func TestListing_Vacate(t *testing.T) {
	l := locked()
	l.BadReputation = true
	l.Escrow = decimal.NewFromInt(150)

	l.Vacate()

	if err := l.Validate(); err != nil {
		t.Fatalf("vacated listing invalid: %v", err)
	}
	if l.IsRented || l.Tenant != NoAccount || !l.Escrow.IsZero() {
		t.Errorf("Vacate() left tenancy behind: %+v", l)
	}
	if !l.Retained.Equal(decimal.NewFromInt(250)) {
		t.Errorf("Retained = %s, want 250", l.Retained)
	}
	if !l.BadReputation {
		t.Error("Vacate() must not touch reputation")
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Listing)
		wantErr bool
	}{
		{"rent start", func(l *Listing) { *l = locked() }, false},
		{"address changed", func(l *Listing) { l.Address = "B" }, true},
		{"area changed", func(l *Listing) { l.Area = 51 }, true},
		{"rent changed", func(l *Listing) { l.Rent = decimal.NewFromInt(999) }, true},
		{"landlord changed", func(l *Listing) { l.Landlord = "thief" }, true},
		{"published at changed", func(l *Listing) { l.PublishedAt = now.Add(time.Second) }, true},
		{"invalid record", func(l *Listing) { l.Escrow = decimal.NewFromInt(1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := vacant()
			next := prev
			tt.mutate(&next)
			if err := ValidateTransition(&prev, &next); (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("reputation cleared", func(t *testing.T) {
		prev := vacant()
		prev.BadReputation = true
		next := prev
		next.BadReputation = false
		if err := ValidateTransition(&prev, &next); !errors.Is(err, ErrInvariant) {
			t.Errorf("expected ErrInvariant, got %v", err)
		}
	})
}

func TestKind(t *testing.T) {
	tests := []struct {
		err   error
		want  string
		fatal bool
	}{
		{fmt.Errorf("unlock listing 1: %w", ErrInvalidPreimage), "invalid_preimage", false},
		{fmt.Errorf("x: %w", ErrNotFound), "not_found", false},
		{ErrIncorrectPayment, "incorrect_payment", false},
		{ErrInsufficientEscrow, "insufficient_escrow", true},
		{fmt.Errorf("%w: bad", ErrInvariant), "invariant_violated", true},
		{fmt.Errorf("rent start: %w", ErrFundsNotReceived), "funds_not_received", false},
		{fmt.Errorf("keysend: %w", ErrUncertainSettlement), "settlement_uncertain", true},
		{errors.New("boom"), "internal", false},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %s, want %s", tt.err, got, tt.want)
		}
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.fatal)
		}
	}
}
