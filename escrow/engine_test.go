package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/adapters/mock"
	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/policy"
	"github.com/ThorbenD/htlc-rental-escrow/registry"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

const (
	landlord domain.Account = "landlord"
	tenant   domain.Account = "tenant"
	stranger domain.Account = "stranger"

	day = 24 * time.Hour
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	secret = []byte("keys handed over at the door")
)

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	engine *Engine
	reg    *registry.Registry
	ledger *mock.MockLedger
	clock  *mock.MockClock
	events *mock.MockNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := mock.NewMockClock(t0)
	ledger := mock.NewMockLedger()
	events := mock.NewMockNotifier()
	reg := registry.New(registry.NewMemoryStore(), policy.Default(), clock, logger)
	return &harness{
		engine: NewEngine(reg, ledger, clock, events, logger),
		reg:    reg,
		ledger: ledger,
		clock:  clock,
		events: events,
	}
}

// pay funds a deposit invoice for amount and returns the payment to attach.
func (h *harness) pay(from domain.Account, id domain.ListingID, reason settlement.DepositReason, amount string) settlement.Payment {
	return h.ledger.Prepay(settlement.DepositRequest{ListingID: id, From: from, Amount: amt(amount), Reason: reason})
}

func (h *harness) fee() settlement.Payment {
	return h.pay(landlord, 0, settlement.DepositPublishFee, "100")
}

func (h *harness) rentFrom(from domain.Account, id domain.ListingID) settlement.Payment {
	return h.pay(from, id, settlement.DepositRentStart, "2200")
}

func (h *harness) rentPeriod(id domain.ListingID) settlement.Payment {
	return h.pay(tenant, id, settlement.DepositRenewal, "1000")
}

// publish lists address "A", area 50, rent 1000 with the 100 publish fee.
func (h *harness) publish(t *testing.T) domain.ListingID {
	t.Helper()
	res, err := h.engine.Publish(context.Background(), landlord, registry.PublishRequest{
		Address: "A",
		Area:    50,
		Rent:    amt("1000"),
	}, h.fee())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return res.Listing.ID
}

func (h *harness) rent(t *testing.T, id domain.ListingID) {
	t.Helper()
	if _, err := h.engine.RentStart(context.Background(), tenant, id, domain.LockFor(secret), h.rentFrom(tenant, id)); err != nil {
		t.Fatalf("RentStart() error = %v", err)
	}
}

func (h *harness) unlock(t *testing.T, id domain.ListingID) {
	t.Helper()
	if _, err := h.engine.Unlock(context.Background(), landlord, id, secret); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
}

func (h *harness) get(t *testing.T, id domain.ListingID) domain.Listing {
	t.Helper()
	l, err := h.engine.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return l
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func expectBalance(t *testing.T, h *harness, a domain.Account, want string) {
	t.Helper()
	if got := h.ledger.Balance(a); !got.Equal(amt(want)) {
		t.Errorf("balance of %s = %s, want %s", a, got, want)
	}
}

func expectVacant(t *testing.T, l domain.Listing) {
	t.Helper()
	if l.IsRented || l.Tenant != domain.NoAccount || !l.HashLock.IsZero() ||
		!l.TimeLock.IsZero() || !l.NextRentDue.IsZero() || !l.Escrow.IsZero() {
		t.Errorf("expected vacant listing, got %+v", l)
	}
}

func TestPublish(t *testing.T) {
	h := newHarness(t)
	id := h.publish(t)

	if id != 1 {
		t.Errorf("first listing id = %d, want 1", id)
	}
	l := h.get(t, id)
	expectVacant(t, l)
	if l.Landlord != landlord || l.Address != "A" || l.Area != 50 || !l.Rent.Equal(amt("1000")) {
		t.Errorf("unexpected attributes: %+v", l)
	}
	if l.BadReputation {
		t.Error("new listing must not have a bad reputation")
	}
	if !l.PublishedAt.Equal(t0) {
		t.Errorf("PublishedAt = %s, want %s", l.PublishedAt, t0)
	}

	if second := h.publish(t); second != 2 {
		t.Errorf("second listing id = %d, want 2", second)
	}

	evs := h.events.Events()
	if len(evs) != 2 || evs[0].Kind != domain.EventPublished || evs[0].Attributes["address"] != "A" {
		t.Errorf("unexpected events: %+v", evs)
	}
}

func TestPublish_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.Account
		rent   string
		fee    string
		want   error
	}{
		{"fee too low", landlord, "1000", "99", domain.ErrIncorrectPayment},
		{"fee too high", landlord, "1000", "101", domain.ErrIncorrectPayment},
		{"zero rent", landlord, "0", "100", domain.ErrInvalidInput},
		{"negative rent", landlord, "-5", "100", domain.ErrInvalidInput},
		{"no caller", domain.NoAccount, "1000", "100", domain.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			payment := h.pay(landlord, 0, settlement.DepositPublishFee, tt.fee)
			_, err := h.engine.Publish(context.Background(), tt.caller, registry.PublishRequest{
				Address: "A", Area: 50, Rent: amt(tt.rent),
			}, payment)
			expectErr(t, err, tt.want)
			if state := h.ledger.DepositState(payment.Ref); state != mock.DepositFunded {
				t.Errorf("fee of a rejected publish is %s", state)
			}

			if _, err := h.engine.Get(context.Background(), 1); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("rejected publish must not store a listing, got %v", err)
			}
		})
	}
}

func TestGet_UnknownID(t *testing.T) {
	h := newHarness(t)
	h.publish(t)

	for _, id := range []domain.ListingID{0, 2, 99} {
		if _, err := h.engine.Get(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get(%d) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestTransitions_UnknownID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RentStart(ctx, tenant, 7, domain.LockFor(secret), h.rentFrom(tenant, 7))
	expectErr(t, err, domain.ErrNotFound)
	_, err = h.engine.Unlock(ctx, landlord, 7, secret)
	expectErr(t, err, domain.ErrNotFound)
	_, err = h.engine.RefundTimeout(ctx, stranger, 7)
	expectErr(t, err, domain.ErrNotFound)
	_, err = h.engine.RenewLease(ctx, tenant, 7, h.rentPeriod(7))
	expectErr(t, err, domain.ErrNotFound)
	_, err = h.engine.ReturnDeposit(ctx, landlord, 7)
	expectErr(t, err, domain.ErrNotFound)
}

// Scenario: rent start, unlock by landlord, then refund is rejected.
func TestScenario_UnlockThenRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)

	res, err := h.engine.RentStart(ctx, tenant, id, domain.LockFor(secret), h.rentFrom(tenant, id))
	if err != nil {
		t.Fatalf("RentStart() error = %v", err)
	}
	if res.Deposit == nil || res.Deposit.TxID == "" {
		t.Error("expected a deposit receipt")
	}
	l := res.Listing
	if !l.IsRented || l.Tenant != tenant || l.HashLock != domain.LockFor(secret) {
		t.Fatalf("unexpected listing after rent start: %+v", l)
	}
	if !l.TimeLock.Equal(t0.Add(30*day)) || !l.NextRentDue.Equal(t0.Add(30*day)) {
		t.Errorf("TimeLock = %s, NextRentDue = %s, want both %s", l.TimeLock, l.NextRentDue, t0.Add(30*day))
	}
	if !l.Escrow.Equal(amt("2200")) {
		t.Errorf("Escrow = %s, want 2200", l.Escrow)
	}
	if len(h.ledger.Payouts()) != 0 {
		t.Error("rent start must not pay anyone")
	}

	res, err = h.engine.Unlock(ctx, landlord, id, secret)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	expectBalance(t, h, landlord, "1100")
	l = res.Listing
	if !l.HashLock.IsZero() || !l.TimeLock.IsZero() {
		t.Errorf("locks not cleared: %+v", l)
	}
	if !l.IsRented || !l.NextRentDue.Equal(t0.Add(30*day)) {
		t.Errorf("unlock must keep the tenancy: %+v", l)
	}
	if res.Receipt == nil || res.Receipt.TxID == "" {
		t.Error("expected a payout receipt")
	}

	_, err = h.engine.RefundTimeout(ctx, tenant, id)
	expectErr(t, err, domain.ErrInvalidState)

	h.clock.Advance(31 * day)
	_, err = h.engine.RefundTimeout(ctx, tenant, id)
	expectErr(t, err, domain.ErrInvalidState)
	expectBalance(t, h, tenant, "0")
}

// Scenario: landlord never unlocks; refund after the deadline flags the listing.
func TestScenario_TimeoutRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)
	h.rent(t, id)

	h.clock.Advance(30 * day)
	res, err := h.engine.RefundTimeout(ctx, stranger, id)
	if err != nil {
		t.Fatalf("RefundTimeout() error = %v", err)
	}
	expectBalance(t, h, tenant, "2050")
	expectBalance(t, h, landlord, "0")

	l := res.Listing
	expectVacant(t, l)
	if !l.BadReputation {
		t.Error("refund must set bad reputation")
	}
	// publish fee plus the remainder of escrow: half the recovery fee and the booking fee.
	if !l.Retained.Equal(amt("250")) {
		t.Errorf("Retained = %s, want 250", l.Retained)
	}

	_, err = h.engine.RentStart(ctx, tenant, id, domain.LockFor(secret), h.rentFrom(tenant, id))
	expectErr(t, err, domain.ErrInvalidState)
}

// Scenario: after unlock the tenant renews once, then the deposit comes back.
func TestScenario_RenewAndReturnDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)
	h.rent(t, id)
	h.unlock(t, id)

	res, err := h.engine.RenewLease(ctx, tenant, id, h.rentPeriod(id))
	if err != nil {
		t.Fatalf("RenewLease() error = %v", err)
	}
	expectBalance(t, h, landlord, "2100")
	if !res.Listing.NextRentDue.Equal(t0.Add(60 * day)) {
		t.Errorf("NextRentDue = %s, want %s", res.Listing.NextRentDue, t0.Add(60*day))
	}

	h.clock.Advance(59 * day)
	_, err = h.engine.ReturnDeposit(ctx, landlord, id)
	expectErr(t, err, domain.ErrTimeNotReached)

	h.clock.Advance(day)
	res, err = h.engine.ReturnDeposit(ctx, landlord, id)
	if err != nil {
		t.Fatalf("ReturnDeposit() error = %v", err)
	}
	expectBalance(t, h, tenant, "1000")
	expectVacant(t, res.Listing)
	if res.Listing.BadReputation {
		t.Error("deposit return must not set bad reputation")
	}
	// publish fee plus the recovery fee left in escrow.
	if !res.Listing.Retained.Equal(amt("200")) {
		t.Errorf("Retained = %s, want 200", res.Listing.Retained)
	}

	// The listing can be rented again.
	h.rent(t, id)
}

func TestRentStart_ExactPayment(t *testing.T) {
	for _, paid := range []string{"0", "1000", "2100", "2199", "2199.99", "2200.01", "2201", "4400"} {
		t.Run(paid, func(t *testing.T) {
			h := newHarness(t)
			id := h.publish(t)

			payment := h.pay(tenant, id, settlement.DepositRentStart, paid)
			_, err := h.engine.RentStart(context.Background(), tenant, id, domain.LockFor(secret), payment)
			expectErr(t, err, domain.ErrIncorrectPayment)
			expectVacant(t, h.get(t, id))
			if state := h.ledger.DepositState(payment.Ref); state != mock.DepositFunded {
				t.Errorf("mispriced payment is %s, want it left with the payer", state)
			}
		})
	}
}

func TestRentStart_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("already rented", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)

		_, err := h.engine.RentStart(ctx, stranger, id, domain.LockFor([]byte("other")), h.rentFrom(stranger, id))
		expectErr(t, err, domain.ErrInvalidState)
		if got := h.get(t, id); got.Tenant != tenant {
			t.Errorf("tenant replaced by %s", got.Tenant)
		}
	})

	t.Run("already rented after unlock", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.unlock(t, id)

		_, err := h.engine.RentStart(ctx, stranger, id, domain.LockFor(secret), h.rentFrom(stranger, id))
		expectErr(t, err, domain.ErrInvalidState)
	})

	t.Run("zero hash lock", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)

		_, err := h.engine.RentStart(ctx, tenant, id, domain.HashLock{}, h.rentFrom(tenant, id))
		expectErr(t, err, domain.ErrInvalidInput)
	})

	t.Run("no caller identity", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)

		_, err := h.engine.RentStart(ctx, domain.NoAccount, id, domain.LockFor(secret), settlement.Payment{Amount: amt("2200")})
		expectErr(t, err, domain.ErrUnauthorized)
	})

	t.Run("landlord may rent own listing", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)

		if _, err := h.engine.RentStart(ctx, landlord, id, domain.LockFor(secret), h.rentFrom(landlord, id)); err != nil {
			t.Fatalf("RentStart() error = %v", err)
		}
	})
}

func TestUnlock_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong preimage", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)

		_, err := h.engine.Unlock(ctx, landlord, id, []byte("guess"))
		expectErr(t, err, domain.ErrInvalidPreimage)
		if h.get(t, id).HashLock.IsZero() {
			t.Error("failed unlock cleared the lock")
		}
		expectBalance(t, h, landlord, "0")
	})

	t.Run("not the landlord", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)

		for _, caller := range []domain.Account{tenant, stranger, domain.NoAccount} {
			_, err := h.engine.Unlock(ctx, caller, id, secret)
			expectErr(t, err, domain.ErrUnauthorized)
		}
	})

	t.Run("vacant listing", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)

		_, err := h.engine.Unlock(ctx, landlord, id, secret)
		expectErr(t, err, domain.ErrInvalidState)
	})

	t.Run("second unlock", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.unlock(t, id)

		_, err := h.engine.Unlock(ctx, landlord, id, secret)
		expectErr(t, err, domain.ErrInvalidState)
		expectBalance(t, h, landlord, "1100")
	})
}

func TestUnlock_AfterDeadlineBeforeRefund(t *testing.T) {
	h := newHarness(t)
	id := h.publish(t)
	h.rent(t, id)

	h.clock.Advance(45 * day)
	h.unlock(t, id)

	_, err := h.engine.RefundTimeout(context.Background(), tenant, id)
	expectErr(t, err, domain.ErrInvalidState)
}

func TestRefundTimeout_Deadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)
	h.rent(t, id)

	h.clock.Advance(30*day - time.Second)
	_, err := h.engine.RefundTimeout(ctx, tenant, id)
	expectErr(t, err, domain.ErrTimeNotReached)

	h.clock.Advance(time.Second)
	if _, err := h.engine.RefundTimeout(ctx, tenant, id); err != nil {
		t.Fatalf("RefundTimeout() at deadline error = %v", err)
	}

	_, err = h.engine.RefundTimeout(ctx, tenant, id)
	expectErr(t, err, domain.ErrInvalidState)
}

func TestMutualExclusivity(t *testing.T) {
	ctx := context.Background()

	t.Run("unlock first", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.clock.Advance(30 * day)

		h.unlock(t, id)
		_, err := h.engine.RefundTimeout(ctx, stranger, id)
		expectErr(t, err, domain.ErrInvalidState)
	})

	t.Run("refund first", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.clock.Advance(30 * day)

		if _, err := h.engine.RefundTimeout(ctx, stranger, id); err != nil {
			t.Fatalf("RefundTimeout() error = %v", err)
		}
		_, err := h.engine.Unlock(ctx, landlord, id, secret)
		expectErr(t, err, domain.ErrInvalidState)
		expectBalance(t, h, landlord, "0")
	})
}

func TestReputationMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)
	h.rent(t, id)
	h.clock.Advance(30 * day)
	if _, err := h.engine.RefundTimeout(ctx, tenant, id); err != nil {
		t.Fatalf("RefundTimeout() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		h.clock.Advance(365 * day)
		_, err := h.engine.RentStart(ctx, stranger, id, domain.LockFor(secret), h.rentFrom(stranger, id))
		expectErr(t, err, domain.ErrInvalidState)
		if !h.get(t, id).BadReputation {
			t.Fatal("bad reputation was cleared")
		}
	}

	// Other listings are unaffected.
	other := h.publish(t)
	h.rent(t, other)
}

func TestRenewLease_CumulativeSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)
	h.rent(t, id)
	h.unlock(t, id)

	// Renew late, then early; the schedule only depends on the prior due date.
	h.clock.Advance(45 * day)
	res, err := h.engine.RenewLease(ctx, tenant, id, h.rentPeriod(id))
	if err != nil {
		t.Fatalf("RenewLease() error = %v", err)
	}
	if !res.Listing.NextRentDue.Equal(t0.Add(60 * day)) {
		t.Errorf("NextRentDue = %s, want %s", res.Listing.NextRentDue, t0.Add(60*day))
	}

	res, err = h.engine.RenewLease(ctx, tenant, id, h.rentPeriod(id))
	if err != nil {
		t.Fatalf("RenewLease() error = %v", err)
	}
	if !res.Listing.NextRentDue.Equal(t0.Add(90 * day)) {
		t.Errorf("NextRentDue = %s, want %s", res.Listing.NextRentDue, t0.Add(90*day))
	}
	expectBalance(t, h, landlord, "3100")
	if !res.Listing.Escrow.Equal(amt("1100")) {
		t.Errorf("renewals must not touch escrow, got %s", res.Listing.Escrow)
	}
}

func TestRenewLease_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("vacant", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)

		_, err := h.engine.RenewLease(ctx, tenant, id, h.rentPeriod(id))
		expectErr(t, err, domain.ErrInvalidState)
	})

	t.Run("not the tenant", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)

		for _, caller := range []domain.Account{landlord, stranger} {
			_, err := h.engine.RenewLease(ctx, caller, id, h.pay(caller, id, settlement.DepositRenewal, "1000"))
			expectErr(t, err, domain.ErrUnauthorized)
		}
	})

	t.Run("wrong payment", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		due := h.get(t, id).NextRentDue

		for _, paid := range []string{"999", "1001", "2200", "0"} {
			_, err := h.engine.RenewLease(ctx, tenant, id, h.pay(tenant, id, settlement.DepositRenewal, paid))
			expectErr(t, err, domain.ErrIncorrectPayment)
		}
		if !h.get(t, id).NextRentDue.Equal(due) {
			t.Error("failed renewal moved the due date")
		}
	})
}

func TestReturnDeposit_Gating(t *testing.T) {
	ctx := context.Background()

	t.Run("before due date", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.unlock(t, id)

		h.clock.Advance(30*day - time.Nanosecond)
		_, err := h.engine.ReturnDeposit(ctx, landlord, id)
		expectErr(t, err, domain.ErrTimeNotReached)
		if !h.get(t, id).IsRented {
			t.Error("listing vacated early")
		}
	})

	t.Run("at due date", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.unlock(t, id)

		h.clock.Advance(30 * day)
		res, err := h.engine.ReturnDeposit(ctx, landlord, id)
		if err != nil {
			t.Fatalf("ReturnDeposit() error = %v", err)
		}
		expectVacant(t, res.Listing)
		expectBalance(t, h, tenant, "1000")
	})

	t.Run("lock still pending", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)

		h.clock.Advance(30 * day)
		_, err := h.engine.ReturnDeposit(ctx, landlord, id)
		expectErr(t, err, domain.ErrInvalidState)
	})

	t.Run("not the landlord", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.unlock(t, id)
		h.clock.Advance(30 * day)

		_, err := h.engine.ReturnDeposit(ctx, tenant, id)
		expectErr(t, err, domain.ErrUnauthorized)
	})

	t.Run("vacant", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)

		_, err := h.engine.ReturnDeposit(ctx, landlord, id)
		expectErr(t, err, domain.ErrInvalidState)
	})
}

func TestPayoutFailure_RollsBack(t *testing.T) {
	ctx := context.Background()
	errLedgerDown := errors.New("ledger unavailable")

	t.Run("unlock", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		before := h.get(t, id)

		h.ledger.FailNext(errLedgerDown)
		_, err := h.engine.Unlock(ctx, landlord, id, secret)
		expectErr(t, err, errLedgerDown)

		after := h.get(t, id)
		if after.HashLock != before.HashLock || !after.Escrow.Equal(before.Escrow) || !after.TimeLock.Equal(before.TimeLock) {
			t.Errorf("failed payout changed the listing: before %+v, after %+v", before, after)
		}
		h.unlock(t, id)
		expectBalance(t, h, landlord, "1100")
	})

	t.Run("refund", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		h.clock.Advance(30 * day)

		h.ledger.FailNext(errLedgerDown)
		_, err := h.engine.RefundTimeout(ctx, stranger, id)
		expectErr(t, err, errLedgerDown)

		l := h.get(t, id)
		if l.BadReputation || !l.IsRented || l.Tenant != tenant {
			t.Errorf("failed refund changed the listing: %+v", l)
		}
	})

	t.Run("renewal", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)
		due := h.get(t, id).NextRentDue

		payment := h.rentPeriod(id)
		h.ledger.FailNext(errLedgerDown)
		_, err := h.engine.RenewLease(ctx, tenant, id, payment)
		expectErr(t, err, errLedgerDown)
		if !h.get(t, id).NextRentDue.Equal(due) {
			t.Error("failed renewal moved the due date")
		}
		if state := h.ledger.DepositState(payment.Ref); state != mock.DepositReleased {
			t.Errorf("renewal payment is %s, want it released to the tenant", state)
		}
	})

	t.Run("no event on failure", func(t *testing.T) {
		h := newHarness(t)
		id := h.publish(t)
		h.rent(t, id)

		h.ledger.FailNext(errLedgerDown)
		_, _ = h.engine.Unlock(ctx, landlord, id, secret)
		kinds := h.events.Kinds()
		if kinds[len(kinds)-1] != domain.EventRentStarted {
			t.Errorf("unexpected event after failed unlock: %v", kinds)
		}
	})
}

func TestInsufficientEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)
	h.rent(t, id)

	// Simulate an accounting fault by draining the escrow behind the engine's back.
	_, err := h.reg.Apply(ctx, id, func(l *domain.Listing) (registry.Effect, error) {
		l.Escrow = amt("1000")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	_, err = h.engine.Unlock(ctx, landlord, id, secret)
	expectErr(t, err, domain.ErrInsufficientEscrow)
	if !domain.IsFatal(err) {
		t.Error("insufficient escrow must be fatal")
	}

	h.clock.Advance(30 * day)
	_, err = h.engine.RefundTimeout(ctx, tenant, id)
	expectErr(t, err, domain.ErrInsufficientEscrow)
	if len(h.ledger.Payouts()) != 0 {
		t.Error("no payout may happen on insufficient escrow")
	}
}

func TestEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.publish(t)
	h.rent(t, id)
	h.unlock(t, id)
	if _, err := h.engine.RenewLease(ctx, tenant, id, h.rentPeriod(id)); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(60 * day)
	if _, err := h.engine.ReturnDeposit(ctx, landlord, id); err != nil {
		t.Fatal(err)
	}

	want := []domain.EventKind{
		domain.EventPublished,
		domain.EventRentStarted,
		domain.EventUnlocked,
		domain.EventLeaseRenewed,
		domain.EventDepositReturned,
	}
	got := h.events.Kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	evs := h.events.Events()
	if !evs[1].Amount.Equal(amt("2200")) || evs[1].Actor != tenant || evs[1].Counterparty != landlord {
		t.Errorf("unexpected rent start event: %+v", evs[1])
	}
	if !evs[2].Amount.Equal(amt("1100")) || evs[2].Counterparty != tenant {
		t.Errorf("unexpected unlock event: %+v", evs[2])
	}
	if !evs[4].OccurredAt.Equal(t0.Add(60 * day)) {
		t.Errorf("deposit event time = %s", evs[4].OccurredAt)
	}
	seen := map[string]bool{}
	for _, ev := range evs {
		if ev.ListingID != id {
			t.Errorf("event %s for listing %d", ev.Kind, ev.ListingID)
		}
		if seen[ev.ID.String()] {
			t.Errorf("duplicate event id %s", ev.ID)
		}
		seen[ev.ID.String()] = true
	}
}

func TestEvents_DeliveryFailureKeepsCommit(t *testing.T) {
	h := newHarness(t)
	id := h.publish(t)

	h.events.SetError(errors.New("broker down"))
	h.rent(t, id)

	if !h.get(t, id).IsRented {
		t.Error("event failure must not roll back a committed transition")
	}
}
