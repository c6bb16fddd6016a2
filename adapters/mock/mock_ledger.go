package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// DepositState is the lifecycle of a mock deposit invoice.
type DepositState string

const (
	DepositOpen     DepositState = "OPEN"
	DepositFunded   DepositState = "FUNDED"
	DepositHeld     DepositState = "HELD"
	DepositSettled  DepositState = "SETTLED"
	DepositReleased DepositState = "RELEASED"
)

type mockDeposit struct {
	req   settlement.DepositRequest
	state DepositState
	paid  decimal.Decimal
}

// MockLedger implements settlement.Ledger for testing and demos. Deposit
// invoices only count as paid once Fund is called for them (or immediately
// with AutoFund). It records every settled deposit and payout, keeps a running
// balance per recipient and tracks the funds in custody.
type MockLedger struct {
	mu        sync.Mutex
	deposits  map[string]*mockDeposit
	settled   []settlement.DepositHold
	payouts   []settlement.Payout
	balances  map[domain.Account]decimal.Decimal
	custody   decimal.Decimal
	failures  []error
	settleErr []error
	autoFund  bool
	seq       int
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		deposits: make(map[string]*mockDeposit),
		balances: make(map[domain.Account]decimal.Decimal),
	}
}

// AutoFund makes every issued invoice count as paid in full straight away.
func (m *MockLedger) AutoFund(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoFund = on
}

// RequestDeposit issues a mock invoice with reference "mock_deposit_N".
func (m *MockLedger) RequestDeposit(ctx context.Context, r settlement.DepositRequest) (*settlement.DepositInvoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	ref := fmt.Sprintf("mock_deposit_%d", m.seq)
	d := &mockDeposit{req: r, state: DepositOpen}
	if m.autoFund {
		d.state, d.paid = DepositFunded, r.Amount
	}
	m.deposits[ref] = d

	slog.Info("🧪 [MockLedger] Deposit invoice issued", "ref", ref, "from", r.From, "amount", r.Amount.String(), "reason", r.Reason)

	return &settlement.DepositInvoice{
		Ref:            ref,
		PaymentRequest: "mock:" + ref,
		Amount:         r.Amount,
		ExpiresAt:      time.Now().Add(time.Hour).UTC(),
	}, nil
}

// Fund simulates the payer sending amount against the invoice ref.
func (m *MockLedger) Fund(ref string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[ref]
	if !ok {
		return fmt.Errorf("unknown deposit %q", ref)
	}
	if d.state != DepositOpen {
		return fmt.Errorf("deposit %s is %s", ref, d.state)
	}
	d.state, d.paid = DepositFunded, amount
	return nil
}

// Prepay issues an invoice for r and funds it in full, returning the payment
// a caller would attach to the transition.
func (m *MockLedger) Prepay(r settlement.DepositRequest) settlement.Payment {
	inv, err := m.RequestDeposit(context.Background(), r)
	if err != nil {
		panic(err)
	}
	if err := m.Fund(inv.Ref, r.Amount); err != nil {
		panic(err)
	}
	return settlement.Payment{Amount: r.Amount, Ref: inv.Ref}
}

func (m *MockLedger) HoldDeposit(ctx context.Context, dep settlement.Deposit) (*settlement.DepositHold, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[dep.Ref]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: unknown deposit reference %q", domain.ErrFundsNotReceived, dep.Ref)
	case d.state == DepositOpen:
		return nil, fmt.Errorf("%w: deposit %s not paid", domain.ErrFundsNotReceived, dep.Ref)
	case d.state != DepositFunded:
		return nil, fmt.Errorf("%w: deposit %s is %s", domain.ErrFundsNotReceived, dep.Ref, d.state)
	case d.req.ListingID != dep.ListingID || d.req.From != dep.From || d.req.Reason != dep.Reason:
		return nil, fmt.Errorf("%w: deposit %s was issued to %s for listing %d %s",
			domain.ErrFundsNotReceived, dep.Ref, d.req.From, d.req.ListingID, d.req.Reason)
	case !d.paid.Equal(dep.Amount):
		return nil, fmt.Errorf("%w: deposit %s holds %s, expected %s", domain.ErrIncorrectPayment, dep.Ref, d.paid, dep.Amount)
	}

	d.state = DepositHeld
	return &settlement.DepositHold{
		Ref:        dep.Ref,
		ListingID:  dep.ListingID,
		From:       dep.From,
		Amount:     d.paid,
		Reason:     dep.Reason,
		LedgerType: "MOCK",
		HeldAt:     time.Now(),
	}, nil
}

func (m *MockLedger) SettleDeposit(ctx context.Context, h *settlement.DepositHold) (*settlement.DepositReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[h.Ref]
	if !ok || d.state != DepositHeld {
		return nil, fmt.Errorf("deposit %s is not held", h.Ref)
	}
	if len(m.settleErr) > 0 {
		err := m.settleErr[0]
		m.settleErr = m.settleErr[1:]
		slog.Warn("🧪 [MockLedger] Deposit settle failed", "ref", h.Ref, "error", err)
		return nil, err
	}
	d.state = DepositSettled
	m.settled = append(m.settled, *h)
	m.custody = m.custody.Add(h.Amount)

	slog.Info("🧪 [MockLedger] Deposit settled", "ref", h.Ref, "from", h.From, "amount", h.Amount.String(), "reason", h.Reason)

	return &settlement.DepositReceipt{
		TxID:       h.Ref,
		LedgerType: "MOCK",
		SettledAt:  time.Now(),
	}, nil
}

func (m *MockLedger) ReleaseDeposit(ctx context.Context, h *settlement.DepositHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[h.Ref]
	if !ok || d.state != DepositHeld {
		return fmt.Errorf("deposit %s is not held", h.Ref)
	}
	d.state = DepositReleased
	slog.Info("🧪 [MockLedger] Deposit released", "ref", h.Ref, "from", h.From)
	return nil
}

// Pay records the payout, or returns the next scripted failure. Payouts never
// exceed the funds in custody.
func (m *MockLedger) Pay(ctx context.Context, p settlement.Payout) (*settlement.PayoutReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		slog.Warn("🧪 [MockLedger] Payout failed", "listing_id", p.ListingID, "to", p.To, "error", err)
		return nil, err
	}
	if m.custody.LessThan(p.Amount) {
		return nil, fmt.Errorf("mock custody holds %s, cannot pay %s", m.custody, p.Amount)
	}

	m.seq++
	m.payouts = append(m.payouts, p)
	m.balances[p.To] = m.balances[p.To].Add(p.Amount)
	m.custody = m.custody.Sub(p.Amount)

	txID := fmt.Sprintf("tx_mock_payout_%d", m.seq)
	slog.Info("🧪 [MockLedger] Payout settled", "tx_id", txID, "to", p.To, "amount", p.Amount.String(), "reason", p.Reason)

	return &settlement.PayoutReceipt{
		TxID:       txID,
		LedgerType: "MOCK",
		SettledAt:  time.Now(),
	}, nil
}

// FailNext makes the next Pay call return err. Calls queue up.
func (m *MockLedger) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// FailNextSettle makes the next SettleDeposit call return err.
func (m *MockLedger) FailNextSettle(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleErr = append(m.settleErr, err)
}

// Payouts returns a copy of every settled payout in order.
func (m *MockLedger) Payouts() []settlement.Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]settlement.Payout(nil), m.payouts...)
}

// Deposits returns a copy of every settled deposit in order.
func (m *MockLedger) Deposits() []settlement.DepositHold {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]settlement.DepositHold(nil), m.settled...)
}

// DepositState reports where the invoice ref is in its lifecycle.
func (m *MockLedger) DepositState(ref string) DepositState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deposits[ref]; ok {
		return d.state
	}
	return ""
}

// Balance returns the total paid out to an account.
func (m *MockLedger) Balance(a domain.Account) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[a]
}

// Custody returns settled deposits less payouts.
func (m *MockLedger) Custody() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custody
}
