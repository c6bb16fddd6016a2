// Package escrow implements the rental escrow transitions: the HTLC phase
// (rent-start, unlock, timeout refund) and the lease phase (renewal, deposit
// return). Every transition is applied through the registry so it commits
// atomically, with the payout as its final step.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/policy"
	"github.com/ThorbenD/htlc-rental-escrow/registry"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// DefaultSettleTimeout bounds the ledger calls of one transition once they
// have started.
const DefaultSettleTimeout = 2 * time.Minute

// Engine is the transition surface of the escrow system.
type Engine struct {
	registry      *registry.Registry
	policy        policy.Config
	ledger        settlement.Ledger
	clock         settlement.Clock
	notifier      settlement.Notifier
	logger        *slog.Logger
	settleTimeout time.Duration
}

// Option tunes an Engine.
type Option func(*Engine)

// WithSettleTimeout sets how long the settlement step of a transition may run
// after the caller has gone away.
func WithSettleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.settleTimeout = d
		}
	}
}

// NewEngine wires the state machine to its registry and ports. The fee
// schedule is taken from the registry so both always agree.
func NewEngine(
	reg *registry.Registry,
	ledger settlement.Ledger,
	clock settlement.Clock,
	notifier settlement.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if notifier == nil {
		notifier = settlement.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		registry:      reg,
		policy:        reg.Policy(),
		ledger:        ledger,
		clock:         clock,
		notifier:      notifier,
		logger:        logger,
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result describes a committed transition.
type Result struct {
	Listing domain.Listing
	Event   domain.Event
	Payout  *settlement.Payout         // nil when the transition pays nothing out
	Receipt *settlement.PayoutReceipt  // set together with Payout
	Deposit *settlement.DepositReceipt // set when the transition took funds in
}

// Policy returns the fee schedule in force.
func (e *Engine) Policy() policy.Config {
	return e.policy
}

// Get returns the listing or an error wrapping domain.ErrNotFound.
func (e *Engine) Get(ctx context.Context, id domain.ListingID) (domain.Listing, error) {
	return e.registry.Get(ctx, id)
}

// Publish creates a vacant listing owned by caller. The fee must be held by
// the ledger under payment.Ref; it is settled as the listing is stored.
func (e *Engine) Publish(ctx context.Context, caller domain.Account, req registry.PublishRequest, payment settlement.Payment) (*Result, error) {
	if err := e.registry.CheckPublish(caller, req, payment.Amount); err != nil {
		return nil, e.fail("publish", 0, err)
	}

	hold, err := e.ledger.HoldDeposit(ctx, settlement.Deposit{
		From:   caller,
		Amount: payment.Amount,
		Reason: settlement.DepositPublishFee,
		Ref:    payment.Ref,
	})
	if err != nil {
		return nil, e.fail("publish", 0, fmt.Errorf("publish: %w", err))
	}

	var deposit *settlement.DepositReceipt
	l, err := e.registry.Publish(ctx, caller, req, hold.Amount, func(ctx context.Context) error {
		ctx, cancel := e.settleContext(ctx)
		defer cancel()
		r, err := e.ledger.SettleDeposit(ctx, hold)
		if err != nil {
			return fmt.Errorf("settle publish fee %s: %w", hold.Ref, err)
		}
		deposit = r
		return nil
	})
	if err != nil {
		e.release(ctx, hold)
		return nil, e.fail("publish", 0, err)
	}

	ev := domain.NewEvent(domain.EventPublished, l.ID, caller, l.PublishedAt)
	ev.Amount = hold.Amount
	ev.Attributes = map[string]string{
		"address": l.Address,
		"area":    fmt.Sprintf("%d", l.Area),
		"rent":    l.Rent.String(),
	}
	e.emit(ctx, ev)

	e.logger.Info("🏠 [Escrow] Listing published", "listing_id", l.ID, "landlord", caller, "rent", l.Rent.String())
	return &Result{Listing: l, Event: ev, Deposit: deposit}, nil
}

// transition is the shared commit path for everything after publish.
type transition struct {
	op     string
	id     domain.ListingID
	caller domain.Account
	kind   domain.EventKind
	// stage validates preconditions and mutates l.
	stage func(l *domain.Listing, now time.Time) (outcome, error)
}

type outcome struct {
	payout       *settlement.Payout  // nil when nothing leaves custody
	deposit      *settlement.Deposit // nil when nothing comes in
	toEscrow     bool                // credit the held deposit to l.Escrow
	counterparty domain.Account
}

// apply commits t. When the stage asks for a deposit, the ledger must hold
// it before the record is accepted, and only the held amount is credited.
// The effect pays out first and settles the deposit second, so a failed
// payout can still hand the deposit back.
func (e *Engine) apply(ctx context.Context, t transition) (*Result, error) {
	var (
		out     outcome
		hold    *settlement.DepositHold
		receipt *settlement.PayoutReceipt
		deposit *settlement.DepositReceipt
		at      time.Time
	)

	l, err := e.registry.Apply(ctx, t.id, func(l *domain.Listing) (registry.Effect, error) {
		at = e.clock.Now()
		o, err := t.stage(l, at)
		if err != nil {
			return nil, err
		}
		out = o

		if d := o.deposit; d != nil {
			h, err := e.ledger.HoldDeposit(ctx, *d)
			if err != nil {
				return nil, err
			}
			hold = h
			if !h.Amount.Equal(d.Amount) {
				return nil, fmt.Errorf("%w: ledger holds %s, expected %s", domain.ErrIncorrectPayment, h.Amount, d.Amount)
			}
			if o.toEscrow {
				l.Escrow = l.Escrow.Add(h.Amount)
			}
		}

		if o.payout == nil && hold == nil {
			return nil, nil
		}
		return func(ctx context.Context) error {
			ctx, cancel := e.settleContext(ctx)
			defer cancel()

			var uncertain error
			if p := o.payout; p != nil {
				r, err := e.ledger.Pay(ctx, *p)
				switch {
				case errors.Is(err, domain.ErrUncertainSettlement):
					uncertain = fmt.Errorf("%s payout of %s to %s: %w", p.Reason, p.Amount, p.To, err)
				case err != nil:
					return fmt.Errorf("%s payout of %s to %s: %w", p.Reason, p.Amount, p.To, err)
				default:
					receipt = r
				}
			}

			if hold != nil {
				r, err := e.ledger.SettleDeposit(ctx, hold)
				if err != nil {
					if o.payout != nil {
						return fmt.Errorf("%w: payout sent but deposit %s not settled: %v", domain.ErrUncertainSettlement, hold.Ref, err)
					}
					return fmt.Errorf("settle deposit %s: %w", hold.Ref, err)
				}
				deposit = r
			}
			return uncertain
		}, nil
	})
	if err != nil {
		if hold != nil && !errors.Is(err, domain.ErrUncertainSettlement) {
			e.release(ctx, hold)
		}
		return nil, e.fail(t.op, t.id, err)
	}

	ev := domain.NewEvent(t.kind, l.ID, t.caller, at)
	ev.Counterparty = out.counterparty
	switch {
	case out.payout != nil:
		ev.Amount = out.payout.Amount
	case hold != nil:
		ev.Amount = hold.Amount
	}
	e.emit(ctx, ev)

	return &Result{Listing: l, Event: ev, Payout: out.payout, Receipt: receipt, Deposit: deposit}, nil
}

// settleContext detaches the ledger calls of a transition from the caller:
// once money starts moving, a disconnect must not abandon it halfway.
func (e *Engine) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.settleTimeout)
}

// release hands back a deposit whose transition did not commit.
func (e *Engine) release(ctx context.Context, h *settlement.DepositHold) {
	ctx, cancel := e.settleContext(ctx)
	defer cancel()
	if err := e.ledger.ReleaseDeposit(ctx, h); err != nil {
		e.logger.Error("🚨 [Escrow] Failed to release deposit", "ref", h.Ref, "listing_id", h.ListingID, "from", h.From, "error", err)
		return
	}
	e.logger.Info("↩️  [Escrow] Deposit released", "ref", h.Ref, "listing_id", h.ListingID, "amount", h.Amount.String())
}

func (e *Engine) fail(op string, id domain.ListingID, err error) error {
	// Publish errors already carry their op from the registry.
	if id != 0 {
		err = fmt.Errorf("%s listing %d: %w", op, id, err)
	}

	if domain.IsFatal(err) {
		e.logger.Error("🚨 [Escrow] Accounting fault, transition aborted", "op", op, "listing_id", id, "error", err)
	} else {
		e.logger.Warn("⛔ [Escrow] Transition rejected", "op", op, "listing_id", id, "kind", domain.Kind(err), "error", err)
	}
	return err
}

// emit runs after commit, so a delivery failure is logged and never undoes
// the transition.
func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Error("📣 [Escrow] Event delivery failed", "event_id", ev.ID, "kind", ev.Kind, "listing_id", ev.ListingID, "error", err)
	}
}
