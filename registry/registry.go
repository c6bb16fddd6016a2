// Package registry owns the listing records: publishing new listings, reading
// them, and applying staged transitions through a Store.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/policy"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// PublishRequest carries the attributes fixed at publish.
type PublishRequest struct {
	Address string
	Area    uint64
	Rent    decimal.Decimal
}

type Registry struct {
	store  Store
	policy policy.Config
	clock  settlement.Clock
	logger *slog.Logger
}

func New(store Store, cfg policy.Config, clock settlement.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		policy: cfg,
		clock:  clock,
		logger: logger,
	}
}

// Policy returns the fee schedule the registry was built with.
func (r *Registry) Policy() policy.Config {
	return r.policy
}

// CheckPublish rejects a publish request before any funds are taken for it.
func (r *Registry) CheckPublish(landlord domain.Account, req PublishRequest, fee decimal.Decimal) error {
	if landlord == domain.NoAccount {
		return fmt.Errorf("publish: %w: caller identity required", domain.ErrUnauthorized)
	}
	if !req.Rent.IsPositive() {
		return fmt.Errorf("publish: %w: rent must be positive, got %s", domain.ErrInvalidInput, req.Rent)
	}
	if err := policy.CheckExact(r.policy.PublishFee, fee); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Publish stores a new vacant listing owned by landlord. fee is retained by
// the system; effect, when set, collects it and runs before the listing is
// stored.
func (r *Registry) Publish(ctx context.Context, landlord domain.Account, req PublishRequest, fee decimal.Decimal, effect Effect) (domain.Listing, error) {
	if err := r.CheckPublish(landlord, req, fee); err != nil {
		return domain.Listing{}, err
	}

	l, err := r.store.Insert(ctx, domain.Listing{
		Address:     req.Address,
		Area:        req.Area,
		Rent:        req.Rent,
		Landlord:    landlord,
		Escrow:      decimal.Zero,
		Retained:    fee,
		PublishedAt: r.clock.Now(),
	}, effect)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("publish: %w", err)
	}

	r.logger.Debug("listing stored", "listing_id", l.ID, "landlord", l.Landlord)
	return l, nil
}

// Get returns the listing or an error wrapping domain.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id domain.ListingID) (domain.Listing, error) {
	return r.store.Get(ctx, id)
}

// Apply runs m against a staged copy of the listing. See Store.Apply.
func (r *Registry) Apply(ctx context.Context, id domain.ListingID, m Mutation) (domain.Listing, error) {
	return r.store.Apply(ctx, id, m)
}

// ActiveLocks lists listings still waiting for unlock or refund.
func (r *Registry) ActiveLocks(ctx context.Context) ([]domain.Listing, error) {
	return r.store.ActiveLocks(ctx)
}
