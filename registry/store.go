package registry

import (
	"context"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

// Effect is the side effect of a transition, run once the staged record has
// been validated. It is always the last action before commit.
type Effect func(ctx context.Context) error

// Mutation stages changes on l, a private copy of the stored record, and
// returns the effect to run before commit. A nil Effect commits without one.
// Returning an error discards the staged copy.
type Mutation func(l *domain.Listing) (Effect, error)

// Store persists listings and applies transitions atomically.
//
// Insert validates l, runs effect (if any) and stores l only if the effect
// succeeded. Ids are never reused, so a failed insert may leave a gap.
//
// Apply must: load the record (domain.ErrNotFound if absent), hand a copy to
// the mutation, reject the staged copy if domain.ValidateTransition fails, run
// the effect, and make the staged copy visible only if the effect succeeded.
// An effect error wrapping domain.ErrUncertainSettlement is the exception:
// funds may already have moved, so the staged copy is committed and returned
// together with the error. Two Apply calls on the same listing never
// interleave; calls on different listings may run concurrently.
type Store interface {
	Insert(ctx context.Context, l domain.Listing, effect Effect) (domain.Listing, error)
	Get(ctx context.Context, id domain.ListingID) (domain.Listing, error)
	Apply(ctx context.Context, id domain.ListingID, m Mutation) (domain.Listing, error)
	// ActiveLocks returns every listing whose hash lock is set.
	ActiveLocks(ctx context.Context) ([]domain.Listing, error)
}
