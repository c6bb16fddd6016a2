// Package registrytest holds the behavioural contract every registry.Store
// implementation is tested against.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/registry"
)

var published = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

// Vacant returns a valid listing ready for Insert.
func Vacant(landlord domain.Account) domain.Listing {
	return domain.Listing{
		Address:     "Calle Mayor 1",
		Area:        72,
		Rent:        decimal.RequireFromString("1000.50"),
		Landlord:    landlord,
		Escrow:      decimal.Zero,
		Retained:    decimal.NewFromInt(100),
		PublishedAt: published,
	}
}

func lock(l *domain.Listing) {
	l.Tenant = "tenant"
	l.IsRented = true
	l.HashLock = domain.LockFor([]byte("secret"))
	l.TimeLock = published.Add(30 * 24 * time.Hour)
	l.NextRentDue = l.TimeLock
	l.Escrow = decimal.RequireFromString("2201")
}

// Run exercises newStore against the Store contract. newStore must return an
// empty store each time it is called.
func Run(t *testing.T, newStore func(t *testing.T) registry.Store) {
	ctx := context.Background()

	t.Run("insert assigns increasing ids", func(t *testing.T) {
		s := newStore(t)
		for want := domain.ListingID(1); want <= 3; want++ {
			l, err := s.Insert(ctx, Vacant("landlord"), nil)
			if err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
			if l.ID != want {
				t.Errorf("Insert() id = %d, want %d", l.ID, want)
			}
		}
	})

	t.Run("insert rejects invalid listing", func(t *testing.T) {
		s := newStore(t)
		bad := Vacant("landlord")
		bad.Rent = decimal.Zero
		if _, err := s.Insert(ctx, bad, nil); !errors.Is(err, domain.ErrInvariant) {
			t.Fatalf("Insert() error = %v, want ErrInvariant", err)
		}
		if _, err := s.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("rejected insert was stored: %v", err)
		}
	})

	t.Run("insert effect error stores nothing", func(t *testing.T) {
		s := newStore(t)
		errSettle := errors.New("fee not settled")
		if _, err := s.Insert(ctx, Vacant("landlord"), func(context.Context) error { return errSettle }); !errors.Is(err, errSettle) {
			t.Fatalf("Insert() error = %v", err)
		}
		l, err := s.Insert(ctx, Vacant("landlord"), func(context.Context) error { return nil })
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, l.ID-1); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("failed insert was stored: %v", err)
		}
	})

	t.Run("get round trips every field", func(t *testing.T) {
		s := newStore(t)
		in, err := s.Insert(ctx, Vacant("landlord"), nil)
		if err != nil {
			t.Fatal(err)
		}
		want, err := s.Apply(ctx, in.ID, func(l *domain.Listing) (registry.Effect, error) {
			lock(l)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}

		got, err := s.Get(ctx, in.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Address != want.Address || got.Area != want.Area || !got.Rent.Equal(want.Rent) ||
			got.Landlord != want.Landlord || got.Tenant != want.Tenant || got.IsRented != want.IsRented ||
			got.HashLock != want.HashLock || !got.TimeLock.Equal(want.TimeLock) ||
			!got.NextRentDue.Equal(want.NextRentDue) || got.BadReputation != want.BadReputation ||
			!got.Escrow.Equal(want.Escrow) || !got.Retained.Equal(want.Retained) ||
			!got.PublishedAt.Equal(want.PublishedAt) {
			t.Errorf("Get() = %+v, want %+v", got, want)
		}
	})

	t.Run("get unknown id", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
		_, err := s.Apply(ctx, 42, func(*domain.Listing) (registry.Effect, error) { return nil, nil })
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Apply() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("apply commits after effect", func(t *testing.T) {
		s := newStore(t)
		in, _ := s.Insert(ctx, Vacant("landlord"), nil)

		ran := false
		got, err := s.Apply(ctx, in.ID, func(l *domain.Listing) (registry.Effect, error) {
			lock(l)
			return func(context.Context) error {
				ran = true
				return nil
			}, nil
		})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if !ran {
			t.Error("effect did not run")
		}
		if !got.IsRented {
			t.Error("Apply() did not return the staged record")
		}
		if stored, _ := s.Get(ctx, in.ID); !stored.IsRented {
			t.Error("staged record not committed")
		}
	})

	t.Run("mutation error discards staged copy", func(t *testing.T) {
		s := newStore(t)
		in, _ := s.Insert(ctx, Vacant("landlord"), nil)

		_, err := s.Apply(ctx, in.ID, func(l *domain.Listing) (registry.Effect, error) {
			lock(l)
			return nil, domain.ErrInvalidState
		})
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("Apply() error = %v", err)
		}
		if stored, _ := s.Get(ctx, in.ID); stored.IsRented {
			t.Error("rejected mutation was committed")
		}
	})

	t.Run("effect error rolls back", func(t *testing.T) {
		s := newStore(t)
		in, _ := s.Insert(ctx, Vacant("landlord"), nil)
		errPay := errors.New("payout failed")

		_, err := s.Apply(ctx, in.ID, func(l *domain.Listing) (registry.Effect, error) {
			lock(l)
			return func(context.Context) error { return errPay }, nil
		})
		if !errors.Is(err, errPay) {
			t.Fatalf("Apply() error = %v", err)
		}
		if stored, _ := s.Get(ctx, in.ID); stored.IsRented || !stored.Escrow.IsZero() {
			t.Errorf("failed effect was committed: %+v", stored)
		}
	})

	t.Run("uncertain effect commits", func(t *testing.T) {
		s := newStore(t)
		in, _ := s.Insert(ctx, Vacant("landlord"), nil)
		errLost := fmt.Errorf("%w: stream lost", domain.ErrUncertainSettlement)

		got, err := s.Apply(ctx, in.ID, func(l *domain.Listing) (registry.Effect, error) {
			lock(l)
			return func(context.Context) error { return errLost }, nil
		})
		if !errors.Is(err, domain.ErrUncertainSettlement) {
			t.Fatalf("Apply() error = %v", err)
		}
		if !got.IsRented {
			t.Error("Apply() did not return the committed record")
		}
		if stored, _ := s.Get(ctx, in.ID); !stored.IsRented {
			t.Error("staged record must be kept once funds may have moved")
		}
	})

	t.Run("effect does not block other listings", func(t *testing.T) {
		s := newStore(t)
		slow, _ := s.Insert(ctx, Vacant("landlord"), nil)
		other, _ := s.Insert(ctx, Vacant("landlord"), nil)

		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := s.Apply(ctx, slow.ID, func(l *domain.Listing) (registry.Effect, error) {
				lock(l)
				return func(context.Context) error {
					close(started)
					<-release
					return nil
				}, nil
			})
			done <- err
		}()
		<-started

		finished := make(chan error, 1)
		go func() {
			_, err := s.Apply(ctx, other.ID, func(l *domain.Listing) (registry.Effect, error) {
				lock(l)
				return nil, nil
			})
			if err == nil {
				_, err = s.Get(ctx, slow.ID)
			}
			finished <- err
		}()

		select {
		case err := <-finished:
			if err != nil {
				t.Errorf("Apply() on the other listing error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Apply() on another listing waited for a running effect")
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("slow Apply() error = %v", err)
		}
	})

	t.Run("invariant violation skips effect", func(t *testing.T) {
		s := newStore(t)
		in, _ := s.Insert(ctx, Vacant("landlord"), nil)

		ran := false
		_, err := s.Apply(ctx, in.ID, func(l *domain.Listing) (registry.Effect, error) {
			l.Escrow = decimal.NewFromInt(10) // vacant listings hold no escrow
			return func(context.Context) error {
				ran = true
				return nil
			}, nil
		})
		if !errors.Is(err, domain.ErrInvariant) {
			t.Fatalf("Apply() error = %v, want ErrInvariant", err)
		}
		if ran {
			t.Error("effect ran for an invalid record")
		}
	})

	t.Run("active locks", func(t *testing.T) {
		s := newStore(t)
		var ids []domain.ListingID
		for i := 0; i < 4; i++ {
			l, _ := s.Insert(ctx, Vacant("landlord"), nil)
			ids = append(ids, l.ID)
		}
		for _, id := range []domain.ListingID{ids[3], ids[1]} {
			if _, err := s.Apply(ctx, id, func(l *domain.Listing) (registry.Effect, error) {
				lock(l)
				return nil, nil
			}); err != nil {
				t.Fatal(err)
			}
		}

		locks, err := s.ActiveLocks(ctx)
		if err != nil {
			t.Fatalf("ActiveLocks() error = %v", err)
		}
		if len(locks) != 2 || locks[0].ID != ids[1] || locks[1].ID != ids[3] {
			t.Errorf("ActiveLocks() = %+v, want listings %d and %d", locks, ids[1], ids[3])
		}
	})
}
