package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

// MemoryStore keeps listings in a map. Transitions on one listing are
// serialized by a per-listing mutex held across the effect; mu only guards
// the maps and is never held while an effect runs. Transitions work on a copy
// that replaces the stored record only after the effect succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	listings map[domain.ListingID]domain.Listing
	locks    map[domain.ListingID]*sync.Mutex
	lastID   domain.ListingID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[domain.ListingID]domain.Listing),
		locks:    make(map[domain.ListingID]*sync.Mutex),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, l domain.Listing, effect Effect) (domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return domain.Listing{}, err
	}

	s.mu.Lock()
	l.ID = s.lastID + 1
	if err := l.Validate(); err != nil {
		s.mu.Unlock()
		return domain.Listing{}, err
	}
	s.lastID = l.ID
	s.mu.Unlock()

	if effect != nil {
		if err := effect(ctx); err != nil {
			return domain.Listing{}, err
		}
	}

	s.mu.Lock()
	s.listings[l.ID] = l
	s.locks[l.ID] = &sync.Mutex{}
	s.mu.Unlock()
	return l, nil
}

func (s *MemoryStore) Get(ctx context.Context, id domain.ListingID) (domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return domain.Listing{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	return l, nil
}

func (s *MemoryStore) Apply(ctx context.Context, id domain.ListingID, m Mutation) (domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return domain.Listing{}, err
	}

	s.mu.Lock()
	lock, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return domain.Listing{}, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}

	lock.Lock()
	defer lock.Unlock()

	// Only Apply writes an existing record, and it holds lock.
	s.mu.Lock()
	stored := s.listings[id]
	s.mu.Unlock()

	// Listing has only value fields, so assignment is a full copy.
	staged := stored
	effect, err := m(&staged)
	if err != nil {
		return domain.Listing{}, err
	}
	if err := domain.ValidateTransition(&stored, &staged); err != nil {
		return domain.Listing{}, err
	}
	if effect != nil {
		if err := effect(ctx); err != nil {
			if !errors.Is(err, domain.ErrUncertainSettlement) {
				return domain.Listing{}, err
			}
			s.commit(staged)
			return staged, err
		}
	}

	s.commit(staged)
	return staged, nil
}

func (s *MemoryStore) commit(l domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

func (s *MemoryStore) ActiveLocks(ctx context.Context) ([]domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Listing
	for _, l := range s.listings {
		if !l.HashLock.IsZero() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
