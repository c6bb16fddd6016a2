package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

type listingRow struct {
	ID            int64           `db:"id"`
	Address       string          `db:"address"`
	Area          int64           `db:"area"`
	Rent          decimal.Decimal `db:"rent"`
	Landlord      string          `db:"landlord"`
	Tenant        string          `db:"tenant"`
	IsRented      bool            `db:"is_rented"`
	HashLock      []byte          `db:"hash_lock"`
	TimeLock      sql.NullTime    `db:"time_lock"`
	NextRentDue   sql.NullTime    `db:"next_rent_due"`
	BadReputation bool            `db:"bad_reputation"`
	Escrow        decimal.Decimal `db:"escrow"`
	Retained      decimal.Decimal `db:"retained"`
	PublishedAt   time.Time       `db:"published_at"`
}

func toRow(l domain.Listing) listingRow {
	return listingRow{
		ID:            int64(l.ID),
		Address:       l.Address,
		Area:          int64(l.Area),
		Rent:          l.Rent,
		Landlord:      string(l.Landlord),
		Tenant:        string(l.Tenant),
		IsRented:      l.IsRented,
		HashLock:      l.HashLock.Bytes(),
		TimeLock:      nullTime(l.TimeLock),
		NextRentDue:   nullTime(l.NextRentDue),
		BadReputation: l.BadReputation,
		Escrow:        l.Escrow,
		Retained:      l.Retained,
		PublishedAt:   storedTime(l.PublishedAt),
	}
}

func (r listingRow) listing() (domain.Listing, error) {
	lock, err := domain.HashLockFromBytes(r.HashLock)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing %d: %w", r.ID, err)
	}
	return domain.Listing{
		ID:            domain.ListingID(r.ID),
		Address:       r.Address,
		Area:          uint64(r.Area),
		Rent:          r.Rent,
		Landlord:      domain.Account(r.Landlord),
		Tenant:        domain.Account(r.Tenant),
		IsRented:      r.IsRented,
		HashLock:      lock,
		TimeLock:      fromNullTime(r.TimeLock),
		NextRentDue:   fromNullTime(r.NextRentDue),
		BadReputation: r.BadReputation,
		Escrow:        r.Escrow,
		Retained:      r.Retained,
		PublishedAt:   r.PublishedAt.UTC(),
	}, nil
}

// storedTime is t as TIMESTAMPTZ keeps it: UTC, microsecond precision.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// asStored rounds l's timestamps the way the database will, so cached and
// returned records match what a later read sees.
func asStored(l domain.Listing) domain.Listing {
	l.PublishedAt = storedTime(l.PublishedAt)
	if !l.TimeLock.IsZero() {
		l.TimeLock = storedTime(l.TimeLock)
	}
	if !l.NextRentDue.IsZero() {
		l.NextRentDue = storedTime(l.NextRentDue)
	}
	return l
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: storedTime(t), Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
