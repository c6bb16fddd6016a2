package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventPublished       EventKind = "published"
	EventRentStarted     EventKind = "rent_started"
	EventUnlocked        EventKind = "unlocked"
	EventRefunded        EventKind = "refunded"
	EventLeaseRenewed    EventKind = "lease_renewed"
	EventDepositReturned EventKind = "deposit_returned"
)

// Event is emitted after every committed transition for external observers.
type Event struct {
	ID           uuid.UUID         `json:"id"`
	Kind         EventKind         `json:"kind"`
	ListingID    ListingID         `json:"listing_id"`
	Actor        Account           `json:"actor"`
	Counterparty Account           `json:"counterparty,omitempty"`
	Amount       decimal.Decimal   `json:"amount"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// NewEvent stamps a fresh event id.
func NewEvent(kind EventKind, id ListingID, actor Account, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		ListingID:  id,
		Actor:      actor,
		Amount:     decimal.Zero,
		OccurredAt: at,
	}
}
