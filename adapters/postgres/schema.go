package postgres

const schema = `
CREATE TABLE IF NOT EXISTS listings (
    id             BIGSERIAL   PRIMARY KEY,
    address        TEXT        NOT NULL,
    area           BIGINT      NOT NULL,
    rent           NUMERIC     NOT NULL,
    landlord       TEXT        NOT NULL,
    tenant         TEXT        NOT NULL DEFAULT '',
    is_rented      BOOLEAN     NOT NULL DEFAULT FALSE,
    hash_lock      BYTEA,
    time_lock      TIMESTAMPTZ,
    next_rent_due  TIMESTAMPTZ,
    bad_reputation BOOLEAN     NOT NULL DEFAULT FALSE,
    escrow         NUMERIC     NOT NULL DEFAULT 0,
    retained       NUMERIC     NOT NULL DEFAULT 0,
    published_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS listings_active_locks ON listings (id) WHERE hash_lock IS NOT NULL;
`

const selectListing = `
SELECT id, address, area, rent, landlord, tenant, is_rented, hash_lock, time_lock,
       next_rent_due, bad_reputation, escrow, retained, published_at
FROM listings`

const insertListing = `
INSERT INTO listings
    (address, area, rent, landlord, tenant, is_rented, hash_lock, time_lock,
     next_rent_due, bad_reputation, escrow, retained, published_at)
VALUES
    (:address, :area, :rent, :landlord, :tenant, :is_rented, :hash_lock, :time_lock,
     :next_rent_due, :bad_reputation, :escrow, :retained, :published_at)
RETURNING id`

// Publish-time attributes are never written after insert.
const updateListing = `
UPDATE listings SET
    tenant         = :tenant,
    is_rented      = :is_rented,
    hash_lock      = :hash_lock,
    time_lock      = :time_lock,
    next_rent_due  = :next_rent_due,
    bad_reputation = :bad_reputation,
    escrow         = :escrow,
    retained       = :retained
WHERE id = :id`
