// Package postgres implements registry.Store on PostgreSQL. Each transition
// runs in its own transaction holding the listing's row lock, and the
// settlement effect runs inside that transaction right before COMMIT.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/karlseguin/ccache/v3"
	_ "github.com/lib/pq"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/registry"
)

// Options tunes the read cache in front of Get.
type Options struct {
	CacheSize int64
	CacheTTL  time.Duration
}

type Store struct {
	db     *sqlx.DB
	cache  *ccache.Cache[domain.Listing]
	ttl    time.Duration
	logger *slog.Logger
}

var _ registry.Store = (*Store)(nil)

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(db, opts, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, opts Options, logger *slog.Logger) *Store {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		cache:  ccache.New(ccache.Configure[domain.Listing]().MaxSize(opts.CacheSize)),
		ttl:    opts.CacheTTL,
		logger: logger,
	}
}

// Migrate creates the listings table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate listings schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.cache.Stop()
	return s.db.Close()
}

func cacheKey(id domain.ListingID) string {
	return "listing:" + strconv.FormatUint(uint64(id), 10)
}

// Insert stores l under the next id from the listings sequence. The effect
// runs inside the insert transaction.
func (s *Store) Insert(ctx context.Context, l domain.Listing, effect registry.Effect) (domain.Listing, error) {
	// Validate with a placeholder id; the real one comes from the sequence.
	check := l
	check.ID = 1
	if err := check.Validate(); err != nil {
		return domain.Listing{}, err
	}
	l = asStored(l)

	tx, err := s.db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("begin: %w", err)
	}
	defer s.rollback(tx, 0)

	query, args, err := tx.BindNamed(insertListing, toRow(l))
	if err != nil {
		return domain.Listing{}, fmt.Errorf("bind insert: %w", err)
	}
	var id int64
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return domain.Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	l.ID = domain.ListingID(id)

	if effect != nil {
		if err := effect(ctx); err != nil {
			return domain.Listing{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		if effect != nil {
			s.logger.Error("🚨 [Postgres] Commit failed after settlement", "listing_id", l.ID, "error", err)
		}
		return domain.Listing{}, fmt.Errorf("commit listing %d: %w", l.ID, err)
	}

	s.cache.Set(cacheKey(l.ID), l, s.ttl)
	return l, nil
}

func (s *Store) rollback(tx *sqlx.Tx, id domain.ListingID) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Warn("⚠️  [Postgres] Rollback failed", "listing_id", id, "error", err)
	}
}

func (s *Store) Get(ctx context.Context, id domain.ListingID) (domain.Listing, error) {
	if item := s.cache.Get(cacheKey(id)); item != nil && !item.Expired() {
		return item.Value(), nil
	}

	var row listingRow
	err := s.db.GetContext(ctx, &row, selectListing+` WHERE id = $1`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("get listing %d: %w", id, err)
	}

	l, err := row.listing()
	if err != nil {
		return domain.Listing{}, err
	}
	s.cache.Set(cacheKey(id), l, s.ttl)
	return l, nil
}

// Apply locks the row with SELECT ... FOR UPDATE, writes the staged record,
// runs the effect and commits. Any failure before COMMIT rolls back, except an
// uncertain settlement, which commits.
//
// The transaction is detached from ctx: once the effect has started, a
// cancelled caller must not roll back a record whose funds have moved.
// Queries before the effect still honour ctx.
func (s *Store) Apply(ctx context.Context, id domain.ListingID, m registry.Mutation) (domain.Listing, error) {
	tx, err := s.db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("begin: %w", err)
	}
	defer s.rollback(tx, id)

	var row listingRow
	err = tx.GetContext(ctx, &row, selectListing+` WHERE id = $1 FOR UPDATE`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("lock listing %d: %w", id, err)
	}

	stored, err := row.listing()
	if err != nil {
		return domain.Listing{}, err
	}
	staged := stored
	effect, err := m(&staged)
	if err != nil {
		return domain.Listing{}, err
	}
	staged = asStored(staged)
	if err := domain.ValidateTransition(&stored, &staged); err != nil {
		return domain.Listing{}, err
	}

	if _, err := tx.NamedExecContext(ctx, updateListing, toRow(staged)); err != nil {
		return domain.Listing{}, fmt.Errorf("update listing %d: %w", id, err)
	}

	var effectErr error
	if effect != nil {
		if effectErr = effect(ctx); effectErr != nil && !errors.Is(effectErr, domain.ErrUncertainSettlement) {
			return domain.Listing{}, effectErr
		}
	}

	if err := tx.Commit(); err != nil {
		if effect != nil {
			// The funds already moved; the record needs manual repair.
			s.logger.Error("🚨 [Postgres] Commit failed after settlement", "listing_id", id, "error", err)
		}
		s.cache.Delete(cacheKey(id))
		return domain.Listing{}, fmt.Errorf("commit listing %d: %w", id, err)
	}

	s.cache.Set(cacheKey(id), staged, s.ttl)
	return staged, effectErr
}

func (s *Store) ActiveLocks(ctx context.Context) ([]domain.Listing, error) {
	var rows []listingRow
	if err := s.db.SelectContext(ctx, &rows, selectListing+` WHERE hash_lock IS NOT NULL ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list active locks: %w", err)
	}

	out := make([]domain.Listing, 0, len(rows))
	for _, r := range rows {
		l, err := r.listing()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
