package store

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision and
// scanned straight into decimal.Decimal through the shopspring codec.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPool parses dbURL, registers the decimal codec on every
// connection and verifies connectivity.
func NewPostgresPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS holdings (
			ticker     TEXT PRIMARY KEY,
			quantity   NUMERIC NOT NULL CHECK (quantity >= 0),
			avg_cost   NUMERIC NOT NULL,
			asset_kind TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS price_snapshots (
			seq        BIGSERIAL PRIMARY KEY,
			ticker     TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			price      NUMERIC NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			asset_kind TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_price_ticker_ts ON price_snapshots (ticker, ts DESC, seq DESC);
		CREATE TABLE IF NOT EXISTS orders (
			seq        BIGSERIAL PRIMARY KEY,
			id         UUID NOT NULL UNIQUE,
			ticker     TEXT NOT NULL,
			side       TEXT NOT NULL,
			quantity   NUMERIC NOT NULL,
			price      NUMERIC NOT NULL,
			asset_kind TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestPrice(ctx context.Context, ticker string) (*model.PriceSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT seq, ticker, name, price, ts, asset_kind
		 FROM price_snapshots WHERE ticker = $1
		 ORDER BY ts DESC, seq DESC LIMIT 1`, ticker)

	snap, err := scanPgSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("price for %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest price %s: %w", ticker, err)
	}
	return snap, nil
}

func (s *PostgresStore) LatestPrices(ctx context.Context) ([]model.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (ticker) seq, ticker, name, price, ts, asset_kind
		 FROM price_snapshots
		 ORDER BY ticker, ts DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	defer rows.Close()

	var out []model.PriceSnapshot
	for rows.Next() {
		snap, err := scanPgSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendPrice(ctx context.Context, snap *model.PriceSnapshot) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO price_snapshots (ticker, name, price, ts, asset_kind)
		 VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		snap.Ticker, snap.Name, snap.Price, snap.Timestamp, snap.Kind.String(),
	).Scan(&snap.Seq)
	if err != nil {
		return fmt.Errorf("append price %s: %w", snap.Ticker, err)
	}
	return nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, ticker string) (*model.Holding, error) {
	return pgHolding(ctx, s.pool, ticker, "")
}

func (s *PostgresStore) GetCash(ctx context.Context) (decimal.Decimal, error) {
	return pgCash(ctx, s.pool, "")
}

func (s *PostgresStore) ListHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, quantity, avg_cost, asset_kind FROM holdings ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		h, err := scanPgHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// Commit writes the change set in one transaction. Any error rolls back, so
// no reader ever sees a holding without its cash movement.
func (s *PostgresStore) Commit(ctx context.Context, c *Commit) error {
	return s.Update(ctx, func(tx LedgerTx) error { return tx.Apply(ctx, c) })
}

// ledgerLockKey names the advisory lock every ledger writer takes.
const ledgerLockKey int64 = 0x6c6564676572

// Update serializes ledger writers on a transaction scoped advisory lock
// and reads rows FOR UPDATE. READ COMMITTED is used so each statement sees
// what the previous lock holder committed; a SERIALIZABLE snapshot taken
// before the lock wait would fail with 40001 instead.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetHolding(ctx context.Context, ticker string) (*model.Holding, error) {
	return pgHolding(ctx, t.tx, ticker, " FOR UPDATE")
}

func (t *pgTx) GetCash(ctx context.Context) (decimal.Decimal, error) {
	return pgCash(ctx, t.tx, " FOR UPDATE")
}

func (t *pgTx) Apply(ctx context.Context, c *Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	const upsert = `INSERT INTO holdings (ticker, quantity, avg_cost, asset_kind)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ticker) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_cost = EXCLUDED.avg_cost,
			asset_kind = EXCLUDED.asset_kind`

	for _, h := range c.Upserts {
		if _, err := t.tx.Exec(ctx, upsert, h.Ticker, h.Quantity, h.AvgCost, h.Kind.String()); err != nil {
			return fmt.Errorf("upsert holding %s: %w", h.Ticker, err)
		}
	}
	for _, tk := range c.Deletes {
		if _, err := t.tx.Exec(ctx, `DELETE FROM holdings WHERE ticker = $1`, tk); err != nil {
			return fmt.Errorf("delete holding %s: %w", tk, err)
		}
	}
	if c.Cash != nil {
		if _, err := t.tx.Exec(ctx, upsert, model.CashTicker, *c.Cash, decimal.Zero, model.Cash.String()); err != nil {
			return fmt.Errorf("set cash: %w", err)
		}
	}
	if o := c.Order; o != nil {
		err := t.tx.QueryRow(ctx,
			`INSERT INTO orders (id, ticker, side, quantity, price, asset_kind, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
			o.ID, o.Ticker, o.Side.String(), o.Quantity, o.ExecutionPrice, o.Kind.String(), o.Timestamp,
		).Scan(&o.Seq)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
	}
	return nil
}

func pgHolding(ctx context.Context, q pgQuerier, ticker, lock string) (*model.Holding, error) {
	row := q.QueryRow(ctx,
		`SELECT ticker, quantity, avg_cost, asset_kind FROM holdings WHERE ticker = $1`+lock, ticker)

	h, err := scanPgHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("holding %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", ticker, err)
	}
	return h, nil
}

func pgCash(ctx context.Context, q pgQuerier, lock string) (decimal.Decimal, error) {
	h, err := pgHolding(ctx, q, model.CashTicker, lock)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return h.Quantity, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id::TEXT, ticker, side, quantity, price, asset_kind, ts FROM orders ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var (
			o          model.Order
			side, kind string
		)
		if err := rows.Scan(&o.Seq, &o.ID, &o.Ticker, &side, &o.Quantity, &o.ExecutionPrice, &kind, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if o.Side, err = model.ParseSide(side); err != nil {
			return nil, err
		}
		if o.Kind, err = model.ParseAssetKind(kind); err != nil {
			return nil, err
		}
		o.Timestamp = o.Timestamp.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgHolding(row pgx.Row) (*model.Holding, error) {
	var (
		h    model.Holding
		kind string
	)
	if err := row.Scan(&h.Ticker, &h.Quantity, &h.AvgCost, &kind); err != nil {
		return nil, err
	}
	var err error
	if h.Kind, err = model.ParseAssetKind(kind); err != nil {
		return nil, err
	}
	return &h, nil
}

func scanPgSnapshot(row pgx.Row) (*model.PriceSnapshot, error) {
	var (
		p    model.PriceSnapshot
		kind string
	)
	if err := row.Scan(&p.Seq, &p.Ticker, &p.Name, &p.Price, &p.Timestamp, &kind); err != nil {
		return nil, err
	}
	var err error
	if p.Kind, err = model.ParseAssetKind(kind); err != nil {
		return nil, err
	}
	p.Timestamp = p.Timestamp.UTC()
	return &p, nil
}
