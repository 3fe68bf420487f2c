package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// SQLiteStore implements Store on a single SQLite file. Decimal values are
// stored as TEXT so no precision is lost; timestamps are unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS holdings (
			ticker     TEXT PRIMARY KEY,
			quantity   TEXT NOT NULL,
			avg_cost   TEXT NOT NULL,
			asset_kind TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_snapshots (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker     TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			price      TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			asset_kind TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_ticker_ts ON price_snapshots(ticker, ts, seq)`,
		`CREATE TABLE IF NOT EXISTS orders (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			ticker     TEXT NOT NULL,
			side       TEXT NOT NULL,
			quantity   TEXT NOT NULL,
			price      TEXT NOT NULL,
			asset_kind TEXT NOT NULL,
			ts         INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) LatestPrice(ctx context.Context, ticker string) (*model.PriceSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, ticker, name, price, ts, asset_kind
		 FROM price_snapshots WHERE ticker = ?
		 ORDER BY ts DESC, seq DESC LIMIT 1`, ticker)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price for %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest price %s: %w", ticker, err)
	}
	return snap, nil
}

func (s *SQLiteStore) LatestPrices(ctx context.Context) ([]model.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ticker, name, price, ts, asset_kind FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY ticker ORDER BY ts DESC, seq DESC) AS rn
			FROM price_snapshots
		 ) WHERE rn = 1 ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	defer rows.Close()

	var out []model.PriceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendPrice(ctx context.Context, snap *model.PriceSnapshot) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO price_snapshots (ticker, name, price, ts, asset_kind) VALUES (?, ?, ?, ?, ?)`,
		snap.Ticker, snap.Name, snap.Price, snap.Timestamp.UnixNano(), snap.Kind.String())
	if err != nil {
		return fmt.Errorf("append price %s: %w", snap.Ticker, err)
	}
	if snap.Seq, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("append price %s: %w", snap.Ticker, err)
	}
	return nil
}

func (s *SQLiteStore) GetHolding(ctx context.Context, ticker string) (*model.Holding, error) {
	return sqliteHolding(ctx, s.db, ticker)
}

func (s *SQLiteStore) GetCash(ctx context.Context) (decimal.Decimal, error) {
	return sqliteCash(ctx, s.db)
}

func (s *SQLiteStore) ListHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, quantity, avg_cost, asset_kind FROM holdings ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// Commit runs the change set in one transaction; any error rolls it back.
func (s *SQLiteStore) Commit(ctx context.Context, c *Commit) error {
	return s.Update(ctx, func(tx LedgerTx) error { return tx.Apply(ctx, c) })
}

// Update pins a connection and opens the transaction with BEGIN IMMEDIATE,
// which takes the database write lock up front. A second process on the
// same file waits on busy_timeout instead of reading a balance that is
// about to change.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx LedgerTx) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}
	defer func() {
		if err != nil {
			// The caller's context may already be done; rollback must still run.
			conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err = fn(&sqliteTx{q: conn}); err != nil {
		return err
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sqlQuerier is satisfied by *sql.DB and *sql.Conn.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q sqlQuerier
}

func (tx *sqliteTx) GetHolding(ctx context.Context, ticker string) (*model.Holding, error) {
	return sqliteHolding(ctx, tx.q, ticker)
}

func (tx *sqliteTx) GetCash(ctx context.Context) (decimal.Decimal, error) {
	return sqliteCash(ctx, tx.q)
}

func (tx *sqliteTx) Apply(ctx context.Context, c *Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	const upsert = `INSERT INTO holdings (ticker, quantity, avg_cost, asset_kind) VALUES (?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			quantity = excluded.quantity,
			avg_cost = excluded.avg_cost,
			asset_kind = excluded.asset_kind`

	for _, h := range c.Upserts {
		if _, err := tx.q.ExecContext(ctx, upsert, h.Ticker, h.Quantity, h.AvgCost, h.Kind.String()); err != nil {
			return fmt.Errorf("upsert holding %s: %w", h.Ticker, err)
		}
	}
	for _, t := range c.Deletes {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM holdings WHERE ticker = ?`, t); err != nil {
			return fmt.Errorf("delete holding %s: %w", t, err)
		}
	}
	if c.Cash != nil {
		if _, err := tx.q.ExecContext(ctx, upsert, model.CashTicker, *c.Cash, decimal.Zero, model.Cash.String()); err != nil {
			return fmt.Errorf("set cash: %w", err)
		}
	}
	if o := c.Order; o != nil {
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO orders (id, ticker, side, quantity, price, asset_kind, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.Ticker, o.Side.String(), o.Quantity, o.ExecutionPrice, o.Kind.String(), o.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
		if o.Seq, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
	}
	return nil
}

func sqliteHolding(ctx context.Context, q sqlQuerier, ticker string) (*model.Holding, error) {
	row := q.QueryRowContext(ctx,
		`SELECT ticker, quantity, avg_cost, asset_kind FROM holdings WHERE ticker = ?`, ticker)

	h, err := scanHolding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("holding %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", ticker, err)
	}
	return h, nil
}

func sqliteCash(ctx context.Context, q sqlQuerier) (decimal.Decimal, error) {
	h, err := sqliteHolding(ctx, q, model.CashTicker)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return h.Quantity, nil
}

func (s *SQLiteStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, ticker, side, quantity, price, asset_kind, ts FROM orders ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var (
			o          model.Order
			side, kind string
			ts         int64
		)
		if err := rows.Scan(&o.Seq, &o.ID, &o.Ticker, &side, &o.Quantity, &o.ExecutionPrice, &kind, &ts); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if o.Side, err = model.ParseSide(side); err != nil {
			return nil, err
		}
		if o.Kind, err = model.ParseAssetKind(kind); err != nil {
			return nil, err
		}
		o.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanHolding(row rowScanner) (*model.Holding, error) {
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

func scanSnapshot(row rowScanner) (*model.PriceSnapshot, error) {
	var (
		p    model.PriceSnapshot
		kind string
		ts   int64
	)
	if err := row.Scan(&p.Seq, &p.Ticker, &p.Name, &p.Price, &ts, &kind); err != nil {
		return nil, err
	}
	var err error
	if p.Kind, err = model.ParseAssetKind(kind); err != nil {
		return nil, err
	}
	p.Timestamp = time.Unix(0, ts).UTC()
	return &p, nil
}
