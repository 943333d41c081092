// Package pgstore provides a Postgres-backed implementation of storage.Store.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"pasteit/internal/storage"
)

var (
	stmts = storage.PastesTable.Statements(func(n int) string { return "$" + strconv.Itoa(n) })

	columnTypes = map[storage.ColumnKind]string{
		storage.KindText: "TEXT",
		storage.KindBool: "BOOLEAN",
	}
)

// Store implements storage.Store using a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPool creates a pgx connection pool for dsn.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// New wraps an existing pool. Close closes the pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Open connects to dsn and returns a store on a fresh pool.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return New(pool, logger), nil
}

// EnsureSchema creates or rebuilds every managed table inside one transaction.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Wrap("ensure schema", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	versions := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s INTEGER NOT NULL)`,
		storage.Quote(storage.VersionTable), storage.Quote("name"), storage.Quote("version"))
	if _, err := tx.Exec(ctx, versions); err != nil {
		return storage.Wrap("ensure schema", err)
	}
	for _, t := range storage.Tables {
		if err := s.ensureTable(ctx, tx, t); err != nil {
			return storage.Wrap("ensure schema", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Wrap("ensure schema", err)
	}
	s.logger.Debug().Msg("postgres schema ensured")
	return nil
}

func (s *Store) ensureTable(ctx context.Context, tx pgx.Tx, t storage.Table) error {
	cols, err := installedColumns(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	installed, recorded, err := installedVersion(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	exists := len(cols) > 0
	if exists && t.SameColumns(cols) {
		if recorded && installed == t.Version {
			return nil
		}
		if !recorded {
			s.logger.Info().Str("table", t.Name).Int("version", t.Version).Msg("adopting unversioned table")
			return setVersion(ctx, tx, t)
		}
	}

	if exists {
		s.logger.Warn().
			Str("table", t.Name).
			Int("installed_version", installed).
			Int("expected_version", t.Version).
			Strs("installed_columns", cols).
			Msg("schema mismatch, recreating table; existing rows are discarded")
	}
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+storage.Quote(t.Name)); err != nil {
		return fmt.Errorf("drop %s: %w", t.Name, err)
	}
	create, err := t.CreateSQL(columnTypes)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, create); err != nil {
		return fmt.Errorf("create %s: %w", t.Name, err)
	}
	return setVersion(ctx, tx, t)
}

func installedColumns(ctx context.Context, tx pgx.Tx, table string) ([]string, error) {
	const q = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position
`
	rows, err := tx.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	return cols, nil
}

func installedVersion(ctx context.Context, tx pgx.Tx, table string) (int, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		storage.Quote("version"), storage.Quote(storage.VersionTable), storage.Quote("name"))
	var v int
	err := tx.QueryRow(ctx, q, table).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read version of %s: %w", table, err)
	}
	return v, true, nil
}

func setVersion(ctx context.Context, tx pgx.Tx, t storage.Table) error {
	q := fmt.Sprintf(`INSERT INTO %[1]s (%[2]s, %[3]s) VALUES ($1, $2) ON CONFLICT (%[2]s) DO UPDATE SET %[3]s = EXCLUDED.%[3]s`,
		storage.Quote(storage.VersionTable), storage.Quote("name"), storage.Quote("version"))
	if _, err := tx.Exec(ctx, q, t.Name, t.Version); err != nil {
		return fmt.Errorf("record version of %s: %w", t.Name, err)
	}
	return nil
}

// Insert adds a new paste. An existing id yields storage.ErrConflict.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	ct, err := s.pool.Exec(ctx, stmts.Insert, paste.InsertArgs()...)
	if err != nil {
		return storage.Wrap("insert", err)
	}
	if ct.RowsAffected() == 0 {
		return storage.Wrap("insert", storage.ErrConflict)
	}
	return nil
}

// Update rewrites an existing paste.
func (s *Store) Update(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	ct, err := s.pool.Exec(ctx, stmts.Update, paste.UpdateArgs()...)
	if err != nil {
		return storage.Wrap("update", err)
	}
	if ct.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	paste, err := storage.ScanPaste(s.pool.QueryRow(ctx, stmts.Get, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Wrap("get", err)
	}
	return paste, nil
}

// All returns every stored paste, oldest first.
func (s *Store) All(ctx context.Context) ([]*storage.Paste, error) {
	rows, err := s.pool.Query(ctx, stmts.All)
	if err != nil {
		return nil, storage.Wrap("all", err)
	}
	defer rows.Close()
	var out []*storage.Paste
	for rows.Next() {
		paste, err := storage.ScanPaste(rows)
		if err != nil {
			return nil, storage.Wrap("all", err)
		}
		out = append(out, paste)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("all", err)
	}
	return out, nil
}

// Exists reports whether id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, stmts.Exists, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap("exists", err)
	}
	return true, nil
}

// Delete removes a paste.
func (s *Store) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, stmts.Delete, id)
	if err != nil {
		return storage.Wrap("delete", err)
	}
	if ct.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
