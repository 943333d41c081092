package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"pasteit/internal/storage"
)

var (
	stmts = storage.PastesTable.Statements(func(int) string { return "?" })

	columnTypes = map[storage.ColumnKind]string{
		storage.KindText: "TEXT",
		storage.KindBool: "BOOLEAN",
	}
)

// Store implements storage.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open initializes the SQLite database at path. The schema is not touched
// until EnsureSchema is called.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway and this keeps
	// concurrent callers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// EnsureSchema creates or rebuilds every managed table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("ensure schema", err)
	}
	defer func() { _ = tx.Rollback() }()

	versions := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s INTEGER NOT NULL)`,
		storage.Quote(storage.VersionTable), storage.Quote("name"), storage.Quote("version"))
	if _, err := tx.ExecContext(ctx, versions); err != nil {
		return storage.Wrap("ensure schema", err)
	}
	for _, t := range storage.Tables {
		if err := s.ensureTable(ctx, tx, t); err != nil {
			return storage.Wrap("ensure schema", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap("ensure schema", err)
	}
	return nil
}

func (s *Store) ensureTable(ctx context.Context, tx *sql.Tx, t storage.Table) error {
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
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+storage.Quote(t.Name)); err != nil {
		return fmt.Errorf("drop %s: %w", t.Name, err)
	}
	create, err := t.CreateSQL(columnTypes)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create %s: %w", t.Name, err)
	}
	return setVersion(ctx, tx, t)
}

func installedColumns(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func installedVersion(ctx context.Context, tx *sql.Tx, table string) (int, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`,
		storage.Quote("version"), storage.Quote(storage.VersionTable), storage.Quote("name"))
	var v int
	err := tx.QueryRowContext(ctx, q, table).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read version of %s: %w", table, err)
	}
	return v, true, nil
}

func setVersion(ctx context.Context, tx *sql.Tx, t storage.Table) error {
	q := fmt.Sprintf(`INSERT INTO %[1]s (%[2]s, %[3]s) VALUES (?, ?) ON CONFLICT (%[2]s) DO UPDATE SET %[3]s = excluded.%[3]s`,
		storage.Quote(storage.VersionTable), storage.Quote("name"), storage.Quote("version"))
	if _, err := tx.ExecContext(ctx, q, t.Name, t.Version); err != nil {
		return fmt.Errorf("record version of %s: %w", t.Name, err)
	}
	return nil
}

// Insert stores a new paste. An existing id yields storage.ErrConflict.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	res, err := s.db.ExecContext(ctx, stmts.Insert, paste.InsertArgs()...)
	if err != nil {
		return storage.Wrap("insert", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return storage.Wrap("insert", err)
	} else if rows == 0 {
		return storage.Wrap("insert", storage.ErrConflict)
	}
	return nil
}

// Update rewrites every column of an existing paste.
func (s *Store) Update(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	res, err := s.db.ExecContext(ctx, stmts.Update, paste.UpdateArgs()...)
	if err != nil {
		return storage.Wrap("update", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	paste, err := storage.ScanPaste(s.db.QueryRowContext(ctx, stmts.Get, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Wrap("get", err)
	}
	return paste, nil
}

// All returns every stored paste, oldest first.
func (s *Store) All(ctx context.Context) ([]*storage.Paste, error) {
	rows, err := s.db.QueryContext(ctx, stmts.All)
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
	err := s.db.QueryRowContext(ctx, stmts.Exists, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap("exists", err)
	}
	return true, nil
}

// Delete removes a paste by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, stmts.Delete, id)
	if err != nil {
		return storage.Wrap("delete", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
