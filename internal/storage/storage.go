package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a paste does not exist.
	ErrNotFound = errors.New("paste not found")
	// ErrConflict is returned when inserting an id that is already stored.
	ErrConflict = errors.New("paste already exists")
)

// TimeLayout is the fixed text format of the created column.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Paste is one stored row. Every backend reads and writes the fields in this order.
type Paste struct {
	ID           string
	Content      string
	Author       string
	Language     string
	PasswordHash string
	Temporary    bool
	Created      time.Time
}

// FormatTime renders t in the stored created format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a created value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created %q: %w", s, err)
	}
	return t, nil
}

// Store defines the storage backend contract.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, paste *Paste) error
	Update(ctx context.Context, paste *Paste) error
	Get(ctx context.Context, id string) (*Paste, error)
	All(ctx context.Context) ([]*Paste, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Error reports a failed backend operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err as a storage failure of op. ErrNotFound passes through
// untouched since a missing row is an answer, not a failure.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStorageError reports whether err came from a failing backend.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// Row is satisfied by *sql.Row, *sql.Rows and pgx rows.
type Row interface {
	Scan(dest ...any) error
}

// InsertArgs returns bind values in PastesTable column order.
func (p *Paste) InsertArgs() []any {
	return []any{p.ID, p.Content, p.Author, p.Language, p.PasswordHash, p.Temporary, FormatTime(p.Created)}
}

// UpdateArgs returns bind values for Statements.Update: every non-key column, then the id.
func (p *Paste) UpdateArgs() []any {
	return []any{p.Content, p.Author, p.Language, p.PasswordHash, p.Temporary, FormatTime(p.Created), p.ID}
}

// ScanPaste reads one row selected in PastesTable column order.
func ScanPaste(row Row) (*Paste, error) {
	var (
		p       Paste
		created string
	)
	if err := row.Scan(&p.ID, &p.Content, &p.Author, &p.Language, &p.PasswordHash, &p.Temporary, &created); err != nil {
		return nil, err
	}
	t, err := ParseTime(created)
	if err != nil {
		return nil, err
	}
	p.Created = t
	return &p, nil
}
