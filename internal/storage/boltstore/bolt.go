package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"pasteit/internal/storage"
)

var (
	pasteBucket = []byte(storage.PastesTable.Name)
	metaBucket  = []byte(storage.VersionTable)
)

// record is the JSON document kept per paste. Created uses the shared text layout.
type record struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	Language  string `json:"language"`
	Password  string `json:"password"`
	Temporary bool   `json:"temporary"`
	Created   string `json:"created"`
}

func toRecord(p *storage.Paste) record {
	return record{
		ID:        p.ID,
		Content:   p.Content,
		Author:    p.Author,
		Language:  p.Language,
		Password:  p.PasswordHash,
		Temporary: p.Temporary,
		Created:   storage.FormatTime(p.Created),
	}
}

func (r record) paste() (*storage.Paste, error) {
	created, err := storage.ParseTime(r.Created)
	if err != nil {
		return nil, err
	}
	return &storage.Paste{
		ID:           r.ID,
		Content:      r.Content,
		Author:       r.Author,
		Language:     r.Language,
		PasswordHash: r.Password,
		Temporary:    r.Temporary,
		Created:      created,
	}, nil
}

// Store implements storage.Store backed by BoltDB.
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open opens the BoltDB file located at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// EnsureSchema creates the paste bucket, wiping it when its recorded version
// differs from the current layout.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		want := []byte(strconv.Itoa(storage.PastesTable.Version))
		have := meta.Get(pasteBucket)
		existing := tx.Bucket(pasteBucket)

		if existing != nil && bytes.Equal(have, want) {
			return nil
		}
		if existing != nil && have != nil {
			s.logger.Warn().
				Str("table", storage.PastesTable.Name).
				Str("installed_version", string(have)).
				Int("expected_version", storage.PastesTable.Version).
				Msg("schema mismatch, recreating bucket; existing rows are discarded")
			if err := tx.DeleteBucket(pasteBucket); err != nil {
				return fmt.Errorf("drop paste bucket: %w", err)
			}
		} else if existing != nil {
			s.logger.Info().Str("table", storage.PastesTable.Name).Msg("adopting unversioned bucket")
		}
		if _, err := tx.CreateBucketIfNotExists(pasteBucket); err != nil {
			return fmt.Errorf("create paste bucket: %w", err)
		}
		return meta.Put(pasteBucket, want)
	})
	return storage.Wrap("ensure schema", err)
}

func (s *Store) put(ctx context.Context, op string, paste *storage.Paste, mustExist bool) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(toRecord(paste))
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return storage.Wrap(op, errors.New("pastes bucket missing"))
		}
		exists := bucket.Get([]byte(paste.ID)) != nil
		switch {
		case mustExist && !exists:
			return storage.ErrNotFound
		case !mustExist && exists:
			return storage.Wrap(op, storage.ErrConflict)
		}
		return storage.Wrap(op, bucket.Put([]byte(paste.ID), data))
	})
}

// Insert stores a new paste.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	return s.put(ctx, "insert", paste, false)
}

// Update replaces an existing paste.
func (s *Store) Update(ctx context.Context, paste *storage.Paste) error {
	return s.put(ctx, "update", paste, true)
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *storage.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal paste: %w", err)
		}
		p, err := rec.paste()
		out = p
		return err
	})
	return out, storage.Wrap("get", err)
}

// All returns every stored paste in key order.
func (s *Store) All(ctx context.Context) ([]*storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*storage.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		return bucket.ForEach(func(_, raw []byte) error {
			var rec record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("unmarshal paste: %w", err)
			}
			p, err := rec.paste()
			if err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, storage.Wrap("all", err)
}

// Exists reports whether id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		found = bucket.Get([]byte(id)) != nil
		return nil
	})
	return found, storage.Wrap("exists", err)
}

// Delete removes a paste.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		if bucket.Get([]byte(id)) == nil {
			return storage.ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
	return storage.Wrap("delete", err)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
