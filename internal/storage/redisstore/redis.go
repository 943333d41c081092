package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pasteit/internal/storage"
)

var _ storage.Store = (*Store)(nil)

const (
	keyPrefix   = "paste:"
	indexKey    = "pastes:index"
	versionsKey = storage.VersionTable
)

// Store implements storage.Store on Redis hashes. Each paste lives under
// paste:<id> and its id is tracked in a set so the collection can be listed.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// Open connects to Redis and verifies the connection.
func Open(options *redis.Options, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, logger: logger}, nil
}

// EnsureSchema records the collection version, wiping every paste when the
// recorded version differs.
func (s *Store) EnsureSchema(ctx context.Context) error {
	want := strconv.Itoa(storage.PastesTable.Version)
	have, err := s.client.HGet(ctx, versionsKey, storage.PastesTable.Name).Result()
	switch {
	case err == nil && have == want:
		return nil
	case errors.Is(err, redis.Nil):
		if n, err := s.client.SCard(ctx, indexKey).Result(); err != nil {
			return storage.Wrap("ensure schema", err)
		} else if n > 0 {
			s.logger.Info().Str("table", storage.PastesTable.Name).Int64("rows", n).Msg("adopting unversioned collection")
		}
	case err != nil:
		return storage.Wrap("ensure schema", err)
	default:
		s.logger.Warn().
			Str("table", storage.PastesTable.Name).
			Str("installed_version", have).
			Int("expected_version", storage.PastesTable.Version).
			Msg("schema mismatch, recreating collection; existing rows are discarded")
		if err := s.wipe(ctx); err != nil {
			return storage.Wrap("ensure schema", err)
		}
	}
	return storage.Wrap("ensure schema", s.client.HSet(ctx, versionsKey, storage.PastesTable.Name, want).Err())
}

func (s *Store) wipe(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, pasteKey(id))
	}
	keys = append(keys, indexKey)
	return s.client.Del(ctx, keys...).Err()
}

// Insert stores a new paste. An existing id yields storage.ErrConflict.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	key := pasteKey(paste.ID)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return storage.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields(paste))
			pipe.SAdd(ctx, indexKey, paste.ID)
			return nil
		})
		return err
	}
	return storage.Wrap("insert", s.watch(ctx, txf, key))
}

// Update rewrites an existing paste.
func (s *Store) Update(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	key := pasteKey(paste.ID)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields(paste))
			return nil
		})
		return err
	}
	return storage.Wrap("update", s.watch(ctx, txf, key))
}

func (s *Store) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	values, err := s.client.HGetAll(ctx, pasteKey(id)).Result()
	if err != nil {
		return nil, storage.Wrap("get", err)
	}
	if len(values) == 0 {
		return nil, storage.ErrNotFound
	}
	paste, err := decode(id, values)
	return paste, storage.Wrap("get", err)
}

// All returns every stored paste, oldest first.
func (s *Store) All(ctx context.Context) ([]*storage.Paste, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, storage.Wrap("all", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, pasteKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap("all", err)
	}
	out := make([]*storage.Paste, 0, len(ids))
	for i, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		paste, err := decode(ids[i], values)
		if err != nil {
			return nil, storage.Wrap("all", err)
		}
		out = append(out, paste)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// Exists reports whether id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, pasteKey(id)).Result()
	if err != nil {
		return false, storage.Wrap("exists", err)
	}
	return n > 0, nil
}

// Delete removes a paste and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, pasteKey(id))
		pipe.SRem(ctx, indexKey, id)
		return nil
	})
	if err != nil {
		return storage.Wrap("delete", err)
	}
	if del.Val() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func pasteKey(id string) string {
	return keyPrefix + id
}

func fields(p *storage.Paste) map[string]any {
	return map[string]any{
		"content":   p.Content,
		"author":    p.Author,
		"language":  p.Language,
		"password":  p.PasswordHash,
		"temporary": strconv.FormatBool(p.Temporary),
		"created":   storage.FormatTime(p.Created),
	}
}

func decode(id string, values map[string]string) (*storage.Paste, error) {
	temporary, err := strconv.ParseBool(values["temporary"])
	if err != nil {
		return nil, fmt.Errorf("decode temporary of %s: %w", id, err)
	}
	created, err := storage.ParseTime(values["created"])
	if err != nil {
		return nil, err
	}
	return &storage.Paste{
		ID:           id,
		Content:      values["content"],
		Author:       values["author"],
		Language:     values["language"],
		PasswordHash: values["password"],
		Temporary:    temporary,
		Created:      created,
	}, nil
}
