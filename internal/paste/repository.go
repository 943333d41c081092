package paste

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pasteit/internal/id"
	"pasteit/internal/metrics"
	"pasteit/internal/security"
	"pasteit/internal/storage"
)

// DefaultRetention is how long a temporary paste lives.
const DefaultRetention = 3 * time.Hour

// Config wires a Repository.
type Config struct {
	Store     storage.Store
	IDs       *id.Generator
	Retention time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// CreateParams is the input of Create. Password is the plaintext secret;
// empty means public.
type CreateParams struct {
	Content   string
	Password  string
	Author    string
	Language  string
	Temporary bool
}

// Repository is the in-memory index of live pastes backed by a Store.
type Repository struct {
	store     storage.Store
	ids       *id.Generator
	sched     *Scheduler
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	pastes map[string]*Paste
}

// New constructs an empty Repository. Call Scan once to load stored pastes.
func New(cfg Config) (*Repository, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.IDs == nil {
		cfg.IDs = id.New(0)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Repository{
		store:     cfg.Store,
		ids:       cfg.IDs,
		retention: cfg.Retention,
		log:       cfg.Logger,
		now:       cfg.Now,
		pastes:    make(map[string]*Paste),
	}
	r.sched = NewScheduler(r.onFire, cfg.Now)
	return r, nil
}

// Retention returns the lifetime of temporary pastes.
func (r *Repository) Retention() time.Duration { return r.retention }

// timestamp is the current time at the precision the store keeps.
func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Scan loads every stored paste into the index, deleting temporary pastes
// whose window already elapsed.
func (r *Repository) Scan(ctx context.Context) error {
	rows, err := r.store.All(ctx)
	if err != nil {
		return fmt.Errorf("scan pastes: %w", err)
	}
	var loaded, purged int
	for _, row := range rows {
		if _, err := r.adopt(ctx, row); err != nil {
			if errors.Is(err, ErrExpired) {
				purged++
				continue
			}
			return fmt.Errorf("scan pastes: %w", err)
		}
		loaded++
	}
	r.log.Info().Int("loaded", loaded).Int("purged", purged).Msg("paste index populated")
	return nil
}

// Load reads one paste from the store into the index. Expired temporary
// pastes are deleted and reported as ErrExpired.
func (r *Repository) Load(ctx context.Context, id string) (*Paste, error) {
	row, err := r.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.adopt(ctx, row)
}

func (r *Repository) adopt(ctx context.Context, row *storage.Paste) (*Paste, error) {
	r.mu.Lock()
	existing := r.pastes[row.ID]
	r.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	p := r.entity(row)
	if p.temporary {
		elapsed := r.now().Sub(p.created)
		if elapsed >= r.retention {
			p.mu.Lock()
			err := p.deleteLocked(ctx, metrics.ReasonStale)
			p.mu.Unlock()
			if err != nil {
				return nil, err
			}
			r.log.Info().Str("id", p.id).Dur("age", elapsed).Msg("purged stale temporary paste")
			return nil, ErrExpired
		}
	}
	deadline := p.expiresAtLocked()
	if winner, ok := r.insert(p); !ok {
		return winner, nil
	}
	if p.temporary {
		r.sched.Arm(p.id, deadline)
	}
	return p, nil
}

// Create validates input, stores a new paste and returns its id.
func (r *Repository) Create(ctx context.Context, params CreateParams) (string, error) {
	if err := validateContent(params.Content); err != nil {
		return "", err
	}
	author, err := normalizeAuthor(params.Author)
	if err != nil {
		return "", err
	}
	hash, err := security.HashPassword(params.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	for attempt := 0; ; attempt++ {
		pid, err := r.ids.Generate(ctx, r.taken)
		if err != nil {
			return "", err
		}
		row := &storage.Paste{
			ID:           pid,
			Content:      params.Content,
			Author:       author,
			Language:     normalizeLanguage(params.Language),
			PasswordHash: hash,
			Temporary:    params.Temporary,
			Created:      r.timestamp(),
		}
		err = r.store.Insert(ctx, row)
		if errors.Is(err, storage.ErrConflict) && attempt < 3 {
			continue
		}
		if err != nil {
			return "", err
		}

		p := r.entity(row)
		deadline := p.expiresAtLocked()
		r.insert(p)
		if row.Temporary {
			r.sched.Arm(p.id, deadline)
		}
		metrics.PastesCreated.Inc()
		r.log.Debug().Str("id", p.id).Bool("temporary", row.Temporary).Bool("protected", hash != "").Msg("paste created")
		return p.id, nil
	}
}

func (r *Repository) taken(ctx context.Context, candidate string) (bool, error) {
	r.mu.Lock()
	_, ok := r.pastes[candidate]
	r.mu.Unlock()
	if ok {
		return true, nil
	}
	return r.store.Exists(ctx, candidate)
}

// Get returns the live paste for id. A temporary paste whose deadline passed
// before its timer ran is deleted and reported as ErrExpired.
func (r *Repository) Get(ctx context.Context, id string) (*Paste, error) {
	r.mu.Lock()
	p := r.pastes[id]
	r.mu.Unlock()
	if p == nil {
		return nil, ErrNotFound
	}
	expired, err := p.expire(ctx, time.Time{}, metrics.ReasonStale)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrExpired
	}
	p.mu.Lock()
	deleted := p.deleted
	p.mu.Unlock()
	if deleted {
		return nil, ErrNotFound
	}
	return p, nil
}

// Len returns the number of indexed pastes.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pastes)
}

// Sweep deletes every temporary paste whose deadline has passed. Timers
// normally do this; Sweep catches fires lost to store failures.
func (r *Repository) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	snapshot := make([]*Paste, 0, len(r.pastes))
	for _, p := range r.pastes {
		snapshot = append(snapshot, p)
	}
	r.mu.Unlock()

	removed := 0
	var errs []error
	for _, p := range snapshot {
		ok, err := p.expire(ctx, time.Time{}, metrics.ReasonSweep)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Close cancels every pending timer. Stored pastes are untouched.
func (r *Repository) Close() {
	r.sched.Stop()
}

func (r *Repository) onFire(id string, at time.Time) {
	r.mu.Lock()
	p := r.pastes[id]
	r.mu.Unlock()
	if p == nil {
		return
	}
	ok, err := p.expire(context.Background(), at, metrics.ReasonTimer)
	if err != nil {
		r.log.Error().Err(err).Str("id", id).Msg("expire paste")
		return
	}
	if ok {
		r.log.Info().Str("id", id).Msg("temporary paste expired")
	}
}

// insert indexes p unless another entity already holds its id, in which case
// that entity is returned with false.
func (r *Repository) insert(p *Paste) (*Paste, bool) {
	r.mu.Lock()
	if existing, ok := r.pastes[p.id]; ok {
		r.mu.Unlock()
		return existing, false
	}
	r.pastes[p.id] = p
	n := len(r.pastes)
	r.mu.Unlock()
	metrics.PastesActive.Set(float64(n))
	return p, true
}

// remove drops p from the index. Called by Paste.deleteLocked.
func (r *Repository) remove(p *Paste, reason string) {
	r.mu.Lock()
	if r.pastes[p.id] == p {
		delete(r.pastes, p.id)
	}
	n := len(r.pastes)
	r.mu.Unlock()
	metrics.PastesActive.Set(float64(n))
	metrics.PastesDeleted.WithLabelValues(reason).Inc()
}
