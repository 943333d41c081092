package paste

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pasteit/internal/security"
	"pasteit/internal/storage"
)

type memoryStore struct {
	mu        sync.Mutex
	rows      map[string]storage.Paste
	deletes   int
	failWrite error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]storage.Paste)}
}

func (m *memoryStore) EnsureSchema(context.Context) error { return nil }

func (m *memoryStore) Insert(_ context.Context, p *storage.Paste) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return storage.Wrap("insert", m.failWrite)
	}
	if _, ok := m.rows[p.ID]; ok {
		return storage.Wrap("insert", storage.ErrConflict)
	}
	m.rows[p.ID] = *p
	return nil
}

func (m *memoryStore) Update(_ context.Context, p *storage.Paste) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return storage.Wrap("update", m.failWrite)
	}
	if _, ok := m.rows[p.ID]; !ok {
		return storage.ErrNotFound
	}
	m.rows[p.ID] = *p
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*storage.Paste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &row, nil
}

func (m *memoryStore) All(context.Context) ([]*storage.Paste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.Paste, 0, len(m.rows))
	for _, row := range m.rows {
		row := row
		out = append(out, &row)
	}
	return out, nil
}

func (m *memoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return storage.Wrap("delete", m.failWrite)
	}
	if _, ok := m.rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.rows, id)
	m.deletes++
	return nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) has(id string) bool {
	ok, _ := m.Exists(context.Background(), id)
	return ok
}

func (m *memoryStore) deleteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

func (m *memoryStore) setFail(err error) {
	m.mu.Lock()
	m.failWrite = err
	m.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRepo(t *testing.T, store storage.Store, retention time.Duration, now func() time.Time) *Repository {
	t.Helper()
	repo, err := New(Config{Store: store, Retention: retention, Logger: zerolog.Nop(), Now: now})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestCreateIDsAreUnique(t *testing.T) {
	repo := newRepo(t, newMemoryStore(), 0, nil)
	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		pid, err := repo.Create(context.Background(), CreateParams{Content: "x", Author: "A"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[pid] {
			t.Fatalf("duplicate id %s", pid)
		}
		seen[pid] = true
	}
	if repo.Len() != 300 {
		t.Fatalf("expected 300 indexed pastes, got %d", repo.Len())
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	store := newMemoryStore()
	repo := newRepo(t, store, 0, nil)
	ctx := context.Background()

	pid, err := repo.Create(ctx, CreateParams{Content: "x", Author: "A", Language: "Text"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err := repo.Get(ctx, pid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Content() != "x" || p.Author() != "A" || p.Language() != "text" {
		t.Fatalf("unexpected paste %q %q %q", p.Content(), p.Author(), p.Language())
	}
	if p.IsPasswordProtected() || p.Temporary() {
		t.Fatalf("expected public permanent paste")
	}
	if !store.has(pid) {
		t.Fatalf("expected row in store")
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLanguageDefaultsToGuess(t *testing.T) {
	repo := newRepo(t, newMemoryStore(), 0, nil)
	pid, err := repo.Create(context.Background(), CreateParams{Content: "x", Author: "A"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, _ := repo.Get(context.Background(), pid)
	if p.Language() != GuessLanguage {
		t.Fatalf("expected %q, got %q", GuessLanguage, p.Language())
	}
}

func TestPasswordGating(t *testing.T) {
	store := newMemoryStore()
	repo := newRepo(t, store, 0, nil)
	pid, err := repo.Create(context.Background(), CreateParams{Content: "x", Author: "A", Password: "secret"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, _ := repo.Get(context.Background(), pid)
	if !p.IsPasswordProtected() {
		t.Fatalf("expected protected paste")
	}
	if !p.CheckPassword("secret") {
		t.Fatalf("expected correct password to pass")
	}
	if p.CheckPassword("wrong") {
		t.Fatalf("expected wrong password to fail")
	}
	row, _ := store.Get(context.Background(), pid)
	if row.PasswordHash == "secret" || row.PasswordHash == "" {
		t.Fatalf("expected hashed password in store, got %q", row.PasswordHash)
	}
}

func TestCreateValidation(t *testing.T) {
	repo := newRepo(t, newMemoryStore(), 0, nil)
	ctx := context.Background()

	_, err := repo.Create(ctx, CreateParams{Content: "x", Author: "bad<>name"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "author" || ve.Error() != "Invalid author" {
		t.Fatalf("expected author validation error, got %v", err)
	}
	if _, err := repo.Create(ctx, CreateParams{Content: "x", Author: ""}); !IsValidation(err) {
		t.Fatalf("expected empty author to fail, got %v", err)
	}
	if _, err := repo.Create(ctx, CreateParams{Content: "   ", Author: "A"}); !IsValidation(err) {
		t.Fatalf("expected empty content to fail, got %v", err)
	}
	for _, author := range []string{"Jean-Luc O'Brien", "Zoë Müller", "J. R. R. Tolkien", "Niccolò 3"} {
		if _, err := repo.Create(ctx, CreateParams{Content: "x", Author: author}); err != nil {
			t.Fatalf("expected %q to be accepted: %v", author, err)
		}
	}
	if repo.Len() != 4 {
		t.Fatalf("rejected creates must not be indexed, len=%d", repo.Len())
	}
}

func TestCreatePropagatesStorageError(t *testing.T) {
	store := newMemoryStore()
	store.setFail(errors.New("connection refused"))
	repo := newRepo(t, store, 0, nil)
	_, err := repo.Create(context.Background(), CreateParams{Content: "x", Author: "A"})
	if !storage.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if repo.Len() != 0 {
		t.Fatalf("failed create must not be indexed")
	}
}

func TestTemporaryPasteExpiresByTimer(t *testing.T) {
	store := newMemoryStore()
	repo := newRepo(t, store, 50*time.Millisecond, nil)
	ctx := context.Background()

	pid, err := repo.Create(ctx, CreateParams{Content: "x", Author: "A", Temporary: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Get(ctx, pid); err != nil {
		t.Fatalf("expected paste before expiry: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !store.has(pid) })
	if _, err := repo.Get(ctx, pid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after expiry, got %v", err)
	}
	if store.deleteCount() != 1 {
		t.Fatalf("expected one deletion, got %d", store.deleteCount())
	}
	if repo.sched.Pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestScanPurgesStaleTemporaryPastes(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	rows := []*storage.Paste{
		{ID: "stale", Content: "x", Author: "A", Language: "text", Temporary: true, Created: now.Add(-4 * time.Hour)},
		{ID: "fresh", Content: "x", Author: "A", Language: "text", Temporary: true, Created: now.Add(-time.Hour)},
		{ID: "old", Content: "x", Author: "A", Language: "text", Created: now.Add(-48 * time.Hour)},
	}
	for _, row := range rows {
		if err := store.Insert(ctx, row); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	repo := newRepo(t, store, 3*time.Hour, nil)
	if err := repo.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if store.has("stale") {
		t.Fatalf("expected stale row deleted from store")
	}
	if _, err := repo.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale paste not found, got %v", err)
	}
	if _, err := repo.Get(ctx, "fresh"); err != nil {
		t.Fatalf("expected fresh paste: %v", err)
	}
	if _, err := repo.Get(ctx, "old"); err != nil {
		t.Fatalf("expected permanent paste: %v", err)
	}
	if repo.Len() != 2 || repo.sched.Pending() != 1 {
		t.Fatalf("unexpected index state len=%d pending=%d", repo.Len(), repo.sched.Pending())
	}
}

func TestLoadReportsExpiredAndMissing(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_ = store.Insert(ctx, &storage.Paste{ID: "gone", Content: "x", Author: "A", Temporary: true, Created: time.Now().Add(-5 * time.Hour)})
	repo := newRepo(t, store, 3*time.Hour, nil)

	if _, err := repo.Load(ctx, "gone"); !errors.Is(err, ErrExpired) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired, got %v", err)
	}
	if store.has("gone") {
		t.Fatalf("expected expired row removed")
	}
	if _, err := repo.Load(ctx, "never"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToggleTemporaryRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	store := newMemoryStore()
	repo := newRepo(t, store, time.Hour, clock.Now)
	ctx := context.Background()

	pid, err := repo.Create(ctx, CreateParams{Content: "x", Author: "A"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, _ := repo.Get(ctx, pid)
	original := p.Created()

	clock.Advance(10 * time.Minute)
	if err := p.ToggleTemporary(ctx); err != nil {
		t.Fatalf("toggle to temporary: %v", err)
	}
	if !p.Temporary() || !p.Created().Equal(original.Add(10*time.Minute)) {
		t.Fatalf("expected created reset on becoming temporary, got %v", p.Created())
	}
	if repo.sched.Pending() != 1 {
		t.Fatalf("expected armed timer")
	}
	reset := p.Created()

	clock.Advance(5 * time.Minute)
	if err := p.ToggleTemporary(ctx); err != nil {
		t.Fatalf("toggle to permanent: %v", err)
	}
	if p.Temporary() || !p.Created().Equal(reset) {
		t.Fatalf("expected permanent with unchanged created")
	}
	if repo.sched.Pending() != 0 {
		t.Fatalf("expected disarmed timer")
	}
	row, _ := store.Get(ctx, pid)
	if row.Temporary || !row.Created.Equal(reset) {
		t.Fatalf("toggle not persisted: %+v", row)
	}
}

func TestToggleKeepsStateOnStoreFailure(t *testing.T) {
	store := newMemoryStore()
	repo := newRepo(t, store, time.Hour, nil)
	ctx := context.Background()
	pid, _ := repo.Create(ctx, CreateParams{Content: "x", Author: "A"})
	p, _ := repo.Get(ctx, pid)
	created := p.Created()

	store.setFail(errors.New("disk full"))
	if err := p.ToggleTemporary(ctx); !storage.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if p.Temporary() || !p.Created().Equal(created) || repo.sched.Pending() != 0 {
		t.Fatalf("expected unchanged paste after failed toggle")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	repo := newRepo(t, store, time.Hour, nil)
	ctx := context.Background()
	pid, _ := repo.Create(ctx, CreateParams{Content: "x", Author: "A", Temporary: true})
	p, _ := repo.Get(ctx, pid)

	if err := p.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := p.Delete(ctx); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if store.deleteCount() != 1 || repo.Len() != 0 || repo.sched.Pending() != 0 {
		t.Fatalf("unexpected state deletes=%d len=%d pending=%d", store.deleteCount(), repo.Len(), repo.sched.Pending())
	}
	if err := p.ToggleTemporary(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected toggle on deleted paste to fail, got %v", err)
	}
}

func TestConcurrentTimerAndUserDelete(t *testing.T) {
	for i := 0; i < 50; i++ {
		store := newMemoryStore()
		repo := newRepo(t, store, time.Hour, nil)
		ctx := context.Background()
		pid, _ := repo.Create(ctx, CreateParams{Content: "x", Author: "A", Temporary: true})
		p, _ := repo.Get(ctx, pid)
		deadline, _ := p.ExpiresAt()

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			repo.onFire(pid, deadline)
		}()
		go func() {
			defer wg.Done()
			errs <- p.Delete(ctx)
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("user delete: %v", err)
			}
		}
		if store.deleteCount() != 1 {
			t.Fatalf("expected exactly one store deletion, got %d", store.deleteCount())
		}
	}
}

func TestStaleTimerFireIsIgnored(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newMemoryStore()
	repo := newRepo(t, store, time.Hour, clock.Now)
	ctx := context.Background()
	pid, _ := repo.Create(ctx, CreateParams{Content: "x", Author: "A", Temporary: true})
	p, _ := repo.Get(ctx, pid)
	first, _ := p.ExpiresAt()

	_ = p.ToggleTemporary(ctx)
	clock.Advance(time.Minute)
	_ = p.ToggleTemporary(ctx)

	repo.onFire(pid, first)
	if !store.has(pid) {
		t.Fatalf("fire for superseded deadline must not delete")
	}
}

func TestGetAndSweepCatchOverduePastes(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newMemoryStore()
	repo := newRepo(t, store, time.Hour, clock.Now)
	ctx := context.Background()
	a, _ := repo.Create(ctx, CreateParams{Content: "x", Author: "A", Temporary: true})
	b, _ := repo.Create(ctx, CreateParams{Content: "x", Author: "A", Temporary: true})
	keep, _ := repo.Create(ctx, CreateParams{Content: "x", Author: "A"})

	clock.Advance(2 * time.Hour)
	if _, err := repo.Get(ctx, a); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected overdue paste to be expired on get, got %v", err)
	}
	removed, err := repo.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 || store.has(b) {
		t.Fatalf("expected sweep to remove %s, removed=%d", b, removed)
	}
	if _, err := repo.Get(ctx, keep); err != nil {
		t.Fatalf("permanent paste must survive: %v", err)
	}
}

func TestCheckPasswordAcceptsLegacyHash(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	const legacy = "e5e9fa1ba31ecd1ae84f75caaa474f3a663f05f4" // sha1("secret")
	if !security.IsLegacyHash(legacy) {
		t.Fatalf("fixture is not a legacy hash")
	}
	_ = store.Insert(ctx, &storage.Paste{ID: "legacy", Content: "x", Author: "A", PasswordHash: legacy, Created: time.Now()})
	repo := newRepo(t, store, 0, nil)
	if err := repo.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	p, err := repo.Get(ctx, "legacy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.CheckPassword("secret") || p.CheckPassword("other") {
		t.Fatalf("legacy hash not honoured")
	}
}
