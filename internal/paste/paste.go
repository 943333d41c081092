package paste

import (
	"context"
	"errors"
	"sync"
	"time"

	"pasteit/internal/metrics"
	"pasteit/internal/security"
	"pasteit/internal/storage"
)

// DisplayLayout formats creation times for rendering.
const DisplayLayout = "2006-01-02 15:04:05"

// Paste is one live paste held by a Repository. Its mutable fields are
// guarded by its own lock; the repository index is guarded separately.
type Paste struct {
	repo *Repository

	mu           sync.Mutex
	id           string
	content      string
	author       string
	language     string
	passwordHash string
	temporary    bool
	created      time.Time
	deleted      bool
}

func (r *Repository) entity(row *storage.Paste) *Paste {
	return &Paste{
		repo:         r,
		id:           row.ID,
		content:      row.Content,
		author:       row.Author,
		language:     row.Language,
		passwordHash: row.PasswordHash,
		temporary:    row.Temporary,
		created:      row.Created,
	}
}

func (p *Paste) rowLocked() *storage.Paste {
	return &storage.Paste{
		ID:           p.id,
		Content:      p.content,
		Author:       p.author,
		Language:     p.language,
		PasswordHash: p.passwordHash,
		Temporary:    p.temporary,
		Created:      p.created,
	}
}

// ID returns the paste identifier.
func (p *Paste) ID() string { return p.id }

func (p *Paste) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

func (p *Paste) Author() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.author
}

// Language returns the syntax tag, GuessLanguage when unset.
func (p *Paste) Language() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.language
}

func (p *Paste) Created() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// CreatedAt returns the creation time formatted for display.
func (p *Paste) CreatedAt() string {
	return p.Created().Format(DisplayLayout)
}

func (p *Paste) Temporary() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temporary
}

// ExpiresAt returns the deletion deadline of a temporary paste.
func (p *Paste) ExpiresAt() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.temporary {
		return time.Time{}, false
	}
	return p.expiresAtLocked(), true
}

func (p *Paste) expiresAtLocked() time.Time {
	return p.created.Add(p.repo.retention)
}

func (p *Paste) overdueLocked(now time.Time) bool {
	return p.temporary && !now.Before(p.expiresAtLocked())
}

// IsPasswordProtected reports whether reading the paste needs a password.
func (p *Paste) IsPasswordProtected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passwordHash != ""
}

// CheckPassword hashes candidate with the stored scheme and compares. Public
// pastes accept any candidate.
func (p *Paste) CheckPassword(candidate string) bool {
	p.mu.Lock()
	hash := p.passwordHash
	p.mu.Unlock()
	if hash == "" {
		return true
	}
	ok, err := security.VerifyPassword(hash, candidate)
	if err != nil {
		p.repo.log.Warn().Err(err).Str("id", p.id).Msg("unreadable password hash")
		return false
	}
	return ok
}

// Save writes the full row, inserting it if the store lost it.
func (p *Paste) Save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return ErrNotFound
	}
	return p.saveLocked(ctx)
}

func (p *Paste) saveLocked(ctx context.Context) error {
	row := p.rowLocked()
	err := p.repo.store.Update(ctx, row)
	if errors.Is(err, storage.ErrNotFound) {
		err = p.repo.store.Insert(ctx, row)
	}
	return err
}

// Delete cancels the timer, removes the row and drops the paste from the
// index. Deleting an already deleted paste is a no-op.
func (p *Paste) Delete(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleteLocked(ctx, metrics.ReasonUser)
}

func (p *Paste) deleteLocked(ctx context.Context, reason string) error {
	if p.deleted {
		return nil
	}
	p.deleted = true
	if p.temporary && !p.repo.sched.Cancel(p.id) {
		p.repo.log.Debug().Str("id", p.id).Msg("no pending timer to cancel")
	}
	if err := p.repo.store.Delete(ctx, p.id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		// Left unarmed; an overdue paste is still caught by Get and Sweep.
		p.deleted = false
		return err
	}
	p.repo.remove(p, reason)
	return nil
}

// expire deletes a temporary paste whose deadline passed. A non-zero at must
// match the current deadline, which filters out fires from superseded timers.
func (p *Paste) expire(ctx context.Context, at time.Time, reason string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted || !p.temporary {
		return false, nil
	}
	if !at.IsZero() && !at.Equal(p.expiresAtLocked()) {
		return false, nil
	}
	if at.IsZero() && !p.overdueLocked(p.repo.now()) {
		return false, nil
	}
	if err := p.deleteLocked(ctx, reason); err != nil {
		return false, err
	}
	return true, nil
}

// ToggleTemporary flips between temporary and permanent. Becoming temporary
// restarts the retention window from now. On a store failure the paste keeps
// its previous state.
func (p *Paste) ToggleTemporary(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return ErrNotFound
	}
	wasTemporary, wasCreated := p.temporary, p.created
	if p.temporary {
		p.temporary = false
	} else {
		p.temporary = true
		p.created = p.repo.timestamp()
	}
	if err := p.saveLocked(ctx); err != nil {
		p.temporary, p.created = wasTemporary, wasCreated
		return err
	}
	if p.temporary {
		p.repo.sched.Arm(p.id, p.expiresAtLocked())
	} else {
		p.repo.sched.Cancel(p.id)
	}
	return nil
}
