package identity

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	pending map[string]PendingIdentity
	users   map[string]Identity
	keys    map[string]string
}

// NewMemoryRepository builds an in-memory identity store for testing and local development.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		pending: make(map[string]PendingIdentity),
		users:   make(map[string]Identity),
		keys:    make(map[string]string),
	}
}

func keyOf(field, value string) string { return field + "\x00" + value }

func profileKeys(p Profile) [][2]string {
	return [][2]string{{FieldUsername, p.Username}, {FieldMobile, p.Mobile}, {FieldEmail, p.Email}}
}

// reserve must be called with the write lock held.
func (r *memoryRepository) reserve(owner string, p Profile) error {
	for _, k := range profileKeys(p) {
		if _, taken := r.keys[keyOf(k[0], k[1])]; taken {
			return &DuplicateError{Field: k[0]}
		}
	}
	for _, k := range profileKeys(p) {
		r.keys[keyOf(k[0], k[1])] = owner
	}
	return nil
}

// release must be called with the write lock held.
func (r *memoryRepository) release(p Profile) {
	for _, k := range profileKeys(p) {
		delete(r.keys, keyOf(k[0], k[1]))
	}
}

func (r *memoryRepository) CreatePending(_ context.Context, p PendingIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reserve(p.ID, p.Profile); err != nil {
		return err
	}
	r.pending[p.ID] = p
	return nil
}

func (r *memoryRepository) FindPending(_ context.Context, id string) (PendingIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[id]
	if !ok {
		return PendingIdentity{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) FindPendingByUsername(_ context.Context, username string) (PendingIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pending {
		if p.Username == username {
			return p, nil
		}
	}
	return PendingIdentity{}, ErrNotFound
}

func (r *memoryRepository) ListPending(_ context.Context) ([]PendingIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PendingIdentity, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) ConsumeCode(_ context.Context, pendingID string, ch Channel, code string) (PendingIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[pendingID]
	if !ok {
		return PendingIdentity{}, ErrNotFound
	}
	stored := p.Code(ch)
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return PendingIdentity{}, ErrCodeMismatch
	}
	p.MarkVerified(ch)
	r.pending[pendingID] = p
	return p, nil
}

func (r *memoryRepository) ReplaceCode(_ context.Context, pendingID string, ch Channel, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[pendingID]
	if !ok {
		return ErrNotFound
	}
	if p.Verified(ch) {
		return ErrAlreadyVerified
	}
	p.SetCode(ch, code)
	r.pending[pendingID] = p
	return nil
}

func (r *memoryRepository) DeletePending(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.pending, id)
	r.release(p.Profile)
	return nil
}

func (r *memoryRepository) Promote(_ context.Context, pendingID string, to Status) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[pendingID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	now := time.Now().UTC()
	ident := Identity{
		ID:        p.ID,
		Profile:   p.Profile,
		Role:      RoleNormal,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ident.Status = to
	delete(r.pending, pendingID)
	r.users[ident.Username] = ident
	return ident, nil
}

func (r *memoryRepository) PurgeExpiredPending(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, p := range r.pending {
		if p.CreatedAt.Before(before) {
			delete(r.pending, id)
			r.release(p.Profile)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) CreateIdentity(_ context.Context, ident Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reserve(ident.ID, ident.Profile); err != nil {
		return err
	}
	r.users[ident.Username] = ident
	return nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.users[username]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, username string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.users[username]
	if !ok {
		return ErrNotFound
	}
	if ident.Status != from {
		return ErrStatusMismatch
	}
	ident.Status = to
	ident.UpdatedAt = time.Now().UTC()
	r.users[username] = ident
	return nil
}

func (r *memoryRepository) MarkSynced(_ context.Context, username string, synced bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.users[username]
	if !ok {
		return ErrNotFound
	}
	ident.PolicyholderSynced = synced
	ident.UpdatedAt = time.Now().UTC()
	r.users[username] = ident
	return nil
}
