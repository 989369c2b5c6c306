package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
)

var errStoreClosed = errors.New("store closed")

// key is the composite (tenant, id) index of a Repository.
type key struct {
	tenantID string
	id       string
}

// Repository implements tenant.Repository with an arena indexed by
// (tenantID, id) and an id -> owner index for cross-tenant conflict checks.
// Thread-safe for concurrent access.
type Repository[E tenant.Entity] struct {
	mu     sync.RWMutex
	items  map[key]E
	owners map[string]string
	closed bool
}

// NewRepository creates an empty in-memory repository.
func NewRepository[E tenant.Entity]() *Repository[E] {
	return &Repository[E]{
		items:  make(map[key]E),
		owners: make(map[string]string),
	}
}

// Get returns the entity stored under (tenantID, id).
func (r *Repository[E]) Get(ctx context.Context, tenantID, id string) (E, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero E
	if r.closed {
		return zero, false, fault.Unavailable("get entity", errStoreClosed)
	}
	e, ok := r.items[key{tenantID: tenantID, id: id}]
	return e, ok, nil
}

// Owner returns the tenant owning id.
func (r *Repository[E]) Owner(ctx context.Context, id string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return "", false, fault.Unavailable("get owner", errStoreClosed)
	}
	owner, ok := r.owners[id]
	return owner, ok, nil
}

// Put inserts or replaces e, failing if id is owned by another tenant.
func (r *Repository[E]) Put(ctx context.Context, e E) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fault.Unavailable("put entity", errStoreClosed)
	}
	id, tenantID := e.EntityID(), e.EntityTenant()
	if owner, ok := r.owners[id]; ok && owner != tenantID {
		return fault.TenantMismatch("entity "+id, tenantID, owner)
	}
	r.items[key{tenantID: tenantID, id: id}] = e
	r.owners[id] = tenantID
	return nil
}

// Remove deletes (tenantID, id) if present.
func (r *Repository[E]) Remove(ctx context.Context, tenantID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, fault.Unavailable("remove entity", errStoreClosed)
	}
	k := key{tenantID: tenantID, id: id}
	if _, ok := r.items[k]; !ok {
		return false, nil
	}
	delete(r.items, k)
	delete(r.owners, id)
	return true, nil
}

// List returns tenantID's entities selected by sel, sorted by id.
func (r *Repository[E]) List(ctx context.Context, tenantID string, sel tenant.Selector) ([]E, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fault.Unavailable("list entities", errStoreClosed)
	}
	var out []E
	for k, e := range r.items {
		if k.tenantID != tenantID || !sel.Matches(e.EntityScope()) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out, nil
}

// All returns every stored entity across tenants, ordered by tenant and id.
func (r *Repository[E]) All(ctx context.Context) ([]E, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fault.Unavailable("list entities", errStoreClosed)
	}
	out := make([]E, 0, len(r.items))
	for _, e := range r.items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityTenant() != out[j].EntityTenant() {
			return out[i].EntityTenant() < out[j].EntityTenant()
		}
		return out[i].EntityID() < out[j].EntityID()
	})
	return out, nil
}

// Size returns the number of stored entities.
func (r *Repository[E]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Close makes every subsequent call fail with fault.ErrStorageUnavailable.
func (r *Repository[E]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var _ tenant.Repository[tenant.Entity] = (*Repository[tenant.Entity])(nil)
