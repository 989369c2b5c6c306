package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
)

// contextKey indexes contexts by tenant and scope.
type contextKey struct {
	tenantID string
	scope    policy.Scope
	scopeID  string
}

// MemoryContextStore implements policy.ContextStore with an in-memory map.
// Thread-safe for concurrent access. Contexts are copied on the way in and
// out so callers never share rule slices with the store.
type MemoryContextStore struct {
	contexts map[contextKey]policy.Context
	mu       sync.RWMutex
}

// NewContextStore creates an in-memory context store seeded with contexts.
func NewContextStore(contexts ...policy.Context) *MemoryContextStore {
	s := &MemoryContextStore{contexts: make(map[contextKey]policy.Context)}
	for _, c := range contexts {
		s.Put(c)
	}
	return s
}

// Lookup returns a copy of the context for the scope, or policy.ErrContextNotFound.
func (s *MemoryContextStore) Lookup(ctx context.Context, tenantID string, scope policy.Scope, scopeID string) (*policy.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[contextKey{tenantID: tenantID, scope: scope, scopeID: scopeID}]
	if !ok {
		return nil, policy.ErrContextNotFound
	}
	out := c.Clone()
	return &out, nil
}

// Put stores a copy of c, replacing any context for the same scope.
func (s *MemoryContextStore) Put(c policy.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[contextKey{tenantID: c.TenantID, scope: c.Scope, scopeID: c.ScopeID}] = c.Clone()
}

// Remove deletes the context for the scope, if any.
func (s *MemoryContextStore) Remove(tenantID string, scope policy.Scope, scopeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextKey{tenantID: tenantID, scope: scope, scopeID: scopeID})
}

// All returns copies of every context, ordered by tenant, scope and scope id.
func (s *MemoryContextStore) All() []policy.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]policy.Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].ScopeID < out[j].ScopeID
	})
	return out
}

// Compile-time interface verification.
var _ policy.ContextStore = (*MemoryContextStore)(nil)
