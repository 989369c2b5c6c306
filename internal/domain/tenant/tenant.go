// Package tenant defines the tenant-isolation contract enforced at the
// data-access boundary.
//
// Every read, write and delete goes through Store, which requires the
// caller to name the tenant and rejects or hides foreign-tenant records
// regardless of how the underlying Repository implemented the lookup. A
// missing tenant predicate in a future backend query therefore cannot leak
// data through this package.
package tenant

import "context"

// Entity is a tenant-owned record. TenantID never changes after creation.
type Entity interface {
	EntityID() string
	EntityTenant() string
	EntityScope() Selector
}

// Selector narrows FindAllByScope to one scope within a tenant, e.g.
// {Type: "BOARD", ID: "b1"}. The zero Selector selects every entity.
type Selector struct {
	Type string
	ID   string
}

// All reports whether s selects every entity of a tenant.
func (s Selector) All() bool { return s.Type == "" && s.ID == "" }

// Key renders s as the scope key stored by backends ("BOARD:b1").
func (s Selector) Key() string {
	if s.All() {
		return ""
	}
	return s.Type + ":" + s.ID
}

// Matches reports whether an entity scope falls under s.
func (s Selector) Matches(scope Selector) bool {
	if s.All() {
		return true
	}
	return s == scope
}

// Repository is the raw persistence contract a backend provides.
// Backends must apply tenant predicates themselves; Store re-checks the
// results as postconditions.
type Repository[E Entity] interface {
	// Get returns the entity with id under tenantID.
	Get(ctx context.Context, tenantID, id string) (E, bool, error)
	// Owner returns the tenant that currently owns id, if any.
	Owner(ctx context.Context, id string) (string, bool, error)
	// Put inserts or replaces e. It must fail with fault.ErrTenantIsolation,
	// atomically with the write, when id is owned by another tenant.
	Put(ctx context.Context, e E) error
	// Remove deletes id under tenantID and reports whether a record was removed.
	Remove(ctx context.Context, tenantID, id string) (bool, error)
	// List returns the entities of tenantID selected by sel.
	List(ctx context.Context, tenantID string, sel Selector) ([]E, error)
}
