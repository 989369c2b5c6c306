package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
)

const (
	selectEntity = `SELECT doc FROM entities WHERE kind = ? AND tenant_id = ? AND id = ?`
	selectOwner  = `SELECT tenant_id FROM entities WHERE kind = ? AND id = ?`
	upsertEntity = `INSERT INTO entities (kind, id, tenant_id, scope_key, doc, updated_ns)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (kind, id) DO UPDATE SET
	scope_key = excluded.scope_key,
	doc = excluded.doc,
	updated_ns = excluded.updated_ns
WHERE entities.tenant_id = excluded.tenant_id`
	deleteEntity   = `DELETE FROM entities WHERE kind = ? AND tenant_id = ? AND id = ?`
	listEntities   = `SELECT doc FROM entities WHERE kind = ? AND tenant_id = ? ORDER BY id`
	listEntitiesIn = `SELECT doc FROM entities WHERE kind = ? AND tenant_id = ? AND scope_key = ? ORDER BY id`
	listKind       = `SELECT doc FROM entities WHERE kind = ? ORDER BY tenant_id, id`
)

// Repository implements tenant.Repository for one entity kind. Entities are
// stored as msgpack documents in the shared entities table. Every query
// carries the tenant predicate, and Put refuses, in the same statement, to
// overwrite a row owned by another tenant.
type Repository[E tenant.Entity] struct {
	db   *DB
	kind string
	now  func() time.Time
}

// NewRepository returns the repository for kind.
func NewRepository[E tenant.Entity](db *DB, kind string) *Repository[E] {
	return &Repository[E]{db: db, kind: kind, now: time.Now}
}

// Get returns the entity with id under tenantID.
func (r *Repository[E]) Get(ctx context.Context, tenantID, id string) (E, bool, error) {
	var zero E
	var doc []byte
	err := r.db.db.QueryRowContext(ctx, r.db.rebind(selectEntity), r.kind, tenantID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fault.Unavailable("get "+r.kind, err)
	}
	e, err := r.decode(doc)
	if err != nil {
		return zero, false, err
	}
	return e, true, nil
}

// Owner returns the tenant owning id.
func (r *Repository[E]) Owner(ctx context.Context, id string) (string, bool, error) {
	var owner string
	err := r.db.db.QueryRowContext(ctx, r.db.rebind(selectOwner), r.kind, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fault.Unavailable("get "+r.kind+" owner", err)
	}
	return owner, true, nil
}

// Put upserts e. Zero affected rows means the id exists under another
// tenant, which fails with fault.ErrTenantIsolation.
func (r *Repository[E]) Put(ctx context.Context, e E) error {
	doc, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", r.kind, e.EntityID(), err)
	}
	res, err := r.db.db.ExecContext(ctx, r.db.rebind(upsertEntity),
		r.kind,
		e.EntityID(),
		e.EntityTenant(),
		e.EntityScope().Key(),
		doc,
		r.now().UnixNano(),
	)
	if err != nil {
		return fault.Unavailable("put "+r.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault.Unavailable("put "+r.kind, err)
	}
	if n == 0 {
		owner, _, _ := r.Owner(ctx, e.EntityID())
		return fault.TenantMismatch(fmt.Sprintf("%s %q", r.kind, e.EntityID()), e.EntityTenant(), owner)
	}
	return nil
}

// Remove deletes id under tenantID.
func (r *Repository[E]) Remove(ctx context.Context, tenantID, id string) (bool, error) {
	res, err := r.db.db.ExecContext(ctx, r.db.rebind(deleteEntity), r.kind, tenantID, id)
	if err != nil {
		return false, fault.Unavailable("delete "+r.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Unavailable("delete "+r.kind, err)
	}
	return n > 0, nil
}

// List returns tenantID's entities selected by sel, ordered by id.
func (r *Repository[E]) List(ctx context.Context, tenantID string, sel tenant.Selector) ([]E, error) {
	query, args := listEntities, []any{r.kind, tenantID}
	if !sel.All() {
		query, args = listEntitiesIn, append(args, sel.Key())
	}
	return r.list(ctx, query, args...)
}

// All returns every entity of the kind across tenants, ordered by tenant
// and id. It is meant for operator jobs such as retention planning.
func (r *Repository[E]) All(ctx context.Context) ([]E, error) {
	return r.list(ctx, listKind, r.kind)
}

func (r *Repository[E]) list(ctx context.Context, query string, args ...any) ([]E, error) {
	rows, err := r.db.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fault.Unavailable("list "+r.kind, err)
	}
	defer rows.Close()

	var out []E
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fault.Unavailable("scan "+r.kind, err)
		}
		e, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Unavailable("list "+r.kind, err)
	}
	return out, nil
}

func (r *Repository[E]) decode(doc []byte) (E, error) {
	var e E
	if err := msgpack.Unmarshal(doc, &e); err != nil {
		return e, fmt.Errorf("decode %s: %w", r.kind, err)
	}
	return e, nil
}

var _ tenant.Repository[tenant.Entity] = (*Repository[tenant.Entity])(nil)
