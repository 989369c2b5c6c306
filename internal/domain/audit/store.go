package audit

import (
	"context"
	"time"
)

// Store persists audit events. There is deliberately no way to change a
// stored event: Update exists only to reject the attempt.
// Interface owned by domain per hexagonal architecture.
type Store interface {
	// Append stores fully-formed events. Either every event is appended or
	// none is. Fails with fault.ErrStorageUnavailable when the store is down.
	Append(ctx context.Context, events ...Event) error

	// List returns every stored event in append order.
	List(ctx context.Context) ([]Event, error)

	// Query returns events matching filter in append order.
	Query(ctx context.Context, filter Filter) ([]Event, error)

	// Update always fails with fault.ErrAuditImmutable.
	Update(ctx context.Context, event Event) error

	// CountBefore counts tenantID's events with Timestamp < cutoff.
	CountBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error)

	// DeleteBefore deletes tenantID's events with Timestamp < cutoff and
	// returns how many were removed. Used only by retention.
	DeleteBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error)
}

// Filter specifies query parameters for audit inspection and export.
type Filter struct {
	// TenantID is required for tenant-facing queries; empty matches all tenants.
	TenantID string
	// Action filters by event action (optional).
	Action string
	// ActorID filters by actor (optional).
	ActorID string
	// Outcome filters by policy outcome (optional).
	Outcome Outcome
	// Since is the inclusive lower bound on Timestamp (optional).
	Since time.Time
	// Until is the exclusive upper bound on Timestamp (optional).
	Until time.Time
	// Limit caps the result size; 0 means unlimited.
	Limit int
}

// Matches reports whether e satisfies f, ignoring Limit.
func (f Filter) Matches(e Event) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Outcome != "" && e.PolicyDecision.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
