package policy

import (
	"context"
	"errors"
)

// ErrContextNotFound is returned when no context exists for a scope.
var ErrContextNotFound = errors.New("policy context not found")

// ContextStore looks up policy contexts per tenant and scope.
// Interface owned by domain per hexagonal architecture.
type ContextStore interface {
	// Lookup returns the context for (tenantID, scope, scopeID), or
	// ErrContextNotFound. The returned context is a copy.
	Lookup(ctx context.Context, tenantID string, scope Scope, scopeID string) (*Context, error)
}
