// Package fault defines the error taxonomy shared by the policy and audit core.
//
// Callers discriminate outcomes with errors.Is and errors.As:
//
//   - ErrAccessDenied (via *AccessDeniedError): a normal policy denial,
//     always backed by a persisted audit record.
//   - ErrTenantIsolation: a mis-scoped context, store or command. Fatal,
//     never retried, never logged as an access-denied domain event.
//   - ErrStorageUnavailable: transient infrastructure failure.
//   - ErrDomainInvariant: an entity failed structural validation on save.
//   - ErrAuditImmutable: an update was attempted on a stored audit event.
package fault

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrAccessDenied       = errors.New("access denied")
	ErrTenantIsolation    = errors.New("tenant isolation violation")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDomainInvariant    = errors.New("domain invariant violation")
	ErrAuditImmutable     = errors.New("audit events are immutable")
)

// AccessDeniedError is returned by the command pipeline when policy
// evaluation denies a command. Reason is copied from the policy decision.
type AccessDeniedError struct {
	Action string
	Reason string
}

// Error implements error.
func (e *AccessDeniedError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("access denied: %s", e.Reason)
	}
	return fmt.Sprintf("access denied for %s: %s", e.Action, e.Reason)
}

// Is makes errors.Is(err, ErrAccessDenied) match.
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// TenantMismatch builds an ErrTenantIsolation error naming both tenants.
func TenantMismatch(what, want, got string) error {
	return fmt.Errorf("%w: %s belongs to tenant %q, expected %q", ErrTenantIsolation, what, got, want)
}

// Unavailable wraps a driver error as ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// Kind classifies err for logs and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrTenantIsolation):
		return "tenant_isolation"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrDomainInvariant):
		return "domain_invariant"
	case errors.Is(err, ErrAuditImmutable):
		return "audit_immutable"
	default:
		return "error"
	}
}
