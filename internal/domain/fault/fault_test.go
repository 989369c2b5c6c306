package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestAccessDeniedError(t *testing.T) {
	t.Parallel()

	var err error = &AccessDeniedError{Action: "TASK_CREATE", Reason: "Explicitly denied by policy"}
	wrapped := fmt.Errorf("run command: %w", err)

	if !errors.Is(wrapped, ErrAccessDenied) {
		t.Error("errors.Is(wrapped, ErrAccessDenied) = false")
	}
	var denied *AccessDeniedError
	if !errors.As(wrapped, &denied) {
		t.Fatal("errors.As(*AccessDeniedError) = false")
	}
	if denied.Reason != "Explicitly denied by policy" {
		t.Errorf("Reason = %q", denied.Reason)
	}
	if errors.Is(wrapped, ErrTenantIsolation) {
		t.Error("access denial must not match ErrTenantIsolation")
	}
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&AccessDeniedError{Reason: "x"}, "access_denied"},
		{TenantMismatch("task a", "t1", "t2"), "tenant_isolation"},
		{Unavailable("insert", errors.New("connection refused")), "storage_unavailable"},
		{fmt.Errorf("%w: title required", ErrDomainInvariant), "domain_invariant"},
		{ErrAuditImmutable, "audit_immutable"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk I/O error")
	err := Unavailable("append audit events", cause)
	if !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, cause) {
		t.Errorf("Unavailable() = %v, want both sentinel and cause", err)
	}
}
