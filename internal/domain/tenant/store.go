package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
)

// Validatable is implemented by entities with invariants beyond struct tags.
type Validatable interface {
	Validate() error
}

// ViolationReporter is told about every tenant isolation violation.
// Violations indicate an upstream bug and should page an operator.
type ViolationReporter interface {
	ReportViolation(kind, tenantID, entityID string)
}

// Store is the TenantScopedStore: a Repository wrapped with mandatory
// tenant checks on every operation.
type Store[E Entity] struct {
	repo     Repository[E]
	kind     string
	validate *validator.Validate
	logger   *slog.Logger
	reporter ViolationReporter
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	validate *validator.Validate
	reporter ViolationReporter
}

// WithValidator shares a validator instance across stores.
func WithValidator(v *validator.Validate) StoreOption {
	return func(o *storeOptions) { o.validate = v }
}

// WithViolationReporter registers a reporter for isolation violations.
func WithViolationReporter(r ViolationReporter) StoreOption {
	return func(o *storeOptions) { o.reporter = r }
}

// NewStore wraps repo. kind names the entity type in errors and logs.
func NewStore[E Entity](kind string, repo Repository[E], logger *slog.Logger, opts ...StoreOption) *Store[E] {
	o := storeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.validate == nil {
		o.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Store[E]{
		repo:     repo,
		kind:     kind,
		validate: o.validate,
		logger:   logger,
		reporter: o.reporter,
	}
}

// Kind returns the entity kind this store serves.
func (s *Store[E]) Kind() string { return s.kind }

// FindByID returns the entity with id when it belongs to tenantID.
// A same-id entity owned by another tenant is reported as not found.
func (s *Store[E]) FindByID(ctx context.Context, id, tenantID string) (E, bool, error) {
	var zero E
	if err := requireTenant(tenantID); err != nil {
		return zero, false, err
	}
	e, ok, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	if e.EntityTenant() != tenantID {
		// The backend ignored the tenant predicate. Hide the record.
		s.violation("find", tenantID, id)
		return zero, false, nil
	}
	return e, true, nil
}

// Save validates e and persists it. An existing entity with the same id
// under a different tenant fails with fault.ErrTenantIsolation.
func (s *Store[E]) Save(ctx context.Context, e E) error {
	if err := s.checkInvariants(e); err != nil {
		return err
	}
	owner, exists, err := s.repo.Owner(ctx, e.EntityID())
	if err != nil {
		return err
	}
	if exists && owner != e.EntityTenant() {
		s.violation("save", e.EntityTenant(), e.EntityID())
		return fault.TenantMismatch(fmt.Sprintf("%s %q", s.kind, e.EntityID()), e.EntityTenant(), owner)
	}
	if err := s.repo.Put(ctx, e); err != nil {
		if errors.Is(err, fault.ErrTenantIsolation) {
			s.violation("save", e.EntityTenant(), e.EntityID())
		}
		return err
	}
	return nil
}

// Delete removes id under tenantID. Deleting a missing entity is a no-op,
// and a same-id entity of another tenant is never touched.
func (s *Store[E]) Delete(ctx context.Context, id, tenantID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	removed, err := s.repo.Remove(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !removed {
		s.logger.Debug("delete of absent entity", "kind", s.kind, "id", id, "tenant_id", tenantID)
	}
	return nil
}

// FindAllByScope returns the tenant's entities selected by sel. Every
// element is checked against tenantID; a foreign element aborts the call.
func (s *Store[E]) FindAllByScope(ctx context.Context, sel Selector, tenantID string) ([]E, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	items, err := s.repo.List(ctx, tenantID, sel)
	if err != nil {
		return nil, err
	}
	for _, e := range items {
		if e.EntityTenant() != tenantID {
			s.violation("find_all", tenantID, e.EntityID())
			return nil, fault.TenantMismatch(fmt.Sprintf("%s %q in scope query", s.kind, e.EntityID()), tenantID, e.EntityTenant())
		}
	}
	return items, nil
}

func (s *Store[E]) checkInvariants(e E) error {
	var problems []string
	if e.EntityID() == "" {
		problems = append(problems, "id is required")
	}
	if e.EntityTenant() == "" {
		problems = append(problems, "tenant id is required")
	}
	if err := s.validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s: %v", fault.ErrDomainInvariant, s.kind, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	if v, ok := any(e).(Validatable); ok {
		if err := v.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", fault.ErrDomainInvariant, s.kind, strings.Join(problems, "; "))
	}
	return nil
}

func (s *Store[E]) violation(op, tenantID, id string) {
	s.logger.Error("tenant isolation violation",
		"kind", s.kind,
		"op", op,
		"tenant_id", tenantID,
		"id", id,
	)
	if s.reporter != nil {
		s.reporter.ReportViolation(s.kind+"."+op, tenantID, id)
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", fault.ErrTenantIsolation)
	}
	return nil
}
