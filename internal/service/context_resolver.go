package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
)

// ScopeRef names one scope in a resolution chain.
type ScopeRef struct {
	Scope policy.Scope
	ID    string
}

// ContextResolver finds the policy context governing a command by walking
// from the narrowest scope to the tenant. When nothing is configured the
// result is an empty tenant context, which denies everything.
type ContextResolver struct {
	store        policy.ContextStore
	defaultLevel policy.AuditLevel
	logger       *slog.Logger
}

// NewContextResolver creates a resolver. defaultLevel applies to the
// implicit empty context; an empty value means FULL.
func NewContextResolver(store policy.ContextStore, defaultLevel policy.AuditLevel, logger *slog.Logger) *ContextResolver {
	if defaultLevel == "" {
		defaultLevel = policy.AuditFull
	}
	return &ContextResolver{store: store, defaultLevel: defaultLevel, logger: logger}
}

// Resolve returns the first context found along chain, then the tenant
// context, then the implicit default-deny context. Refs with an empty ID
// are skipped.
func (r *ContextResolver) Resolve(ctx context.Context, tenantID string, chain ...ScopeRef) (*policy.Context, error) {
	chain = append(chain, ScopeRef{Scope: policy.ScopeTenant, ID: tenantID})
	for _, ref := range chain {
		if ref.ID == "" {
			continue
		}
		pc, err := r.store.Lookup(ctx, tenantID, ref.Scope, ref.ID)
		if err == nil {
			return pc, nil
		}
		if !errors.Is(err, policy.ErrContextNotFound) {
			return nil, fmt.Errorf("lookup %s context %q: %w", ref.Scope, ref.ID, err)
		}
	}
	r.logger.Debug("no policy context configured, using default deny", "tenant_id", tenantID)
	return &policy.Context{
		TenantID:   tenantID,
		Scope:      policy.ScopeTenant,
		ScopeID:    tenantID,
		AuditLevel: r.defaultLevel,
	}, nil
}

// StoredContexts exposes administrator-edited contexts kept in a
// TenantScopedStore as a policy.ContextStore, and manages them.
type StoredContexts struct {
	store  *tenant.Store[policy.StoredContext]
	logger *slog.Logger
	now    func() time.Time
}

// NewStoredContexts wraps store.
func NewStoredContexts(store *tenant.Store[policy.StoredContext], logger *slog.Logger) *StoredContexts {
	return &StoredContexts{store: store, logger: logger, now: time.Now}
}

// Lookup implements policy.ContextStore.
func (s *StoredContexts) Lookup(ctx context.Context, tenantID string, scope policy.Scope, scopeID string) (*policy.Context, error) {
	sc, ok, err := s.store.FindByID(ctx, policy.StoredContextID(scope, scopeID), tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, policy.ErrContextNotFound
	}
	pc := sc.Context.Clone()
	return &pc, nil
}

// Apply validates and stores contexts on behalf of updatedBy. It stops at
// the first failure; contexts before it stay applied.
func (s *StoredContexts) Apply(ctx context.Context, updatedBy string, contexts ...policy.Context) error {
	for _, c := range contexts {
		sc := policy.NewStoredContext(c, updatedBy, s.now())
		if err := s.store.Save(ctx, sc); err != nil {
			return fmt.Errorf("apply context %s for tenant %q: %w", sc.ID, c.TenantID, err)
		}
		s.logger.Info("policy context applied",
			"tenant_id", c.TenantID,
			"scope", c.Scope,
			"scope_id", c.ScopeID,
			"rules", len(c.Rules),
			"updated_by", updatedBy,
		)
	}
	return nil
}

// Remove deletes the context of a scope. Missing contexts are ignored.
func (s *StoredContexts) Remove(ctx context.Context, tenantID string, scope policy.Scope, scopeID string) error {
	return s.store.Delete(ctx, policy.StoredContextID(scope, scopeID), tenantID)
}

// List returns the tenant's stored contexts.
func (s *StoredContexts) List(ctx context.Context, tenantID string) ([]policy.StoredContext, error) {
	return s.store.FindAllByScope(ctx, tenant.Selector{}, tenantID)
}

var _ policy.ContextStore = (*StoredContexts)(nil)
