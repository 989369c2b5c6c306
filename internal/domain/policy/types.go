// Package policy contains domain types for tenant-scoped rule evaluation.
package policy

import (
	"fmt"
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
)

// Effect is the outcome a matching rule votes for.
type Effect string

const (
	// EffectAllow permits the action unless another matching rule denies it.
	EffectAllow Effect = "ALLOW"
	// EffectDeny blocks the action regardless of any matching allow rule.
	EffectDeny Effect = "DENY"
)

// WildcardAction matches every action name.
const WildcardAction = "*"

// Scope is the level a policy context applies to.
type Scope string

const (
	ScopeTenant  Scope = "TENANT"
	ScopeProject Scope = "PROJECT"
	ScopeBoard   Scope = "BOARD"
)

// AuditLevel controls how audit write failures affect a command.
type AuditLevel string

const (
	// AuditBasic reports audit failures without failing the command.
	AuditBasic AuditLevel = "BASIC"
	// AuditFull fails the command when its audit record cannot be written.
	AuditFull AuditLevel = "FULL"
)

// Reasons attached to deny decisions.
const (
	ReasonExplicitDeny = "Explicitly denied by policy"
	ReasonDefaultDeny  = "No matching allow rule found (Default Deny)"
)

// Rule is one ALLOW/DENY entry, optionally guarded by an equality condition.
type Rule struct {
	// ID identifies the rule within its context.
	ID string `json:"id" yaml:"id" validate:"required"`
	// Action is a literal action name or "*".
	Action string `json:"action" yaml:"action" validate:"required"`
	// Effect is ALLOW or DENY.
	Effect Effect `json:"effect" yaml:"effect" validate:"required,oneof=ALLOW DENY"`
	// Condition is a flat "path=value" test against {actorId, resource}.
	// Empty means the rule applies whenever the action matches.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Context is the authorization scope of one mutating operation.
type Context struct {
	TenantID      string     `json:"tenant_id" yaml:"tenant_id" validate:"required"`
	Scope         Scope      `json:"scope" yaml:"scope" validate:"required,oneof=TENANT PROJECT BOARD"`
	ScopeID       string     `json:"scope_id" yaml:"scope_id" validate:"required"`
	Rules         []Rule     `json:"rules" yaml:"rules" validate:"dive"`
	RetentionDays *int       `json:"retention_days,omitempty" yaml:"retention_days,omitempty" validate:"omitempty,min=1"`
	AuditLevel    AuditLevel `json:"audit_level" yaml:"audit_level" validate:"required,oneof=BASIC FULL"`
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	out.Rules = append([]Rule(nil), c.Rules...)
	if c.RetentionDays != nil {
		days := *c.RetentionDays
		out.RetentionDays = &days
	}
	return out
}

// Decision is the outcome of one evaluation. It is never persisted;
// the command pipeline turns it into an audit event.
type Decision struct {
	// Allowed is true when at least one rule allowed and none denied.
	Allowed bool
	// MatchedRules are all rules that matched, in list order.
	MatchedRules []Rule
	// Reason explains a denial. Empty for allow decisions.
	Reason string
	// PolicyID is the first matched rule carrying the deciding effect.
	// Empty for default deny.
	PolicyID string
}

// StoredContextID returns the entity id of the persisted context for a scope.
func StoredContextID(scope Scope, scopeID string) string {
	return fmt.Sprintf("%s:%s", scope, scopeID)
}

// StoredContext is the persisted, administrator-edited variant of a Context.
type StoredContext struct {
	ID        string    `json:"id" msgpack:"id" validate:"required"`
	Context   Context   `json:"context" msgpack:"context"`
	UpdatedBy string    `json:"updated_by,omitempty" msgpack:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// NewStoredContext wraps c with its derived id.
func NewStoredContext(c Context, updatedBy string, at time.Time) StoredContext {
	return StoredContext{
		ID:        StoredContextID(c.Scope, c.ScopeID),
		Context:   c.Clone(),
		UpdatedBy: updatedBy,
		UpdatedAt: at.UTC(),
	}
}

// EntityID implements tenant.Entity.
func (s StoredContext) EntityID() string { return s.ID }

// EntityTenant implements tenant.Entity.
func (s StoredContext) EntityTenant() string { return s.Context.TenantID }

// EntityScope implements tenant.Entity.
func (s StoredContext) EntityScope() tenant.Selector {
	return tenant.Selector{Type: string(s.Context.Scope), ID: s.Context.ScopeID}
}

// Validate checks invariants that struct tags cannot express.
func (s StoredContext) Validate() error {
	if want := StoredContextID(s.Context.Scope, s.Context.ScopeID); s.ID != want {
		return fmt.Errorf("stored context id %q does not match scope, want %q", s.ID, want)
	}
	return nil
}
