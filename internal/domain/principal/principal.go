// Package principal contains the actor types that perform commands.
package principal

import "fmt"

// ActorType tags the kind of actor behind a command or audit event.
type ActorType string

const (
	ActorUser        ActorType = "USER"
	ActorService     ActorType = "SERVICE"
	ActorIntegration ActorType = "INTEGRATION"
)

// Valid reports whether t is a known actor type.
func (t ActorType) Valid() bool {
	switch t {
	case ActorUser, ActorService, ActorIntegration:
		return true
	}
	return false
}

// ParseActorType converts a string into an ActorType.
func ParseActorType(s string) (ActorType, error) {
	t := ActorType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown actor type %q (want USER, SERVICE or INTEGRATION)", s)
	}
	return t, nil
}

// Permission is a dotted action name such as "task.create".
type Permission string

// Role is a named set of permissions.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// Principal is an authenticated actor within a tenant.
// Principals are created at provisioning time and deactivated, never deleted.
type Principal struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	Type     ActorType `json:"type"`
	Roles    []Role    `json:"roles"`
	Active   bool      `json:"active"`
}

// Can reports whether any of the principal's roles grants p.
// An inactive principal has no permissions.
func (p Principal) Can(perm Permission) bool {
	if !p.Active {
		return false
	}
	for _, r := range p.Roles {
		for _, granted := range r.Permissions {
			if granted == perm {
				return true
			}
		}
	}
	return false
}

// Permissions returns the de-duplicated permissions across all roles, in role order.
func (p Principal) Permissions() []Permission {
	seen := make(map[Permission]struct{})
	var out []Permission
	for _, r := range p.Roles {
		for _, perm := range r.Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			out = append(out, perm)
		}
	}
	return out
}
