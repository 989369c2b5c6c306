// Package audit contains domain types for the append-only audit trail.
package audit

import (
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/principal"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
)

// Outcome is the policy outcome recorded on an event.
type Outcome string

const (
	OutcomeAllow Outcome = "ALLOW"
	OutcomeDeny  Outcome = "DENY"
)

// ActionAccessDenied is the event action written for every policy denial.
const ActionAccessDenied = "ACCESS_DENIED"

// PolicyDecision is the nested decision summary of an event.
type PolicyDecision struct {
	PolicyID string  `json:"policyId,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
}

// Event is one immutable audit record. The JSON field order is the
// canonical export shape; policyDecision and metadata stay nested.
type Event struct {
	ID             string              `json:"id"`
	Timestamp      time.Time           `json:"timestamp"`
	ActorID        string              `json:"actorId"`
	ActorType      principal.ActorType `json:"actorType"`
	TenantID       string              `json:"tenantId"`
	Action         string              `json:"action"`
	ResourceID     string              `json:"resourceId"`
	ResourceType   string              `json:"resourceType"`
	Payload        value.Value         `json:"payload"`
	PolicyDecision PolicyDecision      `json:"policyDecision"`
	Metadata       map[string]string   `json:"metadata"`
}

// Entry is an event as submitted by a caller: the logger assigns ID and Timestamp.
type Entry struct {
	ActorID        string
	ActorType      principal.ActorType
	TenantID       string
	Action         string
	ResourceID     string
	ResourceType   string
	Payload        value.Value
	PolicyDecision PolicyDecision
	Metadata       map[string]string
}

// Clone returns a copy of e that shares no mutable state with it.
// Payload is immutable by construction; Metadata is copied.
func (e Event) Clone() Event {
	out := e
	out.Metadata = cloneMetadata(e.Metadata)
	return out
}

// Stamp builds the event for entry with the logger-assigned id and time.
func (en Entry) Stamp(id string, at time.Time) Event {
	return Event{
		ID:             id,
		Timestamp:      at,
		ActorID:        en.ActorID,
		ActorType:      en.ActorType,
		TenantID:       en.TenantID,
		Action:         en.Action,
		ResourceID:     en.ResourceID,
		ResourceType:   en.ResourceType,
		Payload:        en.Payload,
		PolicyDecision: en.PolicyDecision,
		Metadata:       cloneMetadata(en.Metadata),
	}
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CloneAll copies a slice of events.
func CloneAll(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
