package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/principal"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
)

const (
	insertEvent = `INSERT INTO audit_events (
	id, tenant_id, ts_ns, actor_id, actor_type, action, resource_id, resource_type,
	payload, decision_policy_id, decision_outcome, decision_reason, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectEvents = `SELECT id, tenant_id, ts_ns, actor_id, actor_type, action, resource_id, resource_type,
	payload, decision_policy_id, decision_outcome, decision_reason, metadata
FROM audit_events`
	countEventsBefore  = `SELECT COUNT(*) FROM audit_events WHERE tenant_id = ? AND ts_ns < ?`
	deleteEventsBefore = `DELETE FROM audit_events WHERE tenant_id = ? AND ts_ns < ?`
)

// AuditStore implements audit.Store on the audit_events table. The table
// carries a trigger that rejects UPDATE, so events stay immutable even
// for writers that bypass this type.
type AuditStore struct {
	db *DB
}

// NewAuditStore returns the audit store backed by db.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append inserts events in one transaction.
func (s *AuditStore) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Unavailable("begin audit append", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.db.rebind(insertEvent))
	if err != nil {
		return fault.Unavailable("prepare audit append", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if e.ID == "" {
			return fmt.Errorf("append audit event: id is required")
		}
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode audit payload %q: %w", e.ID, err)
		}
		metadata, err := json.Marshal(nonNil(e.Metadata))
		if err != nil {
			return fmt.Errorf("encode audit metadata %q: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID,
			e.TenantID,
			e.Timestamp.UnixNano(),
			e.ActorID,
			string(e.ActorType),
			e.Action,
			e.ResourceID,
			e.ResourceType,
			string(payload),
			e.PolicyDecision.PolicyID,
			string(e.PolicyDecision.Outcome),
			e.PolicyDecision.Reason,
			string(metadata),
		); err != nil {
			return fault.Unavailable(fmt.Sprintf("insert audit event %q", e.ID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fault.Unavailable("commit audit append", err)
	}
	return nil
}

// List returns every event in append order.
func (s *AuditStore) List(ctx context.Context) ([]audit.Event, error) {
	return s.Query(ctx, audit.Filter{})
}

// Query returns events matching filter in append order.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if filter.TenantID != "" {
		add("tenant_id = ?", filter.TenantID)
	}
	if filter.Action != "" {
		add("action = ?", filter.Action)
	}
	if filter.ActorID != "" {
		add("actor_id = ?", filter.ActorID)
	}
	if filter.Outcome != "" {
		add("decision_outcome = ?", string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		add("ts_ns >= ?", filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		add("ts_ns < ?", filter.Until.UnixNano())
	}

	var q strings.Builder
	q.WriteString(selectEvents)
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY seq")
	if filter.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(q.String()), args...)
	if err != nil {
		return nil, fault.Unavailable("query audit events", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e                         audit.Event
			tsNanos                   int64
			actorType, outcome        string
			payloadJSON, metadataJSON []byte
		)
		if err := rows.Scan(
			&e.ID, &e.TenantID, &tsNanos, &e.ActorID, &actorType, &e.Action,
			&e.ResourceID, &e.ResourceType, &payloadJSON,
			&e.PolicyDecision.PolicyID, &outcome, &e.PolicyDecision.Reason, &metadataJSON,
		); err != nil {
			return nil, fault.Unavailable("scan audit event", err)
		}
		e.Timestamp = time.Unix(0, tsNanos).UTC()
		e.ActorType = principal.ActorType(actorType)
		e.PolicyDecision.Outcome = audit.Outcome(outcome)
		if e.Payload, err = value.Parse(payloadJSON); err != nil {
			return nil, fmt.Errorf("decode audit payload %q: %w", e.ID, err)
		}
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata %q: %w", e.ID, err)
		}
		e.Metadata = nonNil(e.Metadata)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Unavailable("query audit events", err)
	}
	return out, nil
}

// Update always fails. The row is never touched.
func (s *AuditStore) Update(ctx context.Context, event audit.Event) error {
	return fmt.Errorf("update audit event %q: %w", event.ID, fault.ErrAuditImmutable)
}

// CountBefore counts tenantID's events older than cutoff.
func (s *AuditStore) CountBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, s.db.rebind(countEventsBefore), tenantID, cutoff.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fault.Unavailable("count audit events", err)
	}
	return n, nil
}

// DeleteBefore removes tenantID's events older than cutoff.
func (s *AuditStore) DeleteBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(deleteEventsBefore), tenantID, cutoff.UnixNano())
	if err != nil {
		return 0, fault.Unavailable("delete audit events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fault.Unavailable("delete audit events", err)
	}
	return int(n), nil
}

// Ping reports whether the database is reachable.
func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ audit.Store = (*AuditStore)(nil)
