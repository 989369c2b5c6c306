package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
)

// ErrInvalidEntry is returned when an audit entry lacks routing fields.
var ErrInvalidEntry = errors.New("invalid audit entry")

// AuditLogger is the single writer of audit events. It assigns ids and
// timestamps and appends synchronously, so an event is durable in the
// store before Log returns.
type AuditLogger struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() (string, error)

	mu   sync.Mutex
	last time.Time
}

// AuditLoggerOption configures AuditLogger.
type AuditLoggerOption func(*AuditLogger)

// WithClock sets the wall clock used for event timestamps.
func WithClock(now func() time.Time) AuditLoggerOption {
	return func(l *AuditLogger) {
		l.now = now
	}
}

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(gen func() (string, error)) AuditLoggerOption {
	return func(l *AuditLogger) {
		l.newID = gen
	}
}

// WithAuditMetrics records written events.
func WithAuditMetrics(m *Metrics) AuditLoggerOption {
	return func(l *AuditLogger) {
		l.metrics = m
	}
}

// NewAuditLogger creates an AuditLogger over store.
func NewAuditLogger(store audit.Store, logger *slog.Logger, opts ...AuditLoggerOption) *AuditLogger {
	l := &AuditLogger{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  newUUIDv7,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log stamps entry with a fresh id and timestamp, appends it and returns
// a copy of the stored event.
func (l *AuditLogger) Log(ctx context.Context, entry audit.Entry) (audit.Event, error) {
	if entry.TenantID == "" || entry.Action == "" {
		return audit.Event{}, fmt.Errorf("%w: tenant id and action are required", ErrInvalidEntry)
	}
	id, err := l.newID()
	if err != nil {
		return audit.Event{}, fmt.Errorf("generate audit event id: %w", err)
	}

	event := entry.Stamp(id, l.timestamp())
	if err := l.store.Append(ctx, event); err != nil {
		return audit.Event{}, fmt.Errorf("append audit event: %w", err)
	}
	l.metrics.auditWritten(string(event.PolicyDecision.Outcome))
	l.logger.Debug("audit event written",
		"event_id", event.ID,
		"tenant_id", event.TenantID,
		"action", event.Action,
		"outcome", event.PolicyDecision.Outcome,
	)
	return event.Clone(), nil
}

// Events returns every stored event in append order.
func (l *AuditLogger) Events(ctx context.Context) ([]audit.Event, error) {
	return l.store.List(ctx)
}

// Query returns the events matching filter in append order.
func (l *AuditLogger) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	return l.store.Query(ctx, filter)
}

// timestamp returns a UTC time that never goes backwards across calls,
// even when the wall clock steps back.
func (l *AuditLogger) timestamp() time.Time {
	now := l.now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Before(l.last) {
		now = l.last
	}
	l.last = now
	return now
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
