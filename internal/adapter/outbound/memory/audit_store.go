// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
)

// MemoryAuditStore implements audit.Store with an append-only slice.
// When a writer is configured every appended event is also mirrored to it
// as one JSON line, as part of the same all-or-nothing append.
type MemoryAuditStore struct {
	mu     sync.RWMutex
	writer io.Writer
	events []audit.Event
	ids    map[string]struct{}
	closed bool
}

// NewAuditStore creates an in-memory audit store without a mirror.
func NewAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{ids: make(map[string]struct{})}
}

// NewAuditStoreWithWriter creates an audit store mirroring events to w.
func NewAuditStoreWithWriter(w io.Writer) *MemoryAuditStore {
	s := NewAuditStore()
	s.writer = w
	return s
}

// Append stores events. Events are encoded and checked first, so a
// duplicate id or a mirror failure leaves the store unchanged.
func (s *MemoryAuditStore) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fault.Unavailable("append audit events", errStoreClosed)
	}

	batch := make(map[string]struct{}, len(events))
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if e.ID == "" {
			return fmt.Errorf("append audit event: id is required")
		}
		if _, dup := s.ids[e.ID]; dup {
			return fmt.Errorf("append audit event: duplicate id %q", e.ID)
		}
		if _, dup := batch[e.ID]; dup {
			return fmt.Errorf("append audit event: duplicate id %q in batch", e.ID)
		}
		batch[e.ID] = struct{}{}
		if s.writer != nil {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode audit event: %w", err)
			}
		}
	}

	if s.writer != nil {
		if _, err := s.writer.Write(buf.Bytes()); err != nil {
			return fault.Unavailable("mirror audit events", err)
		}
	}

	for _, e := range events {
		s.events = append(s.events, e.Clone())
		s.ids[e.ID] = struct{}{}
	}
	return nil
}

// List returns copies of all events in append order.
func (s *MemoryAuditStore) List(ctx context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fault.Unavailable("list audit events", errStoreClosed)
	}
	return audit.CloneAll(s.events), nil
}

// Query returns copies of the events matching filter in append order.
func (s *MemoryAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fault.Unavailable("query audit events", errStoreClosed)
	}

	var result []audit.Event
	for _, e := range s.events {
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
		if filter.Matches(e) {
			result = append(result, e.Clone())
		}
	}
	return result, nil
}

// Update always fails: audit events are immutable.
func (s *MemoryAuditStore) Update(ctx context.Context, event audit.Event) error {
	return fmt.Errorf("update audit event %q: %w", event.ID, fault.ErrAuditImmutable)
}

// CountBefore counts tenantID's events older than cutoff.
func (s *MemoryAuditStore) CountBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fault.Unavailable("count audit events", errStoreClosed)
	}

	n := 0
	for _, e := range s.events {
		if e.TenantID == tenantID && e.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// DeleteBefore removes tenantID's events older than cutoff, keeping the
// append order of the survivors.
func (s *MemoryAuditStore) DeleteBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fault.Unavailable("delete audit events", errStoreClosed)
	}

	kept := s.events[:0]
	deleted := 0
	for _, e := range s.events {
		if e.TenantID == tenantID && e.Timestamp.Before(cutoff) {
			delete(s.ids, e.ID)
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so removed events are not retained by the backing array.
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = audit.Event{}
	}
	s.events = kept
	return deleted, nil
}

// Len returns the number of stored events.
func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ping reports whether the store accepts operations.
func (s *MemoryAuditStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fault.Unavailable("ping audit store", errStoreClosed)
	}
	return nil
}

// Close marks the store unavailable and closes a file mirror.
func (s *MemoryAuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Compile-time interface verification.
var _ audit.Store = (*MemoryAuditStore)(nil)
