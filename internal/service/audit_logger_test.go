package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/tenantguard/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/principal"
)

func testEntry(tenantID string) audit.Entry {
	return audit.Entry{
		ActorID:        "u1",
		ActorType:      principal.ActorUser,
		TenantID:       tenantID,
		Action:         "TASK_CREATE",
		ResourceID:     "task-1",
		ResourceType:   "task",
		PolicyDecision: audit.PolicyDecision{Outcome: audit.OutcomeAllow},
		Metadata:       map[string]string{"k": "v"},
	}
}

func TestAuditLogger_AssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewAuditLogger(store, discardLogger(), WithClock(func() time.Time { return at }))

	ev, err := l.Log(context.Background(), testEntry("t1"))
	if err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		t.Fatalf("event id %q is not a UUID: %v", ev.ID, err)
	}
	if id.Version() != 7 {
		t.Errorf("uuid version = %d, want 7", id.Version())
	}
	if !ev.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, at)
	}

	// The returned event is a copy.
	ev.Metadata["k"] = "changed"
	stored, _ := l.Events(context.Background())
	if stored[0].Metadata["k"] != "v" {
		t.Error("returned event shares metadata with the store")
	}
}

func TestAuditLogger_TimestampsNeverGoBackwards(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	var mu sync.Mutex
	i := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at := ticks[i]
		i++
		return at
	}
	l := NewAuditLogger(memory.NewAuditStore(), discardLogger(), WithClock(clock))

	var got []time.Time
	for range ticks {
		ev, err := l.Log(context.Background(), testEntry("t1"))
		if err != nil {
			t.Fatalf("Log() error: %v", err)
		}
		got = append(got, ev.Timestamp)
	}
	if !got[1].Equal(base) {
		t.Errorf("second timestamp = %v, want clamped to %v", got[1], base)
	}
	if !got[2].After(got[1]) {
		t.Errorf("third timestamp = %v, want after %v", got[2], got[1])
	}
}

func TestAuditLogger_ConcurrentLogsGetDistinctIDs(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	l := NewAuditLogger(store, discardLogger())

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Log(context.Background(), testEntry(fmt.Sprintf("t%d", i%4))); err != nil {
				t.Errorf("Log() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != n {
		t.Errorf("stored = %d, want %d", store.Len(), n)
	}
}

func TestAuditLogger_StoreUnavailable(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	_ = store.Close()
	l := NewAuditLogger(store, discardLogger())

	_, err := l.Log(context.Background(), testEntry("t1"))
	if !errors.Is(err, fault.ErrStorageUnavailable) {
		t.Fatalf("Log() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestAuditLogger_RejectsIncompleteEntry(t *testing.T) {
	t.Parallel()

	l := NewAuditLogger(memory.NewAuditStore(), discardLogger())
	entry := testEntry("")
	if _, err := l.Log(context.Background(), entry); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Log() error = %v, want ErrInvalidEntry", err)
	}
}

func TestAuditLogger_IDGeneratorFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	l := NewAuditLogger(store, discardLogger(), WithIDGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	if _, err := l.Log(context.Background(), testEntry("t1")); err == nil {
		t.Fatal("Log() expected error")
	}
	if store.Len() != 0 {
		t.Errorf("stored = %d, want 0", store.Len())
	}
}

func TestAuditLogger_Query(t *testing.T) {
	t.Parallel()

	l := NewAuditLogger(memory.NewAuditStore(), discardLogger())
	ctx := context.Background()
	for _, tenantID := range []string{"t1", "t2", "t1"} {
		if _, err := l.Log(ctx, testEntry(tenantID)); err != nil {
			t.Fatalf("Log() error: %v", err)
		}
	}
	got, err := l.Query(ctx, audit.Filter{TenantID: "t1"})
	if err != nil || len(got) != 2 {
		t.Errorf("Query(t1) = %d, %v; want 2", len(got), err)
	}
}
