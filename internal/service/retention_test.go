package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/tenantguard/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
)

var retentionNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// seedRetention stores, per tenant, one event 40 days old and one 1 day old.
func seedRetention(t *testing.T, store audit.Store, tenants ...string) {
	t.Helper()
	for _, tenantID := range tenants {
		for _, age := range []time.Duration{40 * 24 * time.Hour, 24 * time.Hour} {
			ev := testEntry(tenantID).Stamp(tenantID+"-"+age.String(), retentionNow.Add(-age))
			if err := store.Append(context.Background(), ev); err != nil {
				t.Fatalf("Append() error: %v", err)
			}
		}
	}
}

func newRetention(store audit.Store, m *Metrics) *RetentionService {
	return NewRetentionService(store, discardLogger(),
		WithRetentionClock(func() time.Time { return retentionNow }),
		WithRetentionMetrics(m),
	)
}

func TestRetention_DeletesOnlyOldEventsOfTenant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewAuditStore()
	seedRetention(t, store, "t1", "t2")
	m := NewMetrics(prometheus.NewRegistry())
	svc := newRetention(store, m)

	res, err := svc.Run(ctx, "t1", 30, false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.DeletedCount != 1 || res.DryRun {
		t.Errorf("Run() = %+v, want 1 deleted", res)
	}
	if want := retentionNow.Add(-30 * 24 * time.Hour); !res.Cutoff.Equal(want) {
		t.Errorf("Cutoff = %v, want %v", res.Cutoff, want)
	}

	t1, _ := store.Query(ctx, audit.Filter{TenantID: "t1"})
	if len(t1) != 1 || !t1[0].Timestamp.Equal(retentionNow.Add(-24*time.Hour)) {
		t.Errorf("t1 remaining = %+v, want only the 1-day-old event", t1)
	}
	t2, _ := store.Query(ctx, audit.Filter{TenantID: "t2"})
	if len(t2) != 2 {
		t.Errorf("t2 remaining = %d, want 2 (untouched)", len(t2))
	}

	if v := testutil.ToFloat64(m.RetentionDeleted.WithLabelValues("t1")); v != 1 {
		t.Errorf("retention_deleted_total{t1} = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.RetentionRuns.WithLabelValues("ok")); v != 1 {
		t.Errorf("retention_runs_total{ok} = %v, want 1", v)
	}
}

func TestRetention_DryRunDeletesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewAuditStore()
	seedRetention(t, store, "t1")
	svc := newRetention(store, nil)

	res, err := svc.Run(ctx, "t1", 30, true)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.DeletedCount != 1 || !res.DryRun {
		t.Errorf("Run(dryRun) = %+v, want 1 reported", res)
	}
	if store.Len() != 2 {
		t.Errorf("stored = %d, want 2", store.Len())
	}
}

func TestRetention_InvalidDays(t *testing.T) {
	t.Parallel()

	svc := newRetention(memory.NewAuditStore(), nil)
	for _, days := range []int{0, -1} {
		if _, err := svc.Run(context.Background(), "t1", days, false); !errors.Is(err, ErrInvalidRetention) {
			t.Errorf("Run(days=%d) error = %v, want ErrInvalidRetention", days, err)
		}
	}
}

func TestRetention_StoreFailureIsReported(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	_ = store.Close()
	m := NewMetrics(prometheus.NewRegistry())
	svc := newRetention(store, m)

	if _, err := svc.Run(context.Background(), "t1", 30, false); err == nil {
		t.Fatal("Run() expected error")
	}
	if v := testutil.ToFloat64(m.RetentionRuns.WithLabelValues("error")); v != 1 {
		t.Errorf("retention_runs_total{error} = %v, want 1", v)
	}
}

func TestRetention_ConcurrentRunsSameTenant(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	seedRetention(t, store, "t1")
	svc := newRetention(store, nil)

	var (
		mu    sync.Mutex
		total int
		done  sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			res, err := svc.Run(context.Background(), "t1", 30, false)
			if err != nil {
				t.Errorf("Run() error: %v", err)
				return
			}
			mu.Lock()
			total += res.DeletedCount
			mu.Unlock()
		}()
	}
	done.Wait()
	if total != 1 {
		t.Errorf("total deleted across runs = %d, want 1", total)
	}
}

func TestRetention_Sweep(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	seedRetention(t, store, "t1", "t2", "t3")
	svc := newRetention(store, nil)

	results, err := svc.Sweep(context.Background(), []TenantRetention{
		{TenantID: "t3", Days: 30},
		{TenantID: "t1", Days: 30},
		{TenantID: "t2", Days: 60},
	}, 2, false)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if len(results) != 3 || results[0].TenantID != "t1" || results[2].TenantID != "t3" {
		t.Fatalf("Sweep() results = %+v", results)
	}
	if results[0].DeletedCount != 1 || results[1].DeletedCount != 0 || results[2].DeletedCount != 1 {
		t.Errorf("deleted = %d/%d/%d, want 1/0/1", results[0].DeletedCount, results[1].DeletedCount, results[2].DeletedCount)
	}
}

func TestRetention_SweepReportsFirstError(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore()
	seedRetention(t, store, "t1")
	svc := newRetention(store, nil)

	results, err := svc.Sweep(context.Background(), []TenantRetention{
		{TenantID: "t1", Days: 30},
		{TenantID: "bad", Days: 0},
	}, 4, false)
	if !errors.Is(err, ErrInvalidRetention) {
		t.Fatalf("Sweep() error = %v, want ErrInvalidRetention", err)
	}
	if len(results) != 1 || results[0].TenantID != "t1" {
		t.Errorf("results = %+v, want t1 only", results)
	}
}

func TestRetentionPlanner_Plan(t *testing.T) {
	t.Parallel()

	days := 7
	none := 0
	contexts := memory.NewContextStore(
		policy.Context{TenantID: "t2", Scope: policy.ScopeTenant, ScopeID: "t2", RetentionDays: &days, AuditLevel: policy.AuditFull},
		policy.Context{TenantID: "t3", Scope: policy.ScopeTenant, ScopeID: "t3", RetentionDays: &none, AuditLevel: policy.AuditFull},
	)
	planner := NewRetentionPlanner(contexts, nil, []TenantRetention{
		{TenantID: "t1"},
		{TenantID: "t2", Days: 365},
		{TenantID: "t3", Days: 10},
	}, 90)

	plan, err := planner.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	want := []TenantRetention{{TenantID: "t1", Days: 90}, {TenantID: "t2", Days: 7}}
	if len(plan) != len(want) {
		t.Fatalf("Plan() = %+v, want %+v", plan, want)
	}
	for i := range want {
		if plan[i] != want[i] {
			t.Errorf("Plan()[%d] = %+v, want %+v", i, plan[i], want[i])
		}
	}
}

type staticCatalog []policy.StoredContext

func (c staticCatalog) All(context.Context) ([]policy.StoredContext, error) { return c, nil }

func TestRetentionPlanner_Catalog(t *testing.T) {
	t.Parallel()

	days := 14
	catalog := staticCatalog{
		policy.NewStoredContext(policy.Context{TenantID: "t9", Scope: policy.ScopeTenant, ScopeID: "t9", RetentionDays: &days, AuditLevel: policy.AuditFull}, "admin", retentionNow),
		policy.NewStoredContext(policy.Context{TenantID: "t8", Scope: policy.ScopeBoard, ScopeID: "b1", RetentionDays: &days, AuditLevel: policy.AuditFull}, "admin", retentionNow),
	}
	plan, err := NewRetentionPlanner(nil, catalog, nil, 30).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if len(plan) != 1 || plan[0] != (TenantRetention{TenantID: "t9", Days: 14}) {
		t.Errorf("Plan() = %+v, want t9/14 only", plan)
	}
}

func TestRetentionScheduler_SweepsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memory.NewAuditStore()
	seedRetention(t, store, "t1")
	svc := newRetention(store, nil)
	planner := NewRetentionPlanner(nil, nil, []TenantRetention{{TenantID: "t1", Days: 30}}, 30)
	sched := NewRetentionScheduler(svc, planner, time.Hour, 2, discardLogger())

	sched.Start(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for store.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not sweep, stored = %d", store.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
	sched.Stop()
	// Stop is idempotent.
	sched.Stop()
}

func TestRetentionScheduler_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := newRetention(memory.NewAuditStore(), nil)
	sched := NewRetentionScheduler(svc, NewRetentionPlanner(nil, nil, nil, 30), 10*time.Millisecond, 1, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	sched.Stop()
}
