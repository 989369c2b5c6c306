package tenant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
)

type note struct {
	ID       string `validate:"required"`
	TenantID string `validate:"required"`
	BoardID  string
	Body     string `validate:"required"`
}

func (n note) EntityID() string      { return n.ID }
func (n note) EntityTenant() string  { return n.TenantID }
func (n note) EntityScope() Selector { return Selector{Type: "BOARD", ID: n.BoardID} }

// leakyRepo is a deliberately broken backend: it ignores tenant predicates
// on reads, so the Store postconditions are the only line of defense.
type leakyRepo struct {
	mu    sync.Mutex
	items map[string]note
	// putErr is returned from Put when set.
	putErr error
}

func newLeakyRepo(items ...note) *leakyRepo {
	r := &leakyRepo{items: make(map[string]note)}
	for _, n := range items {
		r.items[n.ID] = n
	}
	return r
}

func (r *leakyRepo) Get(_ context.Context, _, id string) (note, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	return n, ok, nil
}

func (r *leakyRepo) Owner(_ context.Context, id string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	return n.TenantID, ok, nil
}

func (r *leakyRepo) Put(_ context.Context, n note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.putErr != nil {
		return r.putErr
	}
	r.items[n.ID] = n
	return nil
}

func (r *leakyRepo) Remove(_ context.Context, tenantID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.TenantID != tenantID {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *leakyRepo) List(_ context.Context, _ string, sel Selector) ([]note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []note
	for _, n := range r.items {
		if sel.Matches(n.EntityScope()) {
			out = append(out, n)
		}
	}
	return out, nil
}

type recordingReporter struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingReporter) ReportViolation(kind, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kinds)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_FindByIDHidesForeignTenant(t *testing.T) {
	t.Parallel()

	rep := &recordingReporter{}
	s := NewStore[note]("note", newLeakyRepo(note{ID: "a", TenantID: "t1", Body: "secret"}), testLogger(), WithViolationReporter(rep))
	ctx := context.Background()

	got, ok, err := s.FindByID(ctx, "a", "t2")
	if err != nil {
		t.Fatalf("FindByID() error: %v", err)
	}
	if ok || got.Body != "" {
		t.Fatalf("FindByID(a, t2) = %+v, %v; want zero, false", got, ok)
	}
	if rep.count() != 1 {
		t.Errorf("violations reported = %d, want 1", rep.count())
	}

	got, ok, err = s.FindByID(ctx, "a", "t1")
	if err != nil || !ok || got.Body != "secret" {
		t.Errorf("FindByID(a, t1) = %+v, %v, %v", got, ok, err)
	}
}

func TestStore_SaveRejectsForeignID(t *testing.T) {
	t.Parallel()

	repo := newLeakyRepo(note{ID: "a", TenantID: "t1", Body: "original"})
	s := NewStore[note]("note", repo, testLogger())

	err := s.Save(context.Background(), note{ID: "a", TenantID: "t2", Body: "overwrite"})
	if !errors.Is(err, fault.ErrTenantIsolation) {
		t.Fatalf("Save() error = %v, want ErrTenantIsolation", err)
	}
	if repo.items["a"].Body != "original" {
		t.Errorf("foreign record was overwritten: %+v", repo.items["a"])
	}
}

func TestStore_SaveRecordsBackendViolation(t *testing.T) {
	t.Parallel()

	rep := &recordingReporter{}
	repo := newLeakyRepo()
	repo.putErr = fault.TenantMismatch("note a", "t2", "t1")
	s := NewStore[note]("note", repo, testLogger(), WithViolationReporter(rep))

	err := s.Save(context.Background(), note{ID: "a", TenantID: "t2", Body: "x"})
	if !errors.Is(err, fault.ErrTenantIsolation) {
		t.Fatalf("Save() error = %v, want ErrTenantIsolation", err)
	}
	if rep.count() != 1 {
		t.Errorf("violations reported = %d, want 1", rep.count())
	}
}

func TestStore_SaveValidatesInvariants(t *testing.T) {
	t.Parallel()

	s := NewStore[note]("note", newLeakyRepo(), testLogger())
	tests := []struct {
		name string
		n    note
	}{
		{"missing id", note{TenantID: "t1", Body: "x"}},
		{"missing tenant", note{ID: "a", Body: "x"}},
		{"missing body", note{ID: "a", TenantID: "t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := s.Save(context.Background(), tt.n); !errors.Is(err, fault.ErrDomainInvariant) {
				t.Errorf("Save() error = %v, want ErrDomainInvariant", err)
			}
		})
	}
}

func TestStore_DeleteNeverTouchesForeignTenant(t *testing.T) {
	t.Parallel()

	repo := newLeakyRepo(note{ID: "a", TenantID: "t1", Body: "x"})
	s := NewStore[note]("note", repo, testLogger())
	ctx := context.Background()

	if err := s.Delete(ctx, "a", "t2"); err != nil {
		t.Fatalf("Delete(a, t2) error: %v", err)
	}
	if _, ok := repo.items["a"]; !ok {
		t.Fatal("Delete(a, t2) removed t1's record")
	}
	if err := s.Delete(ctx, "missing", "t1"); err != nil {
		t.Errorf("Delete(missing) error: %v, want idempotent no-op", err)
	}
	if err := s.Delete(ctx, "a", "t1"); err != nil {
		t.Fatalf("Delete(a, t1) error: %v", err)
	}
	if _, ok := repo.items["a"]; ok {
		t.Error("Delete(a, t1) left the record in place")
	}
}

func TestStore_FindAllByScopePostcondition(t *testing.T) {
	t.Parallel()

	repo := newLeakyRepo(
		note{ID: "a", TenantID: "t1", BoardID: "b1", Body: "x"},
		note{ID: "b", TenantID: "t2", BoardID: "b1", Body: "y"},
	)
	s := NewStore[note]("note", repo, testLogger())

	items, err := s.FindAllByScope(context.Background(), Selector{Type: "BOARD", ID: "b1"}, "t1")
	if !errors.Is(err, fault.ErrTenantIsolation) {
		t.Fatalf("FindAllByScope() error = %v, want ErrTenantIsolation", err)
	}
	if items != nil {
		t.Errorf("FindAllByScope() returned %d items alongside the violation", len(items))
	}
}

func TestStore_RequiresTenant(t *testing.T) {
	t.Parallel()

	s := NewStore[note]("note", newLeakyRepo(), testLogger())
	ctx := context.Background()
	if _, _, err := s.FindByID(ctx, "a", ""); !errors.Is(err, fault.ErrTenantIsolation) {
		t.Errorf("FindByID(tenant=\"\") error = %v", err)
	}
	if err := s.Delete(ctx, "a", ""); !errors.Is(err, fault.ErrTenantIsolation) {
		t.Errorf("Delete(tenant=\"\") error = %v", err)
	}
	if _, err := s.FindAllByScope(ctx, Selector{}, ""); !errors.Is(err, fault.ErrTenantIsolation) {
		t.Errorf("FindAllByScope(tenant=\"\") error = %v", err)
	}
}

func TestSelector(t *testing.T) {
	t.Parallel()

	all := Selector{}
	board := Selector{Type: "BOARD", ID: "b1"}
	if !all.All() || all.Key() != "" {
		t.Errorf("zero Selector: All() = %v, Key() = %q", all.All(), all.Key())
	}
	if board.Key() != "BOARD:b1" {
		t.Errorf("Key() = %q, want BOARD:b1", board.Key())
	}
	if !all.Matches(board) || !board.Matches(board) || board.Matches(Selector{Type: "BOARD", ID: "b2"}) {
		t.Error("Matches() returned wrong results")
	}
}
