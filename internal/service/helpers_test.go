package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sentinel-Gate/tenantguard/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/command"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/principal"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/workspace"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires the core on in-memory stores.
type fixture struct {
	audit    *memory.MemoryAuditStore
	contexts *memory.MemoryContextStore
	metrics  *Metrics
	logger   *AuditLogger
	pipeline *Pipeline
	tasks    *TaskService
	states   *stateRecorder
}

func newFixture(t *testing.T, contexts ...policy.Context) *fixture {
	t.Helper()
	f := &fixture{
		audit:    memory.NewAuditStore(),
		contexts: memory.NewContextStore(contexts...),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		states:   &stateRecorder{},
	}
	f.logger = NewAuditLogger(f.audit, discardLogger(), WithAuditMetrics(f.metrics))
	f.pipeline = NewPipeline(policy.NewEngine(), f.logger, discardLogger(),
		WithPipelineMetrics(f.metrics),
		WithStateObserver(f.states.observe),
	)

	taskStore := tenant.NewStore[workspace.Task](workspace.KindTask, memory.NewRepository[workspace.Task](), discardLogger(),
		tenant.WithViolationReporter(f.metrics))
	boardStore := tenant.NewStore[workspace.Board](workspace.KindBoard, memory.NewRepository[workspace.Board](), discardLogger(),
		tenant.WithViolationReporter(f.metrics))
	resolver := NewContextResolver(f.contexts, policy.AuditFull, discardLogger())
	f.tasks = NewTaskService(f.pipeline, resolver, taskStore, boardStore)
	return f
}

func (f *fixture) board(t *testing.T, tenantID, boardID string) {
	t.Helper()
	if err := f.tasks.CreateBoard(context.Background(), workspace.Board{
		ID: boardID, TenantID: tenantID, ProjectID: "p1", Name: "Board " + boardID,
	}); err != nil {
		t.Fatalf("CreateBoard() error: %v", err)
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) observe(_ command.Command, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// manualOnlyContext allows TASK_CREATE only for manual sources on board b1.
func manualOnlyContext(tenantID string, level policy.AuditLevel) policy.Context {
	return policy.Context{
		TenantID: tenantID,
		Scope:    policy.ScopeBoard,
		ScopeID:  "b1",
		Rules: []policy.Rule{
			{ID: "allow-manual", Action: ActionTaskCreate, Effect: policy.EffectAllow, Condition: "resource.source.type=MANUAL"},
		},
		AuditLevel: level,
	}
}

func createCommand(tenantID, boardID, sourceType string) command.Command {
	return command.Command{
		Type:      ActionTaskCreate,
		ActorID:   "u1",
		ActorType: principal.ActorUser,
		TenantID:  tenantID,
		Payload: value.Object(map[string]value.Value{
			"boardId": value.String(boardID),
			"title":   value.String("Write report"),
			"source": value.Object(map[string]value.Value{
				"type":       value.String(sourceType),
				"externalId": value.String("EXT-1"),
			}),
		}),
	}
}

func statesEqual(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
