package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/command"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/principal"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/workspace"
)

func TestCreateTask_ManualAllowedJiraDenied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, manualOnlyContext("t1", policy.AuditFull))
	f.board(t, "t1", "b1")

	task, err := f.tasks.CreateTask(ctx, createCommand("t1", "b1", "MANUAL"))
	if err != nil {
		t.Fatalf("CreateTask(MANUAL) error: %v", err)
	}
	if task.TenantID != "t1" || task.BoardID != "b1" || task.Source.Type != workspace.SourceManual || task.Version != 1 {
		t.Errorf("task = %+v", task)
	}

	events, _ := f.audit.List(ctx)
	if len(events) != 1 {
		t.Fatalf("events after MANUAL = %d, want 1", len(events))
	}
	if events[0].Action != ActionTaskCreate || events[0].ResourceID != task.ID || events[0].PolicyDecision.PolicyID != "allow-manual" {
		t.Errorf("allow event = %+v", events[0])
	}

	_, err = f.tasks.CreateTask(ctx, createCommand("t1", "b1", "JIRA"))
	var denied *fault.AccessDeniedError
	if !errors.As(err, &denied) || denied.Reason != policy.ReasonDefaultDeny {
		t.Fatalf("CreateTask(JIRA) error = %v, want default deny", err)
	}

	events, _ = f.audit.List(ctx)
	if len(events) != 2 {
		t.Fatalf("events after JIRA = %d, want 2", len(events))
	}
	if events[1].Action != audit.ActionAccessDenied || events[1].PolicyDecision.Outcome != audit.OutcomeDeny {
		t.Errorf("deny event = %+v", events[1])
	}
	src, _ := events[1].Payload.Lookup([]string{"source", "type"})
	if s, _ := src.Str(); s != "JIRA" {
		t.Errorf("deny payload source.type = %q, want JIRA", s)
	}

	tasks, err := f.tasks.ListTasks(ctx, "t1", "b1")
	if err != nil || len(tasks) != 1 {
		t.Errorf("ListTasks() = %d tasks, %v; want 1", len(tasks), err)
	}
}

func TestCreateTask_CrossTenantContextProducesNoEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.board(t, "t1", "b1")

	// A buggy loader returns tenant t2's context for a t1 command.
	leaky := manualOnlyContext("t2", policy.AuditFull)
	_, err := Run(ctx, f.pipeline, createCommand("t1", "b1", "MANUAL"), UseCase[workspace.Task]{
		Action:            ActionTaskCreate,
		LoadPolicyContext: fixedContext(leaky),
		Handle: func(context.Context, command.Command, *policy.Context) (Effect[workspace.Task], error) {
			t.Error("handler must not run")
			return Effect[workspace.Task]{}, nil
		},
	})
	if !errors.Is(err, fault.ErrTenantIsolation) {
		t.Fatalf("Run() error = %v, want ErrTenantIsolation", err)
	}
	if f.audit.Len() != 0 {
		t.Errorf("events = %d, want 0", f.audit.Len())
	}
}

func TestCreateTask_BoardOfAnotherTenant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, manualOnlyContext("t1", policy.AuditFull))
	f.board(t, "t2", "b1")

	_, err := f.tasks.CreateTask(ctx, createCommand("t1", "b1", "MANUAL"))
	if !errors.Is(err, ErrBoardNotFound) {
		t.Fatalf("CreateTask() error = %v, want ErrBoardNotFound", err)
	}
	if f.audit.Len() != 0 {
		t.Errorf("events = %d, want 0", f.audit.Len())
	}
}

func TestCreateTask_NoContextDefaultsToDeny(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.board(t, "t1", "b1")

	_, err := f.tasks.CreateTask(ctx, createCommand("t1", "b1", "MANUAL"))
	if !errors.Is(err, fault.ErrAccessDenied) {
		t.Fatalf("CreateTask() error = %v, want ErrAccessDenied", err)
	}
	events, _ := f.audit.List(ctx)
	if len(events) != 1 || events[0].Metadata["scope"] != "TENANT" {
		t.Errorf("events = %+v", events)
	}
}

func TestCreateTask_ProjectScopeComesFromStoredBoard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	denyP1 := scopeContext("t1", policy.ScopeProject, "p1")
	denyP1.Rules = []policy.Rule{{ID: "freeze-p1", Action: "*", Effect: policy.EffectDeny}}
	f := newFixture(t,
		denyP1,
		scopeContext("t1", policy.ScopeProject, "p2"),
		scopeContext("t1", policy.ScopeTenant, "t1"),
	)
	f.board(t, "t1", "b1")

	payload := func(projectID string) value.Value {
		fields := map[string]value.Value{
			"boardId": value.String("b1"),
			"title":   value.String("Write report"),
			"source":  value.Object(map[string]value.Value{"type": value.String("MANUAL")}),
		}
		if projectID != "" {
			fields["projectId"] = value.String(projectID)
		}
		return value.Object(fields)
	}

	for i, projectID := range []string{"p2", ""} {
		cmd := createCommand("t1", "b1", "MANUAL")
		cmd.Payload = payload(projectID)
		_, err := f.tasks.CreateTask(ctx, cmd)
		var denied *fault.AccessDeniedError
		if !errors.As(err, &denied) || denied.Reason != policy.ReasonExplicitDeny {
			t.Fatalf("CreateTask(projectId=%q) error = %v, want explicit deny", projectID, err)
		}
		events, _ := f.audit.List(ctx)
		if len(events) != i+1 || events[i].Action != audit.ActionAccessDenied || events[i].PolicyDecision.PolicyID != "freeze-p1" {
			t.Errorf("events after projectId=%q = %+v", projectID, events)
		}
	}

	email := command.Command{
		Type:      ActionTaskIngestEmail,
		ActorID:   "mailbot",
		ActorType: principal.ActorService,
		TenantID:  "t1",
		Payload: value.Object(map[string]value.Value{
			"boardId":   value.String("b1"),
			"projectId": value.String("p2"),
			"subject":   value.String("Invoice overdue"),
			"messageId": value.String("<m1@example.com>"),
		}),
	}
	if _, err := f.tasks.IngestEmail(ctx, email); !errors.Is(err, fault.ErrAccessDenied) {
		t.Fatalf("IngestEmail(projectId=p2) error = %v, want ErrAccessDenied", err)
	}

	tasks, err := f.tasks.ListTasks(ctx, "t1", "b1")
	if err != nil || len(tasks) != 0 {
		t.Errorf("ListTasks() = %d tasks, %v; want 0", len(tasks), err)
	}
}

func TestCreateTask_InvalidTaskIsInvariantViolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, manualOnlyContext("t1", policy.AuditFull))
	f.board(t, "t1", "b1")

	cmd := createCommand("t1", "b1", "MANUAL")
	fields := cmd.Payload.Fields()
	delete(fields, "title")
	cmd.Payload = value.Object(fields)

	_, err := f.tasks.CreateTask(ctx, cmd)
	if !errors.Is(err, fault.ErrDomainInvariant) {
		t.Fatalf("CreateTask() error = %v, want ErrDomainInvariant", err)
	}
	if f.audit.Len() != 0 {
		t.Errorf("events = %d, want 0", f.audit.Len())
	}
}

func TestLinkExternalIssue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pc := manualOnlyContext("t1", policy.AuditFull)
	pc.Rules = append(pc.Rules, policy.Rule{ID: "allow-link", Action: ActionTaskLinkExternal, Effect: policy.EffectAllow})
	f := newFixture(t, pc)
	f.board(t, "t1", "b1")

	task, err := f.tasks.CreateTask(ctx, createCommand("t1", "b1", "MANUAL"))
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	link := command.Command{
		Type:      ActionTaskLinkExternal,
		ActorID:   "jira-sync",
		ActorType: principal.ActorIntegration,
		TenantID:  "t1",
		Payload: value.Object(map[string]value.Value{
			"taskId": value.String(task.ID),
			"source": value.Object(map[string]value.Value{
				"type":       value.String("JIRA"),
				"externalId": value.String("PROJ-42"),
			}),
		}),
	}
	linked, err := f.tasks.LinkExternalIssue(ctx, link)
	if err != nil {
		t.Fatalf("LinkExternalIssue() error: %v", err)
	}
	if linked.Version != 2 || linked.Source.ExternalID != "PROJ-42" || linked.Source.Type != workspace.SourceJira {
		t.Errorf("linked = %+v", linked)
	}

	events, _ := f.audit.List(ctx)
	last := events[len(events)-1]
	if last.Action != ActionTaskLinkExternal || last.ActorType != principal.ActorIntegration || last.Metadata["version"] != "2" {
		t.Errorf("link event = %+v", last)
	}

	// The same task id is invisible to another tenant.
	link.TenantID = "t2"
	if _, err := f.tasks.LinkExternalIssue(ctx, link); !errors.Is(err, fault.ErrAccessDenied) {
		t.Errorf("LinkExternalIssue(t2) error = %v, want ErrAccessDenied", err)
	}
}

func TestIngestEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, policy.Context{
		TenantID: "t1",
		Scope:    policy.ScopeTenant,
		ScopeID:  "t1",
		Rules: []policy.Rule{
			{ID: "allow-mailbot", Action: ActionTaskIngestEmail, Effect: policy.EffectAllow, Condition: "actorId=mailbot"},
		},
		AuditLevel: policy.AuditBasic,
	})
	f.board(t, "t1", "b1")

	cmd := command.Command{
		Type:      ActionTaskIngestEmail,
		ActorID:   "mailbot",
		ActorType: principal.ActorService,
		TenantID:  "t1",
		Payload: value.Object(map[string]value.Value{
			"boardId":   value.String("b1"),
			"subject":   value.String("Invoice overdue"),
			"messageId": value.String("<m1@example.com>"),
			"from":      value.String("billing@example.com"),
		}),
	}
	task, err := f.tasks.IngestEmail(ctx, cmd)
	if err != nil {
		t.Fatalf("IngestEmail() error: %v", err)
	}
	if task.Source.Type != workspace.SourceEmail || task.Title != "Invoice overdue" {
		t.Errorf("task = %+v", task)
	}
	events, _ := f.audit.List(ctx)
	if len(events) != 1 || events[0].Metadata["emailFrom"] != "billing@example.com" {
		t.Errorf("events = %+v", events)
	}

	cmd.ActorID = "someone-else"
	if _, err := f.tasks.IngestEmail(ctx, cmd); !errors.Is(err, fault.ErrAccessDenied) {
		t.Fatalf("IngestEmail(other actor) error = %v, want ErrAccessDenied", err)
	}
	events, _ = f.audit.List(ctx)
	if events[1].ResourceID != "<m1@example.com>" {
		t.Errorf("deny ResourceID = %q", events[1].ResourceID)
	}
	if v := testutil.ToFloat64(f.metrics.AuditEventsTotal.WithLabelValues("DENY")); v != 1 {
		t.Errorf("audit_events_total{DENY} = %v, want 1", v)
	}
}
