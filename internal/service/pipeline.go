package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/command"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
)

// tracerName identifies spans emitted by this package.
const tracerName = "github.com/Sentinel-Gate/tenantguard/internal/service"

// State is a step of one pipeline run.
type State string

const (
	StateLoadingContext   State = "LOADING_CONTEXT"
	StateEvaluatingPolicy State = "EVALUATING_POLICY"
	StateDenied           State = "DENIED"
	StateExecuting        State = "EXECUTING"
	StateLogged           State = "LOGGED"
)

// Effect is what a use-case handler produced. ResourceID and ResourceType
// are recorded on the ALLOW audit event.
type Effect[R any] struct {
	Result       R
	ResourceID   string
	ResourceType string
	// Metadata is merged into the audit event metadata.
	Metadata map[string]string
}

// UseCase plugs business effects into the pipeline.
type UseCase[R any] struct {
	// Action is recorded on the ALLOW audit event.
	Action string
	// ResourceType is recorded on events when the effect does not set one.
	ResourceType string
	// ResourceID names the target on ACCESS_DENIED events. Defaults to the
	// payload "id" field.
	ResourceID func(cmd command.Command) string
	// LoadPolicyContext returns the context governing cmd.
	LoadPolicyContext func(ctx context.Context, cmd command.Command) (*policy.Context, error)
	// Handle performs the effect. It runs on a context that is never cancelled.
	Handle func(ctx context.Context, cmd command.Command, pc *policy.Context) (Effect[R], error)
}

// Pipeline runs commands through context loading, policy evaluation,
// execution and audit logging.
type Pipeline struct {
	engine   policy.Evaluator
	audit    *AuditLogger
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	meter    metric.Meter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	observer func(command.Command, State)
	failures chan<- AuditFailure
}

// AuditFailure describes an audit write that failed under BASIC level.
type AuditFailure struct {
	TenantID string
	Action   string
	Err      error
}

// PipelineOption configures Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineMetrics records command, evaluation and failure metrics.
func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer overrides the tracer, which defaults to the global provider.
func WithTracer(t trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithMeter overrides the OpenTelemetry meter, which defaults to the
// global provider.
func WithMeter(m metric.Meter) PipelineOption {
	return func(p *Pipeline) {
		p.meter = m
	}
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(command.Command, State)) PipelineOption {
	return func(p *Pipeline) {
		p.observer = fn
	}
}

// WithAuditFailures receives BASIC-level audit failures. Sends never block;
// failures are dropped when the channel is full.
func WithAuditFailures(ch chan<- AuditFailure) PipelineOption {
	return func(p *Pipeline) {
		p.failures = ch
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(engine policy.Evaluator, auditLogger *AuditLogger, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		engine: engine,
		audit:  auditLogger,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.initInstruments()
	return p
}

func (p *Pipeline) initInstruments() {
	var err error
	p.runs, err = p.meter.Int64Counter("tenantguard.pipeline.runs",
		metric.WithDescription("Pipeline runs by action and result"))
	if err != nil {
		p.logger.Warn("otel counter unavailable", "error", err)
		p.runs, _ = noop.NewMeterProvider().Meter(tracerName).Int64Counter("tenantguard.pipeline.runs")
	}
	p.duration, err = p.meter.Float64Histogram("tenantguard.pipeline.duration",
		metric.WithDescription("Pipeline run duration"),
		metric.WithUnit("s"))
	if err != nil {
		p.logger.Warn("otel histogram unavailable", "error", err)
		p.duration, _ = noop.NewMeterProvider().Meter(tracerName).Float64Histogram("tenantguard.pipeline.duration")
	}
}

// Run executes cmd with uc. It returns *fault.AccessDeniedError on policy
// denial, fault.ErrTenantIsolation when the loaded context belongs to
// another tenant, and the handler's result otherwise.
func Run[R any](ctx context.Context, p *Pipeline, cmd command.Command, uc UseCase[R]) (result R, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline."+cmd.Type, trace.WithAttributes(
		attribute.String("tenant.id", cmd.TenantID),
		attribute.String("command.type", cmd.Type),
		attribute.String("actor.id", cmd.ActorID),
	))
	defer func() {
		kind := fault.Kind(err)
		span.SetAttributes(attribute.String("command.result", kind))
		if err != nil && !errors.Is(err, fault.ErrAccessDenied) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		elapsed := time.Since(start).Seconds()
		p.metrics.command(cmd.Type, kind, elapsed)
		attrs := metric.WithAttributes(
			attribute.String("command.type", cmd.Type),
			attribute.String("command.result", kind),
		)
		p.runs.Add(context.WithoutCancel(ctx), 1, attrs)
		p.duration.Record(context.WithoutCancel(ctx), elapsed, attrs)
	}()

	var zero R
	if err := cmd.Validate(); err != nil {
		return zero, err
	}

	p.enter(cmd, StateLoadingContext)
	pc, err := uc.LoadPolicyContext(ctx, cmd)
	if err != nil {
		return zero, fmt.Errorf("load policy context: %w", err)
	}
	if pc == nil {
		return zero, fmt.Errorf("load policy context: no context for %s", cmd.Type)
	}
	if pc.TenantID != cmd.TenantID {
		p.isolationViolation(cmd, pc)
		return zero, fault.TenantMismatch("policy context", cmd.TenantID, pc.TenantID)
	}
	span.SetAttributes(
		attribute.String("policy.scope", string(pc.Scope)),
		attribute.String("policy.audit_level", string(pc.AuditLevel)),
	)

	p.enter(cmd, StateEvaluatingPolicy)
	decision := p.engine.Evaluate(cmd.ActorID, cmd.Type, *pc, cmd.Payload)
	outcome := audit.OutcomeAllow
	if !decision.Allowed {
		outcome = audit.OutcomeDeny
	}
	p.metrics.evaluation(string(outcome))
	span.SetAttributes(attribute.String("policy.outcome", string(outcome)))

	if !decision.Allowed {
		resourceID := cmd.Payload.StringField("id")
		if uc.ResourceID != nil {
			resourceID = uc.ResourceID(cmd)
		}
		return zero, p.deny(ctx, cmd, resourceID, uc.ResourceType, pc, decision)
	}

	// Once the effect starts it runs to completion together with its audit
	// write; cancellation is honoured only up to this point.
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	p.enter(cmd, StateExecuting)
	execCtx := context.WithoutCancel(ctx)
	effect, err := uc.Handle(execCtx, cmd, pc)
	if err != nil {
		p.logger.Warn("command handler failed",
			"tenant_id", cmd.TenantID,
			"action", cmd.Type,
			"error", err,
		)
		return zero, err
	}

	resourceType := effect.ResourceType
	if resourceType == "" {
		resourceType = uc.ResourceType
	}
	action := uc.Action
	if action == "" {
		action = cmd.Type
	}
	entry := audit.Entry{
		ActorID:      cmd.ActorID,
		ActorType:    cmd.ActorType,
		TenantID:     cmd.TenantID,
		Action:       action,
		ResourceID:   effect.ResourceID,
		ResourceType: resourceType,
		Payload:      cmd.Payload,
		PolicyDecision: audit.PolicyDecision{
			PolicyID: decision.PolicyID,
			Outcome:  audit.OutcomeAllow,
		},
		Metadata: eventMetadata(cmd, pc, effect.Metadata),
	}
	if _, err := p.audit.Log(execCtx, entry); err != nil {
		if pc.AuditLevel == policy.AuditFull {
			p.logger.Error("audit write failed, failing command",
				"tenant_id", cmd.TenantID,
				"action", action,
				"audit_level", pc.AuditLevel,
				"error", err,
			)
			p.metrics.auditFailed(string(pc.AuditLevel))
			return zero, err
		}
		p.reportAuditFailure(cmd, action, pc.AuditLevel, err)
	}
	p.enter(cmd, StateLogged)
	return effect.Result, nil
}

// deny records the ACCESS_DENIED event and builds the error returned to
// the caller. Under FULL a failed write replaces the denial with the
// storage error.
func (p *Pipeline) deny(ctx context.Context, cmd command.Command, resourceID, resourceType string, pc *policy.Context, decision policy.Decision) error {
	p.enter(cmd, StateDenied)
	denied := &fault.AccessDeniedError{Action: cmd.Type, Reason: decision.Reason}

	entry := audit.Entry{
		ActorID:      cmd.ActorID,
		ActorType:    cmd.ActorType,
		TenantID:     cmd.TenantID,
		Action:       audit.ActionAccessDenied,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Payload:      cmd.Payload,
		PolicyDecision: audit.PolicyDecision{
			PolicyID: decision.PolicyID,
			Outcome:  audit.OutcomeDeny,
			Reason:   decision.Reason,
		},
		Metadata: eventMetadata(cmd, pc, nil),
	}
	if _, err := p.audit.Log(context.WithoutCancel(ctx), entry); err != nil {
		if pc.AuditLevel == policy.AuditFull {
			p.logger.Error("audit write failed for denied command",
				"tenant_id", cmd.TenantID,
				"action", cmd.Type,
				"audit_level", pc.AuditLevel,
				"error", err,
			)
			p.metrics.auditFailed(string(pc.AuditLevel))
			return err
		}
		p.reportAuditFailure(cmd, audit.ActionAccessDenied, pc.AuditLevel, err)
	}

	p.logger.Info("command denied",
		"tenant_id", cmd.TenantID,
		"actor_id", cmd.ActorID,
		"action", cmd.Type,
		"reason", decision.Reason,
	)
	return denied
}

func (p *Pipeline) reportAuditFailure(cmd command.Command, action string, level policy.AuditLevel, err error) {
	p.logger.Error("audit write failed",
		"tenant_id", cmd.TenantID,
		"action", action,
		"audit_level", level,
		"error", err,
	)
	p.metrics.auditFailed(string(level))
	if p.failures == nil {
		return
	}
	select {
	case p.failures <- AuditFailure{TenantID: cmd.TenantID, Action: action, Err: err}:
	default:
		p.logger.Warn("audit failure channel full, dropping report", "tenant_id", cmd.TenantID)
	}
}

func (p *Pipeline) isolationViolation(cmd command.Command, pc *policy.Context) {
	p.logger.Error("tenant isolation violation: policy context belongs to another tenant",
		"tenant_id", cmd.TenantID,
		"context_tenant_id", pc.TenantID,
		"action", cmd.Type,
		"actor_id", cmd.ActorID,
	)
	p.metrics.ReportViolation("pipeline.context", cmd.TenantID, pc.ScopeID)
}

func (p *Pipeline) enter(cmd command.Command, s State) {
	if p.observer != nil {
		p.observer(cmd, s)
	}
}

func eventMetadata(cmd command.Command, pc *policy.Context, extra map[string]string) map[string]string {
	md := map[string]string{
		"commandType": cmd.Type,
		"scope":       string(pc.Scope),
		"scopeId":     pc.ScopeID,
		"auditLevel":  string(pc.AuditLevel),
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}
