package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
)

// ErrInvalidRetention is returned for retention periods below one day.
var ErrInvalidRetention = errors.New("retention days must be at least 1")

// lockStripes is the number of per-tenant lock stripes.
const lockStripes = 256

// RetentionResult reports one retention run.
type RetentionResult struct {
	TenantID     string    `json:"tenantId"`
	DeletedCount int       `json:"deletedCount"`
	Cutoff       time.Time `json:"cutoff"`
	DryRun       bool      `json:"dryRun"`
}

// TenantRetention is one tenant's retention policy.
type TenantRetention struct {
	TenantID string
	Days     int
}

// RetentionService deletes a tenant's audit events older than its
// retention period. Runs for the same tenant are serialized; different
// tenants proceed in parallel.
type RetentionService struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
	locks   [lockStripes]sync.Mutex
}

// RetentionOption configures RetentionService.
type RetentionOption func(*RetentionService)

// WithRetentionClock sets the clock used to compute cutoffs.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(s *RetentionService) {
		s.now = now
	}
}

// WithRetentionMetrics records run and deletion counts.
func WithRetentionMetrics(m *Metrics) RetentionOption {
	return func(s *RetentionService) {
		s.metrics = m
	}
}

// WithRetentionTracer overrides the tracer.
func WithRetentionTracer(t trace.Tracer) RetentionOption {
	return func(s *RetentionService) {
		s.tracer = t
	}
}

// NewRetentionService creates a RetentionService over store.
func NewRetentionService(store audit.Store, logger *slog.Logger, opts ...RetentionOption) *RetentionService {
	s := &RetentionService{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run deletes tenantID's events with a timestamp before now minus
// retentionDays days. The cutoff is computed once, before any I/O. With
// dryRun the matching events are counted and nothing is deleted.
func (s *RetentionService) Run(ctx context.Context, tenantID string, retentionDays int, dryRun bool) (result RetentionResult, err error) {
	if tenantID == "" {
		return RetentionResult{}, fmt.Errorf("retention: tenant id is required")
	}
	if retentionDays < 1 {
		return RetentionResult{}, fmt.Errorf("%w: got %d", ErrInvalidRetention, retentionDays)
	}

	cutoff := s.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	result = RetentionResult{TenantID: tenantID, Cutoff: cutoff, DryRun: dryRun}

	ctx, span := s.tracer.Start(ctx, "retention.run", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("retention.days", retentionDays),
		attribute.Bool("retention.dry_run", dryRun),
	))
	defer func() {
		label := "ok"
		switch {
		case err != nil:
			label = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case dryRun:
			label = "dry_run"
		}
		span.SetAttributes(attribute.Int("retention.deleted", result.DeletedCount))
		span.End()
		deleted := 0
		if !dryRun {
			deleted = result.DeletedCount
		}
		s.metrics.retention(tenantID, label, deleted)
	}()

	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	if dryRun {
		n, err := s.store.CountBefore(ctx, tenantID, cutoff)
		if err != nil {
			return result, fmt.Errorf("retention dry run for tenant %q: %w", tenantID, err)
		}
		result.DeletedCount = n
		s.logger.Info("retention dry run", "tenant_id", tenantID, "cutoff", cutoff, "would_delete", n)
		return result, nil
	}

	n, err := s.store.DeleteBefore(ctx, tenantID, cutoff)
	if err != nil {
		return result, fmt.Errorf("retention for tenant %q: %w", tenantID, err)
	}
	result.DeletedCount = n
	s.logger.Info("retention applied", "tenant_id", tenantID, "cutoff", cutoff, "deleted", n)
	return result, nil
}

// Sweep runs retention for every tenant in plan with at most parallelism
// concurrent runs. All tenants are attempted; the first error is returned
// alongside the results of the runs that succeeded, sorted by tenant.
func (s *RetentionService) Sweep(ctx context.Context, plan []TenantRetention, parallelism int, dryRun bool) ([]RetentionResult, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	var (
		mu      sync.Mutex
		results []RetentionResult
		g       errgroup.Group
	)
	g.SetLimit(parallelism)
	for _, tr := range plan {
		g.Go(func() error {
			res, err := s.Run(ctx, tr.TenantID, tr.Days, dryRun)
			if err != nil {
				s.logger.Error("retention run failed", "tenant_id", tr.TenantID, "error", err)
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].TenantID < results[j].TenantID })
	return results, err
}

func (s *RetentionService) lockFor(tenantID string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(tenantID)%lockStripes]
}
