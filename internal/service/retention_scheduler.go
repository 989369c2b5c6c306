package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
)

// ContextCatalog lists stored contexts across tenants. The contexts file
// and the memory and SQL repositories implement it.
type ContextCatalog interface {
	All(ctx context.Context) ([]policy.StoredContext, error)
}

// RetentionPlanner decides which tenants a sweep covers and for how long
// their events are kept. A tenant-scope context's retentionDays overrides
// the configured value.
type RetentionPlanner struct {
	contexts    policy.ContextStore
	catalog     ContextCatalog
	configured  []TenantRetention
	defaultDays int
}

// NewRetentionPlanner creates a planner. configured entries with Days 0
// use defaultDays. catalog may be nil.
func NewRetentionPlanner(contexts policy.ContextStore, catalog ContextCatalog, configured []TenantRetention, defaultDays int) *RetentionPlanner {
	return &RetentionPlanner{
		contexts:    contexts,
		catalog:     catalog,
		configured:  configured,
		defaultDays: defaultDays,
	}
}

// Plan returns the tenants to sweep, sorted by tenant id. Tenants that
// end up with no positive retention are left out.
func (p *RetentionPlanner) Plan(ctx context.Context) ([]TenantRetention, error) {
	days := make(map[string]int)
	for _, tr := range p.configured {
		d := tr.Days
		if d == 0 {
			d = p.defaultDays
		}
		days[tr.TenantID] = d
	}

	if p.catalog != nil {
		all, err := p.catalog.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stored contexts: %w", err)
		}
		for _, sc := range all {
			if sc.Context.Scope == policy.ScopeTenant && sc.Context.RetentionDays != nil {
				days[sc.Context.TenantID] = *sc.Context.RetentionDays
			}
		}
	}

	if p.contexts != nil {
		for tenantID := range days {
			pc, err := p.contexts.Lookup(ctx, tenantID, policy.ScopeTenant, tenantID)
			if errors.Is(err, policy.ErrContextNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("lookup tenant context %q: %w", tenantID, err)
			}
			if pc.RetentionDays != nil {
				days[tenantID] = *pc.RetentionDays
			}
		}
	}

	plan := make([]TenantRetention, 0, len(days))
	for tenantID, d := range days {
		if d < 1 {
			continue
		}
		plan = append(plan, TenantRetention{TenantID: tenantID, Days: d})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].TenantID < plan[j].TenantID })
	return plan, nil
}

// RetentionScheduler runs retention sweeps on a fixed interval: once at
// start, then every interval until stopped.
type RetentionScheduler struct {
	svc         *RetentionService
	planner     *RetentionPlanner
	interval    time.Duration
	parallelism int
	logger      *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewRetentionScheduler creates a scheduler. Start must be called to run it.
func NewRetentionScheduler(svc *RetentionService, planner *RetentionPlanner, interval time.Duration, parallelism int, logger *slog.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		svc:         svc,
		planner:     planner,
		interval:    interval,
		parallelism: parallelism,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Start launches the background loop. It returns immediately.
func (s *RetentionScheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
	s.logger.Info("retention scheduler started", "interval", s.interval, "parallelism", s.parallelism)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *RetentionScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// RunOnce plans and runs a single sweep.
func (s *RetentionScheduler) RunOnce(ctx context.Context) ([]RetentionResult, error) {
	plan, err := s.planner.Plan(ctx)
	if err != nil {
		return nil, err
	}
	return s.svc.Sweep(ctx, plan, s.parallelism, false)
}

func (s *RetentionScheduler) sweep(ctx context.Context) {
	results, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
	}
	total := 0
	for _, r := range results {
		total += r.DeletedCount
	}
	s.logger.Info("retention sweep finished", "tenants", len(results), "deleted", total)
}
