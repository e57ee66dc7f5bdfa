// Diagnostic service: the top-level orchestrator. It owns its own circuit
// breaker and cache (constructor injection, no process-wide singletons),
// registers checkers per component, drives the executor through the
// breaker, caches component results, aggregates full reports, routes
// auto-fix requests, and emits one audit record per full run.
package diagnostics

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/archivio/doctor/internal/audit"
	"github.com/archivio/doctor/internal/logging"
)

// ServiceConfig aggregates the tuning knobs of the engine's components.
type ServiceConfig struct {
	Executor ExecutorConfig
	Breaker  BreakerConfig
	Cache    CacheConfig
	Monitor  MonitorConfig
}

// RunOptions narrows and annotates a full diagnostic run.
type RunOptions struct {
	// Components limits the run to the named components; empty means all
	// registered components.
	Components []string

	// UserID and RequestID are propagated to the audit record.
	UserID    string
	RequestID string

	// CheckOptions is passed to every checker and participates in cache
	// key generation.
	CheckOptions Options
}

// Service is the sole public boundary of the engine. Callers must pass
// returned structures through the Sanitize* functions before emitting them
// outside the process.
type Service struct {
	cfg      ServiceConfig
	executor *Executor
	breaker  *CircuitBreaker
	cache    *Cache
	monitor  *ResourceMonitor
	log      logging.Logger
	audit    audit.Logger

	// registry guarded by the components slice for insertion order
	checkers   map[string][]Checker
	components []string

	onProgress func(Progress)
}

// NewService builds a service owning fresh component instances, so multiple
// services can coexist (and tests stay isolated).
func NewService(cfg ServiceConfig, log logging.Logger, auditLog audit.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	return &Service{
		cfg:      cfg,
		executor: NewExecutor(cfg.Executor, log),
		breaker:  NewCircuitBreaker(cfg.Breaker, log),
		cache:    NewCache(cfg.Cache),
		monitor:  NewResourceMonitor(cfg.Monitor, log),
		log:      log,
		audit:    auditLog,
		checkers: make(map[string][]Checker),
	}
}

// SetProgressFunc installs a callback invoked after each completed check.
// Must be set before runs begin.
func (s *Service) SetProgressFunc(fn func(Progress)) { s.onProgress = fn }

// RegisterChecker appends a checker to its component's list, preserving
// registration order.
func (s *Service) RegisterChecker(c Checker) {
	component := c.Component()
	if _, ok := s.checkers[component]; !ok {
		s.components = append(s.components, component)
	}
	s.checkers[component] = append(s.checkers[component], c)
	s.log.Debug("checker registered", logging.Fields{
		"checker":   c.Name(),
		"component": component,
		"critical":  c.Critical(),
	})
}

// RegisterCheckers registers several checkers in order.
func (s *Service) RegisterCheckers(checkers []Checker) {
	for _, c := range checkers {
		s.RegisterChecker(c)
	}
}

// Components returns the registered component names in registration order.
func (s *Service) Components() []string {
	return append([]string(nil), s.components...)
}

// guardedChecker routes a checker's Check through the service's circuit
// breaker, keyed by check name. AutoFix is deliberately not guarded: fixes
// are explicit operator actions.
type guardedChecker struct {
	Checker
	breaker *CircuitBreaker
	timeout time.Duration
}

func (g *guardedChecker) Check(ctx context.Context, opts Options) (*CheckResult, error) {
	var res *CheckResult
	err := g.breaker.Execute(ctx, g.Checker.Name(), func(cctx context.Context) error {
		r, err := g.Checker.Check(cctx, opts)
		res = r
		if err != nil {
			return err
		}
		if r != nil && r.Status == StatusError {
			// Count failing results toward the breaker so a
			// persistently broken subsystem trips it too.
			return errors.Newf("check %s reported status %s", g.Checker.Name(), r.Status)
		}
		return nil
	}, g.timeout)
	if err != nil {
		// A non-pass result is still a valid result; only surface
		// engine-level rejections and real errors. Engine codes are
		// checked first: on a breaker timeout the checker goroutine
		// may still be writing res.
		if CodeOf(err) == "" && res != nil {
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

// RunComponent evaluates one component. A valid cache entry is returned
// as-is (same timestamp); otherwise all registered checkers run through the
// executor, each individually wrapped by the circuit breaker, and the fresh
// aggregate is cached. A component with zero registered checkers yields a
// healthy empty result: an unmonitored component is not itself a failure.
func (s *Service) RunComponent(ctx context.Context, component string, opts Options) (*ComponentResult, error) {
	key := s.cache.GenerateKey(component, opts)
	if cached := s.cache.Get(key); cached != nil {
		s.log.Debug("component result served from cache", logging.Fields{
			"component": component,
			"key":       key,
		})
		return cached, nil
	}

	checkers := s.checkers[component]
	if len(checkers) == 0 {
		s.log.Warn("no checkers registered for component", logging.Fields{
			"component": component,
		})
		return &ComponentResult{
			Component: component,
			Status:    ComponentHealthy,
			Checks:    []CheckResult{},
			Issues:    []Issue{},
			Timestamp: time.Now(),
		}, nil
	}

	if err := s.monitor.Start(); err != nil {
		s.log.Warn("resource monitor unavailable", logging.Fields{"error": err.Error()})
	}
	start := time.Now()

	guarded := make([]Checker, len(checkers))
	for i, c := range checkers {
		guarded[i] = &guardedChecker{Checker: c, breaker: s.breaker, timeout: s.executor.cfg.CheckTimeout}
	}
	results := s.executor.ExecuteAll(ctx, guarded, opts, s.onProgress)

	if err := s.monitor.Check(); err != nil {
		// The executor's own budget, not the subsystem's health.
		s.log.Error("resource limit violated during diagnostic run", logging.Fields{
			"component": component,
			"error":     err.Error(),
		})
	}
	if s.monitor.IsActive() {
		if metrics, err := s.monitor.Stop(); err == nil {
			s.log.Debug("diagnostic run resource usage", logging.Fields{
				"component": component,
				"rss_bytes": metrics.Memory.RSS,
				"cpu_time":  metrics.CPU.Time.String(),
			})
		}
	}

	var issues []Issue
	for _, r := range results {
		issues = append(issues, r.Issues...)
	}
	if issues == nil {
		issues = []Issue{}
	}

	cr := &ComponentResult{
		Component: component,
		Status:    worstCheckStatus(results),
		Checks:    results,
		Issues:    issues,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
	s.cache.Set(key, cr, 0)
	return cr, nil
}

// RunAll evaluates every registered component (or the subset named in
// opts.Components), aggregates a full report, and emits exactly one audit
// record. Individual component failures do not fail the run; only an
// orchestration-level error does.
func (s *Service) RunAll(ctx context.Context, opts *RunOptions) (*Report, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	start := time.Now()

	report := &Report{
		RunID:     uuid.NewString(),
		Timestamp: start,
	}

	components := opts.Components
	if len(components) == 0 {
		components = s.components
	}

	var runErr error
	for _, component := range components {
		cr, err := s.RunComponent(ctx, component, opts.CheckOptions)
		if err != nil {
			runErr = errors.Wrapf(err, "component %s", component)
			break
		}
		report.Components = append(report.Components, *cr)
	}

	outcome := audit.OutcomeSuccess
	if runErr != nil {
		outcome = audit.OutcomeFailure
	}
	if err := s.audit.Log(ctx, audit.Record{
		Action:    "diagnose:run_all",
		Outcome:   outcome,
		UserID:    opts.UserID,
		RequestID: opts.RequestID,
		Details: map[string]interface{}{
			"run_id":     report.RunID,
			"components": len(report.Components),
		},
		Timestamp: time.Now(),
	}); err != nil {
		s.log.Warn("audit record not written", logging.Fields{"error": err.Error()})
	}
	if runErr != nil {
		return nil, runErr
	}

	overall := ComponentHealthy
	for _, cr := range report.Components {
		if componentStatusRank(cr.Status) > componentStatusRank(overall) {
			overall = cr.Status
		}
		for _, check := range cr.Checks {
			report.Summary.TotalChecks++
			switch check.Status {
			case StatusPass:
				report.Summary.Passed++
			case StatusWarning:
				report.Summary.Warnings++
			case StatusSkipped:
				report.Summary.Skipped++
			default:
				report.Summary.Errors++
			}
		}
		report.Issues = append(report.Issues, cr.Issues...)
	}
	report.OverallStatus = overall
	report.Recommendations = collectRecommendations(report.Issues)
	report.Duration = time.Since(start)

	s.log.Info("diagnostic run complete", logging.Fields{
		"run_id":   report.RunID,
		"status":   string(report.OverallStatus),
		"checks":   report.Summary.TotalChecks,
		"issues":   len(report.Issues),
		"duration": report.Duration.String(),
	})
	return report, nil
}

// AutoFix routes each issue to the auto-fix routine of the checker it came
// from. Issues with no matching checker are skipped silently; an orphaned
// issue is not an error.
func (s *Service) AutoFix(ctx context.Context, issues []Issue) ([]FixResult, error) {
	type target struct{ component, check string }

	grouped := make(map[target][]Issue)
	var order []target
	for _, issue := range issues {
		t := target{issue.Component, issue.Check}
		if _, ok := grouped[t]; !ok {
			order = append(order, t)
		}
		grouped[t] = append(grouped[t], issue)
	}

	var results []FixResult
	for _, t := range order {
		checker := s.findChecker(t.component, t.check)
		if checker == nil {
			s.log.Debug("no checker for issue, skipping fix", logging.Fields{
				"component": t.component,
				"check":     t.check,
			})
			continue
		}
		fixes, err := checker.AutoFix(ctx, grouped[t], nil)
		if err != nil {
			// Contract violation by the checker; capture per-issue
			// failures rather than aborting sibling fixes.
			s.log.Error("auto-fix routine failed", logging.Fields{
				"checker": t.check,
				"error":   err.Error(),
			})
			for _, issue := range grouped[t] {
				results = append(results, FixResult{
					IssueID: issue.ID,
					Success: false,
					Message: "auto-fix routine failed",
					Error:   err.Error(),
				})
			}
			continue
		}
		results = append(results, fixes...)
	}

	if len(results) > 0 {
		// Fixes may have mutated the subsystems; cached results are stale.
		s.cache.Clear()
	}
	return results, nil
}

// CircuitBreakerStats exposes breaker state for one check key.
func (s *Service) CircuitBreakerStats(check string) BreakerStats {
	return s.breaker.Stats(check)
}

// CacheStats exposes cache occupancy.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// InvalidateCache removes cached results matching the pattern.
func (s *Service) InvalidateCache(pattern string) (int, error) {
	return s.cache.Invalidate(pattern)
}

func (s *Service) findChecker(component, check string) Checker {
	for _, c := range s.checkers[component] {
		if c.Name() == check {
			return c
		}
	}
	return nil
}

// collectRecommendations flattens and de-duplicates issue recommendations,
// preserving first-seen order.
func collectRecommendations(issues []Issue) []string {
	seen := make(map[string]struct{})
	var recs []string
	for _, issue := range issues {
		for _, rec := range issue.Recommendations {
			if _, ok := seen[rec]; ok {
				continue
			}
			seen[rec] = struct{}{}
			recs = append(recs, rec)
		}
	}
	return recs
}
