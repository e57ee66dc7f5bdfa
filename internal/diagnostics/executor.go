// Check executor: runs one or many checks with per-check timeouts and
// bounded parallelism, and reports progress as checks complete.
package diagnostics

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/archivio/doctor/internal/logging"
)

const (
	// DefaultCheckTimeout bounds a single check invocation.
	DefaultCheckTimeout = 30 * time.Second

	// DefaultMaxConcurrency bounds in-flight checks in ExecuteAll.
	DefaultMaxConcurrency = 2

	// maxConcurrencyCap is a hard ceiling regardless of configuration.
	maxConcurrencyCap = 10
)

// ExecutorConfig tunes check execution.
type ExecutorConfig struct {
	// CheckTimeout is the per-check deadline; zero means DefaultCheckTimeout.
	CheckTimeout time.Duration

	// MaxConcurrency bounds in-flight checks; zero means DefaultMaxConcurrency.
	MaxConcurrency int

	// RateLimit paces check starts (checks per second); zero disables pacing.
	RateLimit float64
}

// Executor runs diagnostic checks. It is safe for concurrent use.
type Executor struct {
	cfg     ExecutorConfig
	limiter *rate.Limiter
	log     logging.Logger
}

// NewExecutor builds an executor with defaults applied.
func NewExecutor(cfg ExecutorConfig, log logging.Logger) *Executor {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxConcurrency > maxConcurrencyCap {
		cfg.MaxConcurrency = maxConcurrencyCap
	}
	if log == nil {
		log = logging.NewNop()
	}
	e := &Executor{cfg: cfg, log: log}
	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return e
}

// ExecuteCheck invokes one checker with the configured timeout. A returned
// error or a panic becomes a StatusError result; exceeding the timeout
// yields StatusTimeout and the invocation is abandoned, not cancelled
// forcibly. The checker may still be running and mutating its subsystem,
// so checkers must tolerate a re-invocation racing a stale one. The passed
// context is cancelled at the deadline so cooperative checkers can stop.
func (e *Executor) ExecuteCheck(ctx context.Context, c Checker, opts Options) CheckResult {
	timeout := e.cfg.CheckTimeout
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned check can deliver its late result and exit.
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{
					Name:    c.Name(),
					Status:  StatusError,
					Message: fmt.Sprintf("check panicked: %v", r),
					Error: &CheckError{
						Category:    c.Component(),
						Severity:    SeverityCritical,
						Recoverable: false,
						Retryable:   true,
						Message:     fmt.Sprintf("panic: %v", r),
						Stack:       string(debug.Stack()),
					},
				}
			}
		}()
		done <- e.invoke(cctx, c, opts)
	}()

	select {
	case res := <-done:
		res.Duration = time.Since(start)
		if res.Name == "" {
			res.Name = c.Name()
		}
		return res
	case <-cctx.Done():
		e.log.Warn("check timed out", logging.Fields{
			"check":   c.Name(),
			"timeout": timeout.String(),
		})
		return CheckResult{
			Name:     c.Name(),
			Status:   StatusTimeout,
			Message:  fmt.Sprintf("check did not complete within %s", timeout),
			Duration: time.Since(start),
		}
	}
}

// invoke runs the checker and folds returned errors into structured results.
// Engine-level codes are distinguished so callers can tell a tripped breaker
// from a genuine check failure.
func (e *Executor) invoke(ctx context.Context, c Checker, opts Options) CheckResult {
	res, err := c.Check(ctx, opts)
	if err != nil {
		switch CodeOf(err) {
		case ErrCodeCheckTimeout:
			return CheckResult{
				Name:    c.Name(),
				Status:  StatusTimeout,
				Message: err.Error(),
			}
		case ErrCodeCircuitOpen:
			return CheckResult{
				Name:    c.Name(),
				Status:  StatusError,
				Message: err.Error(),
				Error: &CheckError{
					Category:    "circuit_breaker",
					Severity:    SeverityMedium,
					Actionable:  false,
					Recoverable: true,
					Retryable:   true,
					Message:     err.Error(),
				},
			}
		}
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: err.Error(),
			Error: &CheckError{
				Category:    c.Component(),
				Severity:    SeverityHigh,
				Actionable:  true,
				Recoverable: true,
				Retryable:   true,
				Message:     err.Error(),
				Stack:       fmt.Sprintf("%+v", err),
			},
		}
	}
	if res == nil {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "checker returned no result",
		}
	}
	return *res
}

// ExecuteAll runs the checkers with bounded parallelism. The returned slice
// matches the input order regardless of completion order, and every checker
// contributes exactly one result. Scheduling is pool-based: as one check
// finishes the next queued one starts immediately, so a fast check never
// waits on a slow sibling from the same wave. progress, when non-nil, is
// invoked after each completion in completion order with Completed strictly
// increasing by one.
func (e *Executor) ExecuteAll(ctx context.Context, checkers []Checker, opts Options, progress func(Progress)) []CheckResult {
	results := make([]CheckResult, len(checkers))
	if len(checkers) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()

			var res CheckResult
			if err := sem.Acquire(ctx, 1); err != nil {
				res = CheckResult{
					Name:    c.Name(),
					Status:  StatusSkipped,
					Message: "execution cancelled before check started",
				}
			} else {
				if e.limiter != nil {
					_ = e.limiter.Wait(ctx)
				}
				res = e.ExecuteCheck(ctx, c, opts)
				sem.Release(1)
			}

			mu.Lock()
			results[i] = res
			completed++
			if progress != nil {
				progress(Progress{
					Component:  c.Component(),
					Check:      c.Name(),
					Completed:  completed,
					Total:      len(checkers),
					Percentage: float64(completed) / float64(len(checkers)) * 100,
				})
			}
			mu.Unlock()
		}(i, c)
	}

	wg.Wait()
	return results
}
