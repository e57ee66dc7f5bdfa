// System checker: process-level resource health. Unlike the resource
// monitor, which budgets one diagnostic run, this checker evaluates the
// steady-state footprint of the process itself.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/archivio/doctor/internal/logging"
)

// SystemCheckerConfig sets the warning thresholds for process health.
type SystemCheckerConfig struct {
	// MaxRSSMB warns when resident memory exceeds it. Zero means 1024.
	MaxRSSMB uint64

	// MaxCPUPercent warns when process CPU usage exceeds it. Zero means 80.
	MaxCPUPercent float64

	// MaxGoroutines warns when the goroutine count exceeds it. Zero means
	// 5000.
	MaxGoroutines int
}

// SystemChecker samples the running process and flags resource pressure.
// It has no auto-fix; resource pressure needs an operator decision.
type SystemChecker struct {
	BaseChecker
	cfg SystemCheckerConfig
}

// NewSystemChecker builds the process resource checker.
func NewSystemChecker(cfg SystemCheckerConfig, log logging.Logger) *SystemChecker {
	if cfg.MaxRSSMB == 0 {
		cfg.MaxRSSMB = 1024
	}
	if cfg.MaxCPUPercent <= 0 {
		cfg.MaxCPUPercent = 80
	}
	if cfg.MaxGoroutines <= 0 {
		cfg.MaxGoroutines = 5000
	}
	return &SystemChecker{
		BaseChecker: NewBaseChecker("process_resources", "system", false, log),
		cfg:         cfg,
	}
}

// Check samples memory, CPU and goroutine count and compares each against
// its threshold. Threshold breaches degrade the result to a warning; they
// are never treated as hard errors because the process is demonstrably
// still serving.
func (s *SystemChecker) Check(ctx context.Context, _ Options) (*CheckResult, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return s.ErrorResult("process inspection failed", err, nil), nil
	}

	details := make(map[string]interface{})
	var issues []Issue

	if mi, err := proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		rssMB := mi.RSS / (1024 * 1024)
		details["rss_mb"] = rssMB
		if rssMB > s.cfg.MaxRSSMB {
			issues = append(issues, s.NewIssue(SeverityMedium,
				fmt.Sprintf("process uses %d MB of memory, threshold is %d MB", rssMB, s.cfg.MaxRSSMB),
				IssueOptions{
					Recommendations: []string{
						"Restart the process during a quiet period to release memory",
						"Inspect recent workload changes for memory growth",
					},
					Details: map[string]interface{}{"rss_mb": rssMB},
				}))
		}
	}

	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		details["cpu_percent"] = pct
		if pct > s.cfg.MaxCPUPercent {
			issues = append(issues, s.NewIssue(SeverityMedium,
				fmt.Sprintf("process CPU usage is %.1f%%, threshold is %.1f%%", pct, s.cfg.MaxCPUPercent),
				IssueOptions{
					Recommendations: []string{
						"Check for runaway background jobs or indexing loops",
					},
					Details: map[string]interface{}{"cpu_percent": pct},
				}))
		}
	}

	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		details["uptime"] = time.Since(time.UnixMilli(created)).Round(time.Second).String()
	}

	goroutines := runtime.NumGoroutine()
	details["goroutines"] = goroutines
	if goroutines > s.cfg.MaxGoroutines {
		issues = append(issues, s.NewIssue(SeverityHigh,
			fmt.Sprintf("%d goroutines are running, threshold is %d", goroutines, s.cfg.MaxGoroutines),
			IssueOptions{
				Recommendations: []string{
					"A goroutine count this high usually indicates a leak; capture a goroutine profile",
				},
				Details: map[string]interface{}{"goroutines": goroutines},
			}))
	}

	if len(issues) > 0 {
		res := s.WarningResult(fmt.Sprintf("process resources under pressure, %d finding(s)", len(issues)), details)
		res.Issues = issues
		return res, nil
	}
	return s.SuccessResult("process resources are within limits", details), nil
}
