// Package diagnostics contains the self-diagnostic and self-healing engine
// embedded in Archivio. It evaluates the health of internal subsystems
// (storage, search index, filesystem, configuration, process resources),
// reports structured results, and can attempt bounded automatic remediation.
//
// The engine is built from a small set of cooperating components:
//
//   - Executor: runs checks with per-check timeouts and bounded parallelism
//   - CircuitBreaker: per-check failure tracking with trip/reset semantics
//   - Cache: TTL- and size-bounded store for component results
//   - ResourceMonitor: process memory/CPU sampling with configured limits
//   - Service: the orchestrator tying checkers, breaker and cache together
//
// Results returned by the Service are plain data; callers crossing a process
// boundary (API responses, log sinks) must pass them through the sanitizer
// functions in this package first.
package diagnostics

import (
	"time"
)

// Status is the outcome of a single check invocation.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// statusRank orders check statuses from best to worst for aggregation.
func statusRank(s Status) int {
	switch s {
	case StatusPass:
		return 0
	case StatusSkipped:
		return 1
	case StatusWarning:
		return 2
	case StatusTimeout:
		return 3
	case StatusError:
		return 4
	default:
		return 0
	}
}

// ComponentStatus is the aggregate health of one subsystem.
type ComponentStatus string

const (
	ComponentHealthy   ComponentStatus = "healthy"
	ComponentDegraded  ComponentStatus = "degraded"
	ComponentUnhealthy ComponentStatus = "unhealthy"
)

func componentStatusRank(s ComponentStatus) int {
	switch s {
	case ComponentHealthy:
		return 0
	case ComponentDegraded:
		return 1
	case ComponentUnhealthy:
		return 2
	default:
		return 0
	}
}

// Severity categorizes issues for prioritization.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Options carries caller-supplied parameters into a check run. Option values
// participate in cache key generation, so identical options must compare
// equal after canonical serialization.
type Options map[string]interface{}

// CheckError is the structured error attached to a failed check result.
// Stack is populated when the failure carries one and is stripped by the
// sanitizer before the result leaves the process.
type CheckError struct {
	Category    string   `json:"category,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Actionable  bool     `json:"actionable"`
	Recoverable bool     `json:"recoverable"`
	Retryable   bool     `json:"retryable"`
	Message     string   `json:"message"`
	Stack       string   `json:"stack,omitempty"`
}

// CheckResult is produced by exactly one checker invocation and is never
// mutated after being returned; aggregates only wrap it.
type CheckResult struct {
	Name     string                 `json:"name"`
	Status   Status                 `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Error    *CheckError            `json:"error,omitempty"`
	Issues   []Issue                `json:"issues,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// FixSuggestion describes the remediation a checker can apply for an issue.
type FixSuggestion struct {
	Description          string        `json:"description"`
	Command              string        `json:"command,omitempty"`
	RequiresConfirmation bool          `json:"requires_confirmation"`
	EstimatedDuration    time.Duration `json:"estimated_duration,omitempty"`
}

// Issue is an actionable finding derived from a check result. Issues are
// never persisted independently of the run that produced them.
type Issue struct {
	ID              string                 `json:"id"`
	Severity        Severity               `json:"severity"`
	Component       string                 `json:"component"`
	Check           string                 `json:"check"`
	Message         string                 `json:"message"`
	AutoFixable     bool                   `json:"auto_fixable"`
	Fix             *FixSuggestion         `json:"fix,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// FixResult is the outcome of one auto-fix attempt for one issue.
type FixResult struct {
	IssueID           string        `json:"issue_id"`
	Success           bool          `json:"success"`
	Message           string        `json:"message"`
	BackupID          string        `json:"backup_id,omitempty"`
	RollbackAvailable bool          `json:"rollback_available,omitempty"`
	Duration          time.Duration `json:"duration"`
	Error             string        `json:"error,omitempty"`
}

// ComponentResult is the aggregate health snapshot for one subsystem. It is
// created fresh per run unless a valid cache entry exists, and is owned by
// the cache until TTL expiry or explicit invalidation.
type ComponentResult struct {
	Component string          `json:"component"`
	Status    ComponentStatus `json:"status"`
	Checks    []CheckResult   `json:"checks"`
	Issues    []Issue         `json:"issues"`
	Duration  time.Duration   `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`
}

// Summary counts check outcomes across a whole diagnostic run.
type Summary struct {
	TotalChecks int `json:"total_checks"`
	Passed      int `json:"passed"`
	Warnings    int `json:"warnings"`
	Errors      int `json:"errors"`
	Skipped     int `json:"skipped"`
}

// Report is the full-system health snapshot produced once per RunAll
// invocation; it is never mutated after return.
type Report struct {
	RunID           string            `json:"run_id"`
	Timestamp       time.Time         `json:"timestamp"`
	OverallStatus   ComponentStatus   `json:"overall_status"`
	Components      []ComponentResult `json:"components"`
	Summary         Summary           `json:"summary"`
	Issues          []Issue           `json:"issues"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Duration        time.Duration     `json:"duration"`
}

// Progress reports executor completion state after each individual check.
// Completed increases by exactly one per callback.
type Progress struct {
	Component  string  `json:"component"`
	Check      string  `json:"check"`
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// worstCheckStatus returns the aggregate component status for a set of
// check results: any error or timeout makes the component unhealthy, any
// warning degrades it, otherwise it is healthy.
func worstCheckStatus(checks []CheckResult) ComponentStatus {
	worst := StatusPass
	for _, c := range checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	switch worst {
	case StatusError, StatusTimeout:
		return ComponentUnhealthy
	case StatusWarning:
		return ComponentDegraded
	default:
		return ComponentHealthy
	}
}
