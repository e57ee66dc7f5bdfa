// Checker contract and base helpers. Every subsystem checker is polymorphic
// over the Checker interface; BaseChecker supplies well-formed result,
// issue and fix-result construction so concrete checkers only contain the
// logic that actually inspects their subsystem.
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/archivio/doctor/internal/logging"
)

// Checker is the pluggable unit of diagnostic work. Implementations must be
// safe to invoke again while a prior timed-out invocation may still be
// running (the executor abandons, it does not cancel).
type Checker interface {
	// Name identifies the check; it doubles as the circuit breaker key.
	Name() string

	// Component names the subsystem this checker belongs to.
	Component() string

	// Critical marks checks whose failure should be treated as blocking
	// by callers rendering the report.
	Critical() bool

	// Check evaluates the subsystem and returns one result. A returned
	// error or a panic is converted to a StatusError result at the
	// executor boundary; it never aborts sibling checks.
	Check(ctx context.Context, opts Options) (*CheckResult, error)

	// AutoFix attempts bounded remediation for the given issues, one
	// FixResult per issue attempted. Failures are captured per-issue and
	// never propagate as errors past this boundary.
	AutoFix(ctx context.Context, issues []Issue, opts Options) ([]FixResult, error)
}

// BaseChecker provides identity and result-construction helpers for concrete
// checkers. Embed it and override Check (and AutoFix where remediation is
// supported).
type BaseChecker struct {
	name      string
	component string
	critical  bool
	log       logging.Logger
}

// NewBaseChecker builds the embedded base for a concrete checker.
func NewBaseChecker(name, component string, critical bool, log logging.Logger) BaseChecker {
	if log == nil {
		log = logging.NewNop()
	}
	return BaseChecker{name: name, component: component, critical: critical, log: log}
}

func (b *BaseChecker) Name() string      { return b.name }
func (b *BaseChecker) Component() string { return b.component }
func (b *BaseChecker) Critical() bool    { return b.critical }

// Log exposes the checker's logger to embedding types.
func (b *BaseChecker) Log() logging.Logger { return b.log }

// AutoFix is the default remediation routine: it signals "no remediation
// available" rather than failing, and logs so unrouted fixes are visible.
func (b *BaseChecker) AutoFix(_ context.Context, issues []Issue, _ Options) ([]FixResult, error) {
	b.log.Warn("checker has no auto-fix routine", logging.Fields{
		"checker":   b.name,
		"component": b.component,
		"issues":    len(issues),
	})
	return nil, nil
}

// SuccessResult builds a passing check result.
func (b *BaseChecker) SuccessResult(message string, details map[string]interface{}) *CheckResult {
	return &CheckResult{
		Name:    b.name,
		Status:  StatusPass,
		Message: message,
		Details: details,
	}
}

// WarningResult builds a warning check result.
func (b *BaseChecker) WarningResult(message string, details map[string]interface{}) *CheckResult {
	return &CheckResult{
		Name:    b.name,
		Status:  StatusWarning,
		Message: message,
		Details: details,
	}
}

// ErrorResult builds a failing check result, capturing the error message and
// stack into the structured error field. The stack survives until the result
// passes through the sanitizer.
func (b *BaseChecker) ErrorResult(message string, err error, details map[string]interface{}) *CheckResult {
	ce := &CheckError{
		Category:    b.component,
		Severity:    SeverityHigh,
		Actionable:  true,
		Recoverable: true,
		Retryable:   true,
		Message:     message,
	}
	if err != nil {
		ce.Message = err.Error()
		ce.Stack = fmt.Sprintf("%+v", errors.WithStack(err))
	}
	return &CheckResult{
		Name:    b.name,
		Status:  StatusError,
		Message: message,
		Details: details,
		Error:   ce,
	}
}

// IssueOptions carries the optional parts of a new issue.
type IssueOptions struct {
	AutoFixable     bool
	Fix             *FixSuggestion
	Recommendations []string
	Details         map[string]interface{}
}

// NewIssue derives an actionable finding from a failed sub-check. The ID is
// unique within a run: component:check:<random suffix>.
func (b *BaseChecker) NewIssue(severity Severity, message string, opts IssueOptions) Issue {
	return Issue{
		ID:              fmt.Sprintf("%s:%s:%s", b.component, b.name, uuid.NewString()[:8]),
		Severity:        severity,
		Component:       b.component,
		Check:           b.name,
		Message:         message,
		AutoFixable:     opts.AutoFixable,
		Fix:             opts.Fix,
		Recommendations: opts.Recommendations,
		Details:         opts.Details,
	}
}

// NewFix builds a fix suggestion. Confirmation is required by default;
// callers opt out explicitly by clearing the field afterwards.
func NewFix(description, command string) *FixSuggestion {
	return &FixSuggestion{
		Description:          description,
		Command:              command,
		RequiresConfirmation: true,
	}
}

// FixOutcome carries the optional parts of a fix result.
type FixOutcome struct {
	BackupID          string
	RollbackAvailable bool
	Duration          time.Duration
	Err               error
}

// NewFixResult builds the outcome record for one attempted fix.
func (b *BaseChecker) NewFixResult(issueID string, success bool, message string, out FixOutcome) FixResult {
	fr := FixResult{
		IssueID:           issueID,
		Success:           success,
		Message:           message,
		BackupID:          out.BackupID,
		RollbackAvailable: out.RollbackAvailable,
		Duration:          out.Duration,
	}
	if out.Err != nil {
		fr.Error = out.Err.Error()
	}
	return fr
}
