// Package cli provides testable command implementations for the Archivio
// doctor CLI.
//
// The cobra commands in cmd/doctor are thin wrappers that delegate to these
// functions, so the command logic can be exercised in tests with an injected
// service and writer. Everything printed here has passed through the
// sanitizer; raw engine output never reaches a writer.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/archivio/doctor/internal/audit"
	"github.com/archivio/doctor/internal/backup"
	"github.com/archivio/doctor/internal/config"
	"github.com/archivio/doctor/internal/diagnostics"
	"github.com/archivio/doctor/internal/logging"
)

// DiagnosticsRunner is the service surface the commands need; it allows
// mocking in tests.
type DiagnosticsRunner interface {
	RunAll(ctx context.Context, opts *diagnostics.RunOptions) (*diagnostics.Report, error)
	AutoFix(ctx context.Context, issues []diagnostics.Issue) ([]diagnostics.FixResult, error)
	CacheStats() diagnostics.CacheStats
	CircuitBreakerStats(check string) diagnostics.BreakerStats
}

// BuildService assembles a fully wired diagnostic service from engine
// configuration: storage and search checkers against the application
// database, plus filesystem, system and config checkers.
func BuildService(cfg *config.EngineConfig, db *sql.DB, log logging.Logger, auditLog audit.Logger) *diagnostics.Service {
	svc := diagnostics.NewService(diagnostics.ServiceConfig{
		Executor: diagnostics.ExecutorConfig{
			CheckTimeout:   cfg.CheckTimeout,
			MaxConcurrency: cfg.MaxConcurrency,
			RateLimit:      cfg.RateLimit,
		},
		Breaker: diagnostics.BreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
		},
		Cache: diagnostics.CacheConfig{
			DefaultTTL: cfg.CacheTTL,
			MaxSize:    cfg.CacheMaxSize,
		},
		Monitor: diagnostics.MonitorConfig{
			MaxMemoryMB: cfg.MaxMemoryMB,
			MaxCPUTime:  cfg.MaxCPUTime,
		},
	}, log, auditLog)

	bak := backup.NewTarballFacility(log)

	svc.RegisterCheckers([]diagnostics.Checker{
		diagnostics.NewDatabaseChecker(db, diagnostics.DatabaseCheckerConfig{
			RequiredTables: []diagnostics.TableSpec{
				{Name: "records", Columns: []diagnostics.ColumnSpec{
					{Name: "id", Type: "INTEGER"},
					{Name: "title", Type: "TEXT"},
					{Name: "body", Type: "TEXT"},
					{Name: "created_at", Type: "TEXT"},
					{Name: "updated_at", Type: "TEXT"},
				}},
				{Name: "collections", Columns: []diagnostics.ColumnSpec{
					{Name: "id", Type: "INTEGER"},
					{Name: "name", Type: "TEXT"},
				}},
				{Name: "record_collections", Columns: []diagnostics.ColumnSpec{
					{Name: "record_id", Type: "INTEGER"},
					{Name: "collection_id", Type: "INTEGER"},
				}},
			},
			RequiredIndexes: []diagnostics.IndexSpec{
				{Name: "idx_records_updated_at", Table: "records", Columns: []string{"updated_at"}},
				{Name: "idx_record_collections_record", Table: "record_collections", Columns: []string{"record_id"}},
			},
			DataDir:   cfg.DataDir,
			BackupDir: cfg.BackupDir,
		}, bak, log),
		diagnostics.NewSearchChecker(db, diagnostics.SearchCheckerConfig{
			SourceTable:    "records",
			IndexTable:     "records_search",
			DriftTolerance: 0.05,
			RebuildStatements: []string{
				"DELETE FROM records_search",
				"INSERT INTO records_search (record_id, title, body) SELECT id, title, body FROM records",
			},
		}, log),
		diagnostics.NewFilesystemChecker(diagnostics.FilesystemCheckerConfig{
			RequiredDirs: []string{cfg.DataDir, cfg.BackupDir},
		}, log),
		diagnostics.NewSystemChecker(diagnostics.SystemCheckerConfig{}, log),
		diagnostics.NewConfigChecker(diagnostics.ConfigCheckerConfig{
			Path:         cfg.ConfigPath,
			RequiredKeys: []string{"storage.path", "server.port", "server.host"},
			Defaults: map[string]interface{}{
				"storage.path": cfg.DatabasePath,
				"server.port":  8420,
				"server.host":  "127.0.0.1",
			},
		}, log),
	})
	return svc
}

// RunDiagnose executes a full diagnostic run and renders the sanitized
// report in the requested format.
func RunDiagnose(ctx context.Context, svc DiagnosticsRunner, components []string, timeout time.Duration, outputFormat string, verbose bool, writer io.Writer) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if verbose {
		fmt.Fprintln(writer, "Running diagnostics...")
	}
	report, err := svc.RunAll(ctx, &diagnostics.RunOptions{Components: components})
	if err != nil {
		return errors.Wrap(err, "diagnostic run failed")
	}

	return OutputReport(diagnostics.SanitizeReport(*report), outputFormat, verbose, writer)
}

// RunFix executes a diagnostic run and applies auto-fixes for the fixable
// issues found, printing one line per fix attempt. Fixes whose suggestion
// requires confirmation are only applied when skipConfirmation is set; the
// rest are listed so the operator can re-run with --yes.
func RunFix(ctx context.Context, svc DiagnosticsRunner, components []string, skipConfirmation bool, writer io.Writer) error {
	report, err := svc.RunAll(ctx, &diagnostics.RunOptions{Components: components})
	if err != nil {
		return errors.Wrap(err, "diagnostic run failed")
	}

	var fixable, deferred []diagnostics.Issue
	for _, issue := range report.Issues {
		if !issue.AutoFixable {
			continue
		}
		if issue.Fix != nil && issue.Fix.RequiresConfirmation && !skipConfirmation {
			deferred = append(deferred, issue)
			continue
		}
		fixable = append(fixable, issue)
	}

	for _, issue := range deferred {
		s := diagnostics.SanitizeIssue(issue)
		fmt.Fprintf(writer, "SKIPPED (needs --yes): %s: %s\n", s.ID, s.Message)
	}
	if len(fixable) == 0 {
		fmt.Fprintln(writer, "No fixable issues.")
		return nil
	}

	results, err := svc.AutoFix(ctx, fixable)
	if err != nil {
		return errors.Wrap(err, "auto-fix failed")
	}
	for _, fr := range results {
		status := "FIXED"
		if !fr.Success {
			status = "FAILED"
		}
		fmt.Fprintf(writer, "%s: %s: %s", status, fr.IssueID, fr.Message)
		if fr.BackupID != "" {
			fmt.Fprintf(writer, " (backup %s)", fr.BackupID)
		}
		fmt.Fprintln(writer)
	}
	return nil
}

// EngineStats bundles the observable engine state for the stats command.
type EngineStats struct {
	Cache    diagnostics.CacheStats              `json:"cache" yaml:"cache"`
	Breakers map[string]diagnostics.BreakerStats `json:"breakers" yaml:"breakers"`
}

// RunStats prints cache occupancy and circuit breaker state for the named
// checks.
func RunStats(svc DiagnosticsRunner, checks []string, outputFormat string, writer io.Writer) error {
	out := EngineStats{
		Cache:    svc.CacheStats(),
		Breakers: make(map[string]diagnostics.BreakerStats, len(checks)),
	}
	for _, check := range checks {
		out.Breakers[check] = svc.CircuitBreakerStats(check)
	}

	switch strings.ToLower(outputFormat) {
	case "json":
		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(writer)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	default:
		fmt.Fprintf(writer, "Cache: %d/%d entries\n", out.Cache.Size, out.Cache.MaxSize)
		for _, check := range checks {
			bs := out.Breakers[check]
			fmt.Fprintf(writer, "Breaker %-24s %-9s failures=%d\n", check, bs.State, bs.Failures)
		}
		return nil
	}
}

// OutputReport renders an already-sanitized report in the requested format.
func OutputReport(report diagnostics.Report, outputFormat string, verbose bool, writer io.Writer) error {
	switch strings.ToLower(outputFormat) {
	case "json":
		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(writer)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	case "table":
		return outputTable(report, verbose, writer)
	default:
		return errors.Newf("unsupported output format: %s", outputFormat)
	}
}

func outputTable(report diagnostics.Report, verbose bool, writer io.Writer) error {
	fmt.Fprintln(writer, "Archivio Doctor - Diagnostic Report")
	fmt.Fprintln(writer, "===================================")
	fmt.Fprintf(writer, "Run:      %s\n", report.RunID)
	fmt.Fprintf(writer, "Status:   %s\n", report.OverallStatus)
	fmt.Fprintf(writer, "Checks:   %d total, %d passed, %d warnings, %d errors, %d skipped\n",
		report.Summary.TotalChecks, report.Summary.Passed, report.Summary.Warnings,
		report.Summary.Errors, report.Summary.Skipped)
	fmt.Fprintf(writer, "Duration: %v\n\n", report.Duration)

	for _, comp := range report.Components {
		fmt.Fprintf(writer, "[%s] %s\n", strings.ToUpper(string(comp.Status)), comp.Component)
		for _, check := range comp.Checks {
			fmt.Fprintf(writer, "  %s %-24s %s\n", statusMarker(check.Status), check.Name, check.Message)
			if verbose {
				for k, v := range check.Details {
					fmt.Fprintf(writer, "      %s: %v\n", k, v)
				}
			}
		}
	}

	if len(report.Issues) > 0 {
		fmt.Fprintf(writer, "\nIssues (%d):\n", len(report.Issues))
		for _, issue := range report.Issues {
			fixable := ""
			if issue.AutoFixable {
				fixable = " [auto-fixable]"
			}
			fmt.Fprintf(writer, "  * [%s] %s%s\n", issue.Severity, issue.Message, fixable)
		}
	}
	if len(report.Recommendations) > 0 {
		fmt.Fprintln(writer, "\nRecommendations:")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(writer, "  - %s\n", rec)
		}
	}
	return nil
}

func statusMarker(s diagnostics.Status) string {
	switch s {
	case diagnostics.StatusPass:
		return "PASS"
	case diagnostics.StatusWarning:
		return "WARN"
	case diagnostics.StatusTimeout:
		return "TIME"
	case diagnostics.StatusSkipped:
		return "SKIP"
	default:
		return "FAIL"
	}
}
