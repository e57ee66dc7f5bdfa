package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivio/doctor/internal/diagnostics"
)

// fakeRunner returns canned engine output for command tests.
type fakeRunner struct {
	report     *diagnostics.Report
	runErr     error
	fixResults []diagnostics.FixResult
	fixedWith  []diagnostics.Issue
}

func (f *fakeRunner) RunAll(_ context.Context, _ *diagnostics.RunOptions) (*diagnostics.Report, error) {
	return f.report, f.runErr
}

func (f *fakeRunner) AutoFix(_ context.Context, issues []diagnostics.Issue) ([]diagnostics.FixResult, error) {
	f.fixedWith = issues
	return f.fixResults, nil
}

func (f *fakeRunner) CacheStats() diagnostics.CacheStats {
	return diagnostics.CacheStats{Size: 1, MaxSize: 100, Keys: []string{"storage"}}
}

func (f *fakeRunner) CircuitBreakerStats(string) diagnostics.BreakerStats {
	return diagnostics.BreakerStats{State: diagnostics.BreakerClosed}
}

func sampleReport() *diagnostics.Report {
	return &diagnostics.Report{
		RunID:         "run-123",
		Timestamp:     time.Now(),
		OverallStatus: diagnostics.ComponentDegraded,
		Components: []diagnostics.ComponentResult{{
			Component: "storage",
			Status:    diagnostics.ComponentDegraded,
			Checks: []diagnostics.CheckResult{{
				Name:    "database",
				Status:  diagnostics.StatusWarning,
				Message: "index missing",
				Error:   &diagnostics.CheckError{Message: "warn", Stack: "secret stack"},
			}},
			Issues: []diagnostics.Issue{{
				ID:          "storage:database:aaaa0000",
				Component:   "storage",
				Check:       "database",
				Severity:    diagnostics.SeverityMedium,
				Message:     "index missing",
				AutoFixable: true,
				Fix: &diagnostics.FixSuggestion{
					Description:          "Recreate index",
					RequiresConfirmation: true,
				},
			}},
		}},
		Summary: diagnostics.Summary{TotalChecks: 1, Warnings: 1},
	}
}

func TestRunDiagnoseJSONIsSanitized(t *testing.T) {
	r := sampleReport()
	r.Issues = r.Components[0].Issues
	f := &fakeRunner{report: r}

	var buf bytes.Buffer
	err := RunDiagnose(context.Background(), f, nil, time.Minute, "json", false, &buf)
	require.NoError(t, err)

	var decoded diagnostics.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-123", decoded.RunID)
	require.NotNil(t, decoded.Components[0].Checks[0].Error)
	assert.Empty(t, decoded.Components[0].Checks[0].Error.Stack, "stacks must not reach the writer")
}

func TestRunDiagnoseTableOutput(t *testing.T) {
	r := sampleReport()
	r.Issues = r.Components[0].Issues
	f := &fakeRunner{report: r}

	var buf bytes.Buffer
	err := RunDiagnose(context.Background(), f, nil, 0, "table", true, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "run-123")
	assert.Contains(t, out, "[DEGRADED] storage")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "[auto-fixable]")
}

func TestRunDiagnoseUnsupportedFormat(t *testing.T) {
	f := &fakeRunner{report: sampleReport()}
	err := RunDiagnose(context.Background(), f, nil, 0, "xml", false, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunFixDefersConfirmationRequiredIssues(t *testing.T) {
	r := sampleReport()
	r.Issues = r.Components[0].Issues
	f := &fakeRunner{report: r}

	var buf bytes.Buffer
	err := RunFix(context.Background(), f, nil, false, &buf)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "SKIPPED (needs --yes)")
	assert.Contains(t, buf.String(), "No fixable issues.")
	assert.Nil(t, f.fixedWith)
}

func TestRunFixAppliesWithConfirmation(t *testing.T) {
	r := sampleReport()
	r.Issues = r.Components[0].Issues
	f := &fakeRunner{
		report: r,
		fixResults: []diagnostics.FixResult{{
			IssueID:  "storage:database:aaaa0000",
			Success:  true,
			Message:  "index recreated",
			BackupID: "storage-20260825-120000",
		}},
	}

	var buf bytes.Buffer
	err := RunFix(context.Background(), f, nil, true, &buf)
	require.NoError(t, err)

	require.Len(t, f.fixedWith, 1)
	assert.Contains(t, buf.String(), "FIXED: storage:database:aaaa0000")
	assert.Contains(t, buf.String(), "(backup storage-20260825-120000)")
}

func TestRunStatsFormats(t *testing.T) {
	f := &fakeRunner{}

	var jsonBuf bytes.Buffer
	require.NoError(t, RunStats(f, []string{"database"}, "json", &jsonBuf))
	var stats EngineStats
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &stats))
	assert.Equal(t, 1, stats.Cache.Size)
	assert.Contains(t, stats.Breakers, "database")

	var tableBuf bytes.Buffer
	require.NoError(t, RunStats(f, []string{"database"}, "table", &tableBuf))
	assert.Contains(t, tableBuf.String(), "Cache: 1/100 entries")
	assert.Contains(t, tableBuf.String(), "database")
}
