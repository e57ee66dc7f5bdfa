// Search checker: verifies the derived search index table against the
// canonical records table and can rebuild the index from scratch.
package diagnostics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/archivio/doctor/internal/logging"
)

const fixRebuildIndex = "rebuild_index"

// SearchCheckerConfig names the canonical and derived tables and the
// statements that rebuild the index.
type SearchCheckerConfig struct {
	// SourceTable is the canonical records table.
	SourceTable string

	// IndexTable is the derived search index table.
	IndexTable string

	// DriftTolerance is the accepted fraction of row-count drift between
	// source and index before the index is considered stale.
	DriftTolerance float64

	// RebuildStatements are executed in order, inside one transaction, to
	// rebuild the index table from the source table.
	RebuildStatements []string
}

// SearchChecker inspects the derived search index for presence and drift.
type SearchChecker struct {
	BaseChecker
	db  *sql.DB
	cfg SearchCheckerConfig
}

// NewSearchChecker builds the search index checker.
func NewSearchChecker(db *sql.DB, cfg SearchCheckerConfig, log logging.Logger) *SearchChecker {
	return &SearchChecker{
		BaseChecker: NewBaseChecker("search_index", "search", false, log),
		db:          db,
		cfg:         cfg,
	}
}

// Check verifies the index table exists and that its row count tracks the
// source table within the configured tolerance.
func (s *SearchChecker) Check(ctx context.Context, _ Options) (*CheckResult, error) {
	details := make(map[string]interface{})

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		s.cfg.IndexTable).Scan(&exists)
	if err != nil {
		return s.ErrorResult("search index inspection failed", err, details), nil
	}
	if exists == 0 {
		issue := s.NewIssue(SeverityHigh,
			fmt.Sprintf("search index table %q is missing", s.cfg.IndexTable), IssueOptions{
				AutoFixable: true,
				Fix:         NewFix("Rebuild the search index from the records table", ""),
				Details:     map[string]interface{}{"fix": fixRebuildIndex},
			})
		res := s.ErrorResult("search index table is missing", nil, details)
		res.Issues = []Issue{issue}
		return res, nil
	}

	srcCount, err := s.rowCount(ctx, s.cfg.SourceTable)
	if err != nil {
		return s.ErrorResult("record count failed", err, details), nil
	}
	idxCount, err := s.rowCount(ctx, s.cfg.IndexTable)
	if err != nil {
		return s.ErrorResult("index count failed", err, details), nil
	}
	details["source_rows"] = srcCount
	details["index_rows"] = idxCount

	drift := srcCount - idxCount
	if drift < 0 {
		drift = -drift
	}
	allowed := int64(float64(srcCount) * s.cfg.DriftTolerance)
	if drift > allowed {
		issue := s.NewIssue(SeverityMedium,
			fmt.Sprintf("search index is stale: %d records vs %d indexed", srcCount, idxCount),
			IssueOptions{
				AutoFixable: true,
				Fix:         NewFix("Rebuild the search index from the records table", ""),
				Recommendations: []string{
					"Rebuild the search index to restore full search coverage",
				},
				Details: map[string]interface{}{
					"fix":   fixRebuildIndex,
					"drift": drift,
				},
			})
		res := s.WarningResult("search index has drifted from the records table", details)
		res.Issues = []Issue{issue}
		return res, nil
	}

	return s.SuccessResult("search index is consistent", details), nil
}

// AutoFix rebuilds the index table inside one transaction.
func (s *SearchChecker) AutoFix(ctx context.Context, issues []Issue, _ Options) ([]FixResult, error) {
	results := make([]FixResult, 0, len(issues))
	rebuilt := false

	for _, issue := range issues {
		marker, _ := issue.Details["fix"].(string)
		if marker != fixRebuildIndex {
			results = append(results, s.NewFixResult(issue.ID, false,
				"no remediation routine for issue", FixOutcome{}))
			continue
		}
		if rebuilt {
			// One rebuild covers every stale-index issue in the batch.
			results = append(results, s.NewFixResult(issue.ID, true,
				"search index rebuilt", FixOutcome{}))
			continue
		}
		out := s.rebuild(ctx)
		rebuilt = out.Err == nil
		if out.Err != nil {
			results = append(results, s.NewFixResult(issue.ID, false, "index rebuild failed", out))
			continue
		}
		results = append(results, s.NewFixResult(issue.ID, true, "search index rebuilt", out))
	}
	return results, nil
}

func (s *SearchChecker) rebuild(ctx context.Context) FixOutcome {
	if len(s.cfg.RebuildStatements) == 0 {
		return FixOutcome{Err: errors.New("no rebuild statements configured")}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FixOutcome{Err: errors.Wrap(err, "begin rebuild transaction")}
	}
	for _, stmt := range s.cfg.RebuildStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return FixOutcome{Err: errors.Wrapf(err, "rebuild statement %q", stmt)}
		}
	}
	if err := tx.Commit(); err != nil {
		return FixOutcome{Err: errors.Wrap(err, "commit rebuild")}
	}
	s.Log().Info("search index rebuilt", logging.Fields{"table": s.cfg.IndexTable})
	return FixOutcome{}
}

func (s *SearchChecker) rowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n)
	return n, err
}
