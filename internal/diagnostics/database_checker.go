// Storage checker: validates the application's SQLite database and can
// repair a bounded set of schema and storage problems.
package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/archivio/doctor/internal/backup"
	"github.com/archivio/doctor/internal/logging"
)

// Fix dispatch markers carried in issue details.
const (
	fixCreateIndex = "create_index"
	fixAddColumn   = "add_column"
	fixVacuum      = "vacuum"
)

// ColumnSpec names a required column and the type used when auto-fix has to
// add it. An empty type falls back to TEXT.
type ColumnSpec struct {
	Name string
	Type string
}

// TableSpec names a required table and its required columns.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// IndexSpec names a required secondary index.
type IndexSpec struct {
	Name    string
	Table   string
	Columns []string
}

// DatabaseCheckerConfig describes the expected schema and storage limits.
type DatabaseCheckerConfig struct {
	RequiredTables  []TableSpec
	RequiredIndexes []IndexSpec

	// FragmentationThreshold is the freelist/page ratio above which the
	// database is considered fragmented. Zero means 0.25.
	FragmentationThreshold float64

	// DataDir and BackupDir enable a pre-fix backup when set.
	DataDir   string
	BackupDir string
}

// DatabaseChecker inspects connectivity, integrity, schema completeness and
// fragmentation of the storage database.
type DatabaseChecker struct {
	BaseChecker
	db     *sql.DB
	cfg    DatabaseCheckerConfig
	backup backup.Facility
}

// NewDatabaseChecker builds the storage checker. bak may be nil; fixes then
// run without a safety backup.
func NewDatabaseChecker(db *sql.DB, cfg DatabaseCheckerConfig, bak backup.Facility, log logging.Logger) *DatabaseChecker {
	if cfg.FragmentationThreshold <= 0 {
		cfg.FragmentationThreshold = 0.25
	}
	return &DatabaseChecker{
		BaseChecker: NewBaseChecker("database", "storage", true, log),
		db:          db,
		cfg:         cfg,
		backup:      bak,
	}
}

// Check runs the storage sub-checks and aggregates the worst status across
// them. One issue is attached per actionable failure; unexpected extra
// tables are reported as a detail only.
func (d *DatabaseChecker) Check(ctx context.Context, _ Options) (*CheckResult, error) {
	details := make(map[string]interface{})
	var issues []Issue
	worst := StatusPass

	degrade := func(s Status) {
		if statusRank(s) > statusRank(worst) {
			worst = s
		}
	}

	if err := d.db.PingContext(ctx); err != nil {
		return d.ErrorResult("database is unreachable", err, details), nil
	}
	details["connectivity"] = "ok"

	var integrity string
	if err := d.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return d.ErrorResult("integrity check failed to run", err, details), nil
	}
	details["integrity"] = integrity
	if integrity != "ok" {
		degrade(StatusError)
		issues = append(issues, d.NewIssue(SeverityCritical, "database integrity check failed", IssueOptions{
			Recommendations: []string{
				"Restore the database from the most recent backup",
				"Run PRAGMA integrity_check manually to inspect the corruption",
			},
			Details: map[string]interface{}{"integrity": integrity},
		}))
	}

	tables, err := d.listSchema(ctx, "table")
	if err != nil {
		return d.ErrorResult("schema inspection failed", err, details), nil
	}
	expected := make(map[string]struct{})
	for _, spec := range d.cfg.RequiredTables {
		expected[spec.Name] = struct{}{}
		if _, ok := tables[spec.Name]; !ok {
			degrade(StatusError)
			issues = append(issues, d.NewIssue(SeverityCritical,
				fmt.Sprintf("required table %q is missing", spec.Name), IssueOptions{
					Recommendations: []string{
						"Restore the schema from a backup or re-run application migrations",
					},
					Details: map[string]interface{}{"table": spec.Name},
				}))
			continue
		}
		missing, err := d.missingColumns(ctx, spec)
		if err != nil {
			return d.ErrorResult("column inspection failed", err, details), nil
		}
		for _, col := range missing {
			degrade(StatusError)
			issues = append(issues, d.NewIssue(SeverityHigh,
				fmt.Sprintf("table %q is missing column %q", spec.Name, col.Name), IssueOptions{
					AutoFixable: true,
					Fix:         NewFix(fmt.Sprintf("Add column %s to %s", col.Name, spec.Name), addColumnSQL(spec.Name, col)),
					Details: map[string]interface{}{
						"fix":    fixAddColumn,
						"table":  spec.Name,
						"column": col.Name,
						"type":   columnType(col),
					},
				}))
		}
	}

	// Extra tables are harmless; note them without raising an issue.
	var extra []string
	for name := range tables {
		if _, ok := expected[name]; !ok && !strings.HasPrefix(name, "sqlite_") {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		details["unexpected_tables"] = extra
	}

	indexes, err := d.listSchema(ctx, "index")
	if err != nil {
		return d.ErrorResult("index inspection failed", err, details), nil
	}
	for _, spec := range d.cfg.RequiredIndexes {
		if _, ok := indexes[spec.Name]; ok {
			continue
		}
		degrade(StatusWarning)
		issues = append(issues, d.NewIssue(SeverityMedium,
			fmt.Sprintf("secondary index %q is missing", spec.Name), IssueOptions{
				AutoFixable: true,
				Fix:         NewFix(fmt.Sprintf("Recreate index %s on %s", spec.Name, spec.Table), createIndexSQL(spec)),
				Details: map[string]interface{}{
					"fix":   fixCreateIndex,
					"index": spec.Name,
				},
			}))
	}

	ratio, err := d.fragmentation(ctx)
	if err != nil {
		return d.ErrorResult("fragmentation inspection failed", err, details), nil
	}
	details["fragmentation"] = ratio
	if ratio > d.cfg.FragmentationThreshold {
		degrade(StatusWarning)
		issues = append(issues, d.NewIssue(SeverityLow,
			fmt.Sprintf("database is %.0f%% fragmented", ratio*100), IssueOptions{
				AutoFixable: true,
				Fix:         NewFix("Reclaim fragmented storage", "VACUUM"),
				Details:     map[string]interface{}{"fix": fixVacuum, "ratio": ratio},
			}))
	}

	res := &CheckResult{
		Name:    d.Name(),
		Status:  worst,
		Message: fmt.Sprintf("storage checks completed with %d issue(s)", len(issues)),
		Details: details,
		Issues:  issues,
	}
	if worst == StatusPass {
		res.Message = "storage is healthy"
	}
	return res, nil
}

// AutoFix dispatches on the issue's fix marker. A backup is attempted once
// before the first mutating fix; backup failure is logged and does not
// block remediation.
func (d *DatabaseChecker) AutoFix(ctx context.Context, issues []Issue, _ Options) ([]FixResult, error) {
	backupID := d.maybeBackup(ctx)

	results := make([]FixResult, 0, len(issues))
	for _, issue := range issues {
		start := time.Now()
		marker, _ := issue.Details["fix"].(string)

		var err error
		var message string
		switch marker {
		case fixCreateIndex:
			message = "index recreated"
			err = d.execFix(ctx, issue.Fix)
		case fixAddColumn:
			message = "column added"
			err = d.execFix(ctx, issue.Fix)
		case fixVacuum:
			message = "storage reclaimed"
			_, err = d.db.ExecContext(ctx, "VACUUM")
		default:
			results = append(results, d.NewFixResult(issue.ID, false,
				"no remediation routine for issue", FixOutcome{Duration: time.Since(start)}))
			continue
		}

		out := FixOutcome{
			BackupID:          backupID,
			RollbackAvailable: backupID != "",
			Duration:          time.Since(start),
			Err:               err,
		}
		if err != nil {
			results = append(results, d.NewFixResult(issue.ID, false, "fix failed", out))
			continue
		}
		results = append(results, d.NewFixResult(issue.ID, true, message, out))
	}
	return results, nil
}

func (d *DatabaseChecker) execFix(ctx context.Context, fix *FixSuggestion) error {
	if fix == nil || fix.Command == "" {
		return errors.New("issue carries no fix command")
	}
	_, err := d.db.ExecContext(ctx, fix.Command)
	return err
}

// maybeBackup takes a safety backup when a facility and data directory are
// configured. Returns the backup ID, or "" when no backup was taken.
func (d *DatabaseChecker) maybeBackup(ctx context.Context) string {
	if d.backup == nil || d.cfg.DataDir == "" || d.cfg.BackupDir == "" {
		return ""
	}
	res, err := d.backup.CreateBackup(ctx, backup.Options{
		DataDir:   d.cfg.DataDir,
		OutputDir: d.cfg.BackupDir,
		Label:     "storage",
	})
	if err != nil {
		d.Log().Warn("pre-fix backup failed, continuing", logging.Fields{"error": err.Error()})
		return ""
	}
	return res.ID
}

func (d *DatabaseChecker) listSchema(ctx context.Context, kind string) (map[string]struct{}, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = ?", kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

func (d *DatabaseChecker) missingColumns(ctx context.Context, spec TableSpec) ([]ColumnSpec, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", spec.Name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		present[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []ColumnSpec
	for _, col := range spec.Columns {
		if _, ok := present[col.Name]; !ok {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

func (d *DatabaseChecker) fragmentation(ctx context.Context) (float64, error) {
	var freelist, pages int64
	if err := d.db.QueryRowContext(ctx, "PRAGMA freelist_count").Scan(&freelist); err != nil {
		return 0, err
	}
	if err := d.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, err
	}
	if pages == 0 {
		return 0, nil
	}
	return float64(freelist) / float64(pages), nil
}

// columnType infers the SQL type used when adding a missing column.
func columnType(col ColumnSpec) string {
	if col.Type == "" {
		return "TEXT"
	}
	return col.Type
}

func addColumnSQL(table string, col ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %q ADD COLUMN %q %s", table, col.Name, columnType(col))
}

func createIndexSQL(spec IndexSpec) string {
	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = fmt.Sprintf("%q", c)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %q ON %q (%s)",
		spec.Name, spec.Table, strings.Join(cols, ", "))
}
