package diagnostics

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One in-memory database per connection; keep a single connection so
	// every statement sees the same schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSchema(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func testDatabaseConfig() DatabaseCheckerConfig {
	return DatabaseCheckerConfig{
		RequiredTables: []TableSpec{
			{Name: "records", Columns: []ColumnSpec{
				{Name: "id", Type: "INTEGER"},
				{Name: "title", Type: "TEXT"},
				{Name: "updated_at", Type: "TEXT"},
			}},
		},
		RequiredIndexes: []IndexSpec{
			{Name: "idx_records_updated_at", Table: "records", Columns: []string{"updated_at"}},
		},
	}
}

func TestDatabaseCheckerHealthySchema(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db,
		"CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT, updated_at TEXT)",
		"CREATE INDEX idx_records_updated_at ON records (updated_at)",
	)

	c := NewDatabaseChecker(db, testDatabaseConfig(), nil, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPass, res.Status)
	assert.Empty(t, res.Issues)
	assert.Equal(t, "ok", res.Details["integrity"])
}

func TestDatabaseCheckerMissingTable(t *testing.T) {
	db := openTestDB(t)

	c := NewDatabaseChecker(db, testDatabaseConfig(), nil, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, SeverityCritical, res.Issues[0].Severity)
	assert.False(t, res.Issues[0].AutoFixable, "a missing table needs a restore, not an auto-fix")
}

func TestDatabaseCheckerMissingIndexFixedByAutoFix(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db,
		"CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT, updated_at TEXT)",
	)

	c := NewDatabaseChecker(db, testDatabaseConfig(), nil, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, res.Status)
	require.Len(t, res.Issues, 1)
	issue := res.Issues[0]
	assert.True(t, issue.AutoFixable)
	require.NotNil(t, issue.Fix)
	assert.True(t, issue.Fix.RequiresConfirmation)

	fixes, err := c.AutoFix(context.Background(), res.Issues, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Success)
	assert.Equal(t, issue.ID, fixes[0].IssueID)

	after, err := c.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, after.Status)
	assert.Empty(t, after.Issues)
}

func TestDatabaseCheckerMissingColumnFixedByAutoFix(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db,
		"CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT)", // updated_at absent
		"CREATE INDEX idx_records_updated_at ON records (title)",
	)

	c := NewDatabaseChecker(db, testDatabaseConfig(), nil, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "updated_at")
	assert.True(t, res.Issues[0].AutoFixable)

	fixes, err := c.AutoFix(context.Background(), res.Issues, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Success)

	after, err := c.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, after.Status)
}

func TestDatabaseCheckerExtraTablesAreInformational(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db,
		"CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT, updated_at TEXT)",
		"CREATE INDEX idx_records_updated_at ON records (updated_at)",
		"CREATE TABLE leftovers (id INTEGER)",
	)

	c := NewDatabaseChecker(db, testDatabaseConfig(), nil, nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPass, res.Status)
	assert.Empty(t, res.Issues)
	assert.Contains(t, res.Details["unexpected_tables"], "leftovers")
}

func TestDatabaseCheckerUnknownFixMarker(t *testing.T) {
	db := openTestDB(t)
	c := NewDatabaseChecker(db, testDatabaseConfig(), nil, nil)

	orphan := c.NewIssue(SeverityLow, "mystery", IssueOptions{
		Details: map[string]interface{}{"fix": "unknown_marker"},
	})
	fixes, err := c.AutoFix(context.Background(), []Issue{orphan}, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.False(t, fixes[0].Success)
}
