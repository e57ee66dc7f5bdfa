package diagnostics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSearchConfig() SearchCheckerConfig {
	return SearchCheckerConfig{
		SourceTable:    "records",
		IndexTable:     "records_search",
		DriftTolerance: 0.1,
		RebuildStatements: []string{
			"DELETE FROM records_search",
			"INSERT INTO records_search (record_id, title) SELECT id, title FROM records",
		},
	}
}

func TestSearchCheckerConsistentIndex(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db,
		"CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT)",
		"CREATE TABLE records_search (record_id INTEGER, title TEXT)",
		"INSERT INTO records (title) VALUES ('a'), ('b')",
		"INSERT INTO records_search (record_id, title) VALUES (1, 'a'), (2, 'b')",
	)

	c := NewSearchChecker(db, testSearchConfig(), nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPass, res.Status)
	assert.Equal(t, int64(2), res.Details["source_rows"])
	assert.Equal(t, int64(2), res.Details["index_rows"])
}

func TestSearchCheckerMissingIndexTable(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db, "CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT)")

	c := NewSearchChecker(db, testSearchConfig(), nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].AutoFixable)
}

func TestSearchCheckerDriftDetectedAndRebuilt(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db,
		"CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT)",
		"CREATE TABLE records_search (record_id INTEGER, title TEXT)",
		"INSERT INTO records (title) VALUES ('a'), ('b'), ('c'), ('d')",
		"INSERT INTO records_search (record_id, title) VALUES (1, 'a')",
	)

	c := NewSearchChecker(db, testSearchConfig(), nil)
	res, err := c.Check(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, res.Status)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].AutoFixable)

	fixes, err := c.AutoFix(context.Background(), res.Issues, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Success)

	after, err := c.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, after.Status)
	assert.Equal(t, int64(4), after.Details["index_rows"])
}

func TestSearchCheckerRebuildWithoutStatements(t *testing.T) {
	db := openTestDB(t)
	seedSchema(t, db,
		"CREATE TABLE records (id INTEGER PRIMARY KEY, title TEXT)",
	)

	cfg := testSearchConfig()
	cfg.RebuildStatements = nil
	c := NewSearchChecker(db, cfg, nil)

	issue := c.NewIssue(SeverityMedium, "stale", IssueOptions{
		Details: map[string]interface{}{"fix": "rebuild_index"},
	})
	fixes, err := c.AutoFix(context.Background(), []Issue{issue}, nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.False(t, fixes[0].Success)
	assert.Contains(t, fixes[0].Error, "no rebuild statements")
}
