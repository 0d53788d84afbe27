package schema

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var migrationName = regexp.MustCompile(`^(\d{3})_[a-z0-9_]+\.(up|down)\.sql$`)

// schemaDir returns the directory holding this file, which is where the migrations live.
func schemaDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok, "cannot locate schema directory")
	return filepath.Dir(file)
}

func migrationFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(schemaDir(t), "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no .sql migration files found")
	return files
}

func TestMigrationFiles(t *testing.T) {
	for _, path := range migrationFiles(t) {
		name := filepath.Base(path)
		t.Run(name, func(t *testing.T) {
			assert.Regexp(t, migrationName, name, "expected NNN_description.up.sql or NNN_description.down.sql")
			content, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotEmpty(t, strings.TrimSpace(string(content)))
		})
	}
}

func TestMigrationsArePaired(t *testing.T) {
	for _, path := range migrationFiles(t) {
		if !strings.HasSuffix(path, ".up.sql") {
			continue
		}
		down := strings.TrimSuffix(path, ".up.sql") + ".down.sql"
		_, err := os.Stat(down)
		assert.NoError(t, err, "missing down migration for %s", filepath.Base(path))
	}
}

// The journal writer copies into these tables with these columns.
func TestJournalTablesDeclared(t *testing.T) {
	content, err := os.ReadFile(filepath.Join(schemaDir(t), "001_orb_journal.up.sql"))
	require.NoError(t, err)
	schema := string(content)

	tables := map[string][]string{
		"orb_levels": {"high_main", "low_main", "high_upper_buffer", "high_lower_buffer",
			"low_upper_buffer", "low_lower_buffer", "buffer_points", "candle_count"},
		"orb_trade_events": {"trade_id", "event", "side", "origin_line", "option_symbol", "strike",
			"underlying_price", "option_price", "stop_loss", "commission", "net_pnl", "daily_pnl", "reason"},
	}
	for table, columns := range tables {
		require.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
		for _, col := range columns {
			assert.Regexp(t, `(?m)^\s+`+col+`\s`, schema, "%s.%s not declared", table, col)
		}
	}

	down, err := os.ReadFile(filepath.Join(schemaDir(t), "001_orb_journal.down.sql"))
	require.NoError(t, err)
	for table := range tables {
		assert.Contains(t, string(down), table)
	}
}
