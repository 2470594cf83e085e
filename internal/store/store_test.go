package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varpol.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_ReopenKeepsTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varpol.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	for _, table := range []string{"variables", "session", "policies"} {
		assert.Contains(t, sqliteObjects(t, s.db, "table", table), table)
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM variables").Scan(&n))
	assert.Zero(t, n)
	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "memory", mode)
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "varpol.db"))
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)
	want := map[string][]string{
		"variables": {"namespace", "name", "attributes", "data", "timestamp", "signer"},
		"session":   {"singleton", "id", "enabled", "locked"},
		"policies":  {"session_id", "seq", "id", "entry"},
	}
	for table, cols := range want {
		assert.Subset(t, tableColumns(t, s.db, table), cols, table)
	}
}

func TestSchema_Constraints(t *testing.T) {
	s := createTestStore(t)
	tests := []struct {
		name string
		stmt string
	}{
		{"short namespace", `INSERT INTO variables (namespace, name, attributes, data) VALUES (x'0102', 'Short', 7, x'01')`},
		{"short timestamp", `INSERT INTO variables (namespace, name, attributes, data, timestamp) VALUES (zeroblob(16), 'Ts', 7, x'01', x'00')`},
		{"second session row", `INSERT INTO session (singleton, id, enabled, locked) VALUES (2, 'x', 1, 0)`},
		{"enabled out of range", `INSERT INTO session (singleton, id, enabled, locked) VALUES (1, 'x', 2, 0)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.db.Exec(tt.stmt)
			assert.Error(t, err)
		})
	}
}

func TestMigrate_CurrentVersion(t *testing.T) {
	s := createTestStore(t)
	v, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	assert.Equal(t, 2, currentSchemaVersion)
}

func TestMigrate_UpgradesOldDatabase(t *testing.T) {
	for _, from := range []int{0, 1} {
		path := filepath.Join(t.TempDir(), "varpol.db")

		db, err := sql.Open("sqlite3", path)
		require.NoError(t, err)
		_, err = db.Exec(schemaSQL)
		require.NoError(t, err)
		for _, m := range migrations[:from] {
			_, err = db.Exec(m.stmt)
			require.NoError(t, err)
		}
		_, err = db.Exec("PRAGMA user_version = " + []string{"0", "1"}[from])
		require.NoError(t, err)
		require.NoError(t, db.Close())

		s, err := Open(path)
		require.NoError(t, err, "from v%d", from)
		v, err := s.pragma("user_version")
		require.NoError(t, err)
		assert.Equal(t, "2", v, "from v%d", from)
		assert.Contains(t, sqliteObjects(t, s.db, "index", "policies"), "idx_policies_session_id_unique")
		assert.Contains(t, sqliteObjects(t, s.db, "index", "variables"), "idx_variables_signer")
		require.NoError(t, s.Close())
	}
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	return cols
}

// sqliteObjects lists schema objects of a kind attached to table.
func sqliteObjects(t *testing.T, db *sql.DB, kind, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = ? AND tbl_name = ?", kind, table)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
