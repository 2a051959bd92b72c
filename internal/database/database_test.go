package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "gstream.db")

	db, err := Open(Config{Type: TypeSQLite, Path: path}, hclog.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, db.Exec("CREATE TABLE probe (id INTEGER)").Error)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, db.Exec("CREATE TABLE t (v TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO t (v) VALUES (?)", "x").Error)

	var count int64
	require.NoError(t, db.Table("t").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Config{Type: "mongodb"}, nil)
	assert.ErrorContains(t, err, "unsupported database type")

	_, err = Open(Config{Type: TypePostgres}, nil)
	assert.ErrorContains(t, err, "requires a url")
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
