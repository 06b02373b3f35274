package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_maintenance.sql": {Data: []byte("SELECT 1")},
		"0001_init.sql":        {Data: []byte("SELECT 1")},
		"README.md":            {Data: []byte("docs")},
		"archive/0000_old.sql": {Data: []byte("SELECT 1")},
	}
	names, err := migrationNames(fsys)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init.sql", "0002_maintenance.sql"}, names)
}
