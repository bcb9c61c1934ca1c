package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"spendwatch/internal/store"
	"spendwatch/internal/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		NewStore: func(t *testing.T) store.Store {
			repo, err := NewRepository(filepath.Join(t.TempDir(), "spendwatch.db"))
			require.NoError(t, err)
			return repo
		},
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "spendwatch.db")

	first, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := formatTime(mustParse(t, "2024-01-31T23:59:59.5Z"))
	b := formatTime(mustParse(t, "2024-02-01T00:00:00Z"))
	require.Less(t, a, b)
	require.Len(t, a, len(b))
}
