package dbmigrate

import (
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RequiresDSN(t *testing.T) {
	err := Run("  ", Up)
	assert.ErrorIs(t, err, ErrNoDatabaseURL)
}

func TestRun_RejectsDirection(t *testing.T) {
	err := Run("postgres://localhost/db", Direction("sideways"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direction")
}

func TestMigrations_ArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file in migrations: %s", name)
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestToMigrateDSN(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db", toMigrateDSN("postgresql://u@h/db"))
	assert.Equal(t, "postgres://u@h/db", toMigrateDSN("pgx5://u@h/db"))
	assert.Equal(t, "postgres://u@h/db", toMigrateDSN("postgres://u@h/db"))
}

func TestRun_Integration(t *testing.T) {
	dsn := os.Getenv("VIGIL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VIGIL_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	require.NoError(t, Run(dsn, Up))
	require.NoError(t, Run(dsn, Up), "second up must be a no-op")

	v, dirty, err := Version(dsn)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, v, uint(1))
}
