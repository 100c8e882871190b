package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/db"
)

func TestAllApplyAndRollBack(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), db.DefaultFileName))
	require.NoError(t, err)
	defer conn.Close()

	runner := db.NewMigrationRunner(conn)
	require.NoError(t, runner.Run(ctx, All()))

	for _, table := range []string{"runs", "run_transitions"} {
		var exists bool
		require.NoError(t, conn.Get(&exists, `SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?`, table))
		assert.True(t, exists, table)
	}

	for range All() {
		require.NoError(t, runner.Rollback(ctx, All()))
	}
	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
