// Package repotest opens migrated in-memory databases for repository and
// service tests.
package repotest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/client/client"
)

// OpenDB returns a fresh in-memory database with every migration applied.
// It is closed when the test ends.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := client.InitDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
