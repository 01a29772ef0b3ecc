package metadata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE metadata (key TEXT PRIMARY KEY, value BLOB);`)
	require.NoError(t, err)
	return db
}

func TestSetAndGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyCredentials, []byte(`{"address":"alice@example.com"}`)))

	v, err := r.Get(ctx, KeyCredentials)
	require.NoError(t, err)
	assert.Equal(t, `{"address":"alice@example.com"}`, string(v))
}

func TestGet_MissingKeyReturnsNilNil(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	v, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSet_Upserts(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("old")))
	require.NoError(t, r.Set(ctx, "k", []byte("new")))

	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func TestListDeleteClear(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte{0xAA}))
	require.NoError(t, r.Set(ctx, "b", []byte{0xBB, 0xCC}))

	m, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": {0xAA}, "b": {0xBB, 0xCC}}, m)

	require.NoError(t, r.Delete(ctx, "a"))
	require.NoError(t, r.Delete(ctx, "a"))
	m, err = r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, m, 1)

	require.NoError(t, r.Clear(ctx))
	m, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestTimeRoundTrip(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	zero, err := Time(ctx, r, KeyLastSync)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	require.NoError(t, SetTime(ctx, r, KeyLastSync, now))

	got, err := Time(ctx, r, KeyLastSync)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))
}

func TestTime_BadValue(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyLastSync, []byte("yesterday")))
	_, err := Time(ctx, r, KeyLastSync)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad timestamp")
}

func TestErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "k")
	assert.ErrorContains(t, err, "failed to get metadata[k]")
	assert.ErrorContains(t, r.Set(ctx, "k", nil), "failed to set metadata[k]")
	assert.ErrorContains(t, r.Delete(ctx, "k"), "failed to delete metadata[k]")
	assert.ErrorContains(t, r.Clear(ctx), "failed to clear metadata")
	_, err = r.List(ctx)
	assert.ErrorContains(t, err, "failed to list metadata")
}

func TestList_NullValue(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := db.Exec(`INSERT INTO metadata(key, value) VALUES ('bad', NULL);`)
	require.NoError(t, err)

	m, err := r.List(context.Background())
	require.NoError(t, err)
	v, ok := m["bad"]
	require.True(t, ok)
	assert.Nil(t, v)
}
