package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/identity"
)

func TestEnsureDir_CreatesNestedDirectory(t *testing.T) {
	want := filepath.Join(t.TempDir(), "data", "openemail")

	got, err := EnsureDir(want)
	require.NoError(t, err)
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := EnsureDir(dir)
	require.NoError(t, err)

	second, err := EnsureDir(dir)
	require.NoError(t, err)

	require.Equal(t, first, second)
	fi, err := os.Stat(second)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o660))

	_, err := EnsureDir(path)
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/docs")
	alice := identity.MustParseEmailAddress("alice@example.com")

	dir, err := l.MessageDir(alice, "m1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/docs", "messages", "alice@example.com", "m1"), dir)

	p, err := l.MessageFile(alice, "m1", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/docs", "messages", "alice@example.com", "m1", "report.pdf"), p)

	for _, bad := range []string{"", ".", "..", "../escape", "a/b"} {
		_, err := l.MessageFile(alice, "m1", bad)
		assert.ErrorIs(t, err, ErrBadFileName, bad)
	}
}

func TestLayout_RejectsBadMessageIDs(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(filepath.Join(root, "docs"))
	alice := identity.MustParseEmailAddress("alice@example.com")

	victim := filepath.Join(root, "victim")
	require.NoError(t, os.MkdirAll(victim, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(victim, "precious.txt"), []byte("x"), 0o600))

	for _, bad := range []string{"", ".", "..", "../../../victim", "a/b", `a\b`, "id with space"} {
		_, err := l.MessageDir(alice, bad)
		assert.ErrorIs(t, err, ErrBadMessageID, bad)

		_, err = l.EnsureMessageDir(alice, bad)
		assert.ErrorIs(t, err, ErrBadMessageID, bad)

		_, err = l.MessageFile(alice, bad, "f.txt")
		assert.ErrorIs(t, err, ErrBadMessageID, bad)

		assert.ErrorIs(t, l.RemoveMessageDir(alice, bad), ErrBadMessageID, bad)
	}
	assert.FileExists(t, filepath.Join(victim, "precious.txt"))
}

func TestLayout_TempFileAndRemove(t *testing.T) {
	l := NewLayout(t.TempDir())
	alice := identity.MustParseEmailAddress("alice@example.com")

	a, err := l.TempFile(alice)
	require.NoError(t, err)
	b, err := l.TempFile(alice)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.DirExists(t, filepath.Dir(a))

	dir, err := l.EnsureMessageDir(alice, "m1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o600))
	require.NoError(t, l.RemoveMessageDir(alice, "m1"))
	assert.NoDirExists(t, dir)
}

func TestConcatenate(t *testing.T) {
	dir := t.TempDir()
	var parts []string
	for i, chunk := range []string{"alpha-", "beta-", "gamma"} {
		p := filepath.Join(dir, "part"+strconv.Itoa(i))
		require.NoError(t, os.WriteFile(p, []byte(chunk), 0o600))
		parts = append(parts, p)
	}

	dst := filepath.Join(dir, "out", "file.txt")
	require.NoError(t, Concatenate(dst, parts))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "alpha-beta-gamma", string(b))
	for _, p := range parts {
		assert.NoFileExists(t, p)
	}
	assert.NoFileExists(t, dst+".partial")
}

func TestConcatenate_MissingPartKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "p1")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0o600))

	dst := filepath.Join(dir, "file")
	require.Error(t, Concatenate(dst, []string{first, filepath.Join(dir, "missing")}))
	assert.FileExists(t, first)
	assert.NoFileExists(t, dst)
	assert.NoFileExists(t, dst+".partial")
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	dst := filepath.Join(dir, "nested", "dst")
	require.NoError(t, Move(src, dst))

	assert.NoFileExists(t, src)
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	assert.Error(t, Move(filepath.Join(dir, "nope"), filepath.Join(dir, "x")))
}
