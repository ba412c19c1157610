package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testContent = []byte("test-file")
	// sha256 of "test-file"
	testDigest = "3fa65313f3ee7c23d31896e7f57af67618b88dff00f6eb7c3aba2d968d6d4b32"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestFileSHA256(t *testing.T) {
	pkg := writeFile(t, t.TempDir(), "plugin.deb", testContent)
	digest, err := FileSHA256(pkg)
	require.NoError(t, err)
	require.Equal(t, testDigest, digest)
}

func TestFileMatch(t *testing.T) {
	dir := t.TempDir()
	pkg := writeFile(t, dir, "plugin.deb", testContent)

	cs := writeFile(t, dir, "plugin.deb.sha256", []byte(testDigest+"  plugin.deb\n"))
	require.True(t, File(pkg, cs))

	// digest comparison is case insensitive
	cs = writeFile(t, dir, "upper.sha256", []byte("3FA65313F3EE7C23D31896E7F57AF67618B88DFF00F6EB7C3ABA2D968D6D4B32"))
	require.True(t, File(pkg, cs))
}

func TestFileMismatch(t *testing.T) {
	dir := t.TempDir()
	pkg := writeFile(t, dir, "plugin.deb", testContent)

	cs := writeFile(t, dir, "plugin.deb.sha256", []byte("deadbeef  plugin.deb\n"))
	require.False(t, File(pkg, cs))

	require.False(t, File(pkg, filepath.Join(dir, "missing.sha256")))

	empty := writeFile(t, dir, "empty.sha256", nil)
	require.False(t, File(pkg, empty))
}
