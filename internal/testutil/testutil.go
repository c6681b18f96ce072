package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CreateTempDir returns a fresh temporary directory removed when the test
// ends. Extra path elements name a nested directory which is created too.
func CreateTempDir(t *testing.T, elem ...string) string {
	t.Helper()

	dir := filepath.Join(append([]string{t.TempDir()}, elem...)...)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	return dir
}

// FileExists reports whether path names a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
