package tempfiles

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpoolAndClose(t *testing.T) {
	dir := t.TempDir()

	s, err := Spool(dir, "spool-test-*", strings.NewReader("hello"), 0)
	require.NoError(t, err)

	path := s.File.Name()
	rel, err := filepath.Rel(dir, path)
	require.NoError(t, err)
	require.NotContains(t, rel, "..")

	require.Equal(t, int64(5), s.Size)
	require.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte("hello"))), s.SHA256)

	data, err := io.ReadAll(s.File)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, s.Close())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestSpoolLimit(t *testing.T) {
	dir := t.TempDir()

	_, err := Spool(dir, "spool-test-*", strings.NewReader("0123456789"), 4)
	require.Error(t, err)
	require.Contains(t, err.Error(), "maximum size")

	// Nothing left behind on failure.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
