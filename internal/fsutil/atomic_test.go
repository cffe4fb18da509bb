package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.docx")
	n, err := WriteFile(path, []byte("hello"), 0o644)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestWriteFile_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	_, err := WriteFile(path, []byte("new"), 0o644)
	require.NoError(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(got))
}

func TestWriteFileAtomic_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.docx")
	boom := errors.New("boom")

	_, err := WriteFileAtomic(path, 0o644, func(w io.Writer) (int64, error) {
		_, _ = w.Write([]byte("partial"))
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "target must not exist")
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "temp file must be removed")
}

func TestWriteFileAtomic_FailureKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.docx")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	_, err := WriteFileAtomic(path, 0o644, func(io.Writer) (int64, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	got, _ := os.ReadFile(path)
	assert.Equal(t, "previous", string(got))
}
