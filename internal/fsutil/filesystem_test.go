package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, fsys FileSystem, name string) []byte {
	t.Helper()
	f, err := fsys.Open(name)
	require.NoError(t, err)
	defer f.Close()
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	return content
}

func TestMemoryFileSystem(t *testing.T) {
	fsys := NewMemoryFileSystem()
	data := []byte("Pression Arterielle\tSpirometrie\n")
	require.NoError(t, fsys.WriteFile("data/lapin3.txt", data, 0o644))

	data[0] = 'X'
	got := readAll(t, fsys, "data/./lapin3.txt")
	assert.Equal(t, "Pression Arterielle\tSpirometrie\n", string(got), "stored copy is independent of the caller's slice")

	f, err := fsys.Open("data/lapin3.txt")
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "lapin3.txt", info.Name())
	assert.EqualValues(t, len(got), info.Size())
	assert.Equal(t, fs.FileMode(0o644), info.Mode())
	assert.False(t, info.IsDir())
}

func TestMemoryFileSystemOverwrite(t *testing.T) {
	fsys := NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("r.txt", []byte("first"), 0o644))
	require.NoError(t, fsys.WriteFile("r.txt", []byte("second"), 0o644))
	assert.Equal(t, "second", string(readAll(t, fsys, "r.txt")))
}

func TestMemoryFileSystemMissing(t *testing.T) {
	fsys := NewMemoryFileSystem()

	_, err := fsys.Open("missing.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "open", pathErr.Op)

	assert.ErrorIs(t, fsys.WriteFile("", nil, 0o644), fs.ErrInvalid)
}

func TestOSFileSystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.txt")
	require.NoError(t, os.WriteFile(path, []byte("header\n"), 0o644))

	assert.Equal(t, "header\n", string(readAll(t, OSFileSystem{}, path)))

	_, err := OSFileSystem{}.Open(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
