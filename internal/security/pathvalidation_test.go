package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithin(t *testing.T) {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "recordings")
	otherDir := filepath.Join(tmpDir, "other")
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "lapin3"), 0o755))
	require.NoError(t, os.MkdirAll(otherDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "secret.txt"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(otherDir, filepath.Join(dataDir, "escape")))

	root, err := filepath.EvalSymlinks(dataDir)
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "relative file", path: "a.txt", want: filepath.Join(root, "a.txt")},
		{name: "nested file", path: "lapin3/b.xlsx", want: filepath.Join(root, "lapin3", "b.xlsx")},
		{name: "absolute inside", path: filepath.Join(dataDir, "c.txt"), want: filepath.Join(root, "c.txt")},
		{name: "cleaned dot dot", path: "lapin3/../d.txt", want: filepath.Join(root, "d.txt")},
		{name: "dot dot escape", path: "../other/secret.txt", wantErr: true},
		{name: "absolute outside", path: filepath.Join(otherDir, "secret.txt"), wantErr: true},
		{name: "symlink escape", path: "escape/secret.txt", wantErr: true},
		{name: "symlink escape to missing file", path: "escape/new.txt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(dataDir, tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideDirectory)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveWithinMissingDirectory(t *testing.T) {
	_, err := ResolveWithin(filepath.Join(t.TempDir(), "missing"), "a.txt")
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Pression Arterielle", "Pression_Arterielle"},
		{"Fréquence (bpm)", "Fr_quence_bpm"},
		{"lapin-3.v2", "lapin-3.v2"},
		{"../../etc", "etc"},
		{"", "unknown"},
		{"___", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
