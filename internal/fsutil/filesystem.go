// Package fsutil abstracts the file system recordings are read from, so the
// loader can be exercised against in-memory fixtures.
package fsutil

import (
	"bytes"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"
)

// FileSystem opens recordings for reading.
type FileSystem interface {
	Open(name string) (fs.File, error)
}

// OSFileSystem reads from the host file system.
type OSFileSystem struct{}

func (OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// MemoryFileSystem holds files in memory. It is safe for concurrent use.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string]memEntry
}

type memEntry struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(map[string]memEntry)}
}

// WriteFile stores a copy of data under name, replacing any previous content.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if name == "" {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path.Clean(name)] = memEntry{data: bytes.Clone(data), mode: perm, modTime: time.Now()}
	return nil
}

func (m *MemoryFileSystem) Open(name string) (fs.File, error) {
	m.mu.RLock()
	e, ok := m.files[path.Clean(name)]
	m.mu.RUnlock()
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memFile{
		Reader: bytes.NewReader(e.data),
		info:   memFileInfo{name: path.Base(name), entry: e},
	}, nil
}

type memFile struct {
	*bytes.Reader
	info memFileInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

type memFileInfo struct {
	name  string
	entry memEntry
}

func (i memFileInfo) Name() string       { return i.name }
func (i memFileInfo) Size() int64        { return int64(len(i.entry.data)) }
func (i memFileInfo) Mode() fs.FileMode  { return i.entry.mode }
func (i memFileInfo) ModTime() time.Time { return i.entry.modTime }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }
