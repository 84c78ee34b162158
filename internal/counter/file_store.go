package counter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const valueSize = 4

// FileStore persists the counter as four big-endian bytes in a single file.
// Commit writes a sibling temp file and renames it over the original so a
// power cut never leaves a torn value behind.
type FileStore struct {
	fs      afero.Fs
	path    string
	pending *uint32
}

// NewFileStore creates a store backed by path on fsys
func NewFileStore(fsys afero.Fs, path string) *FileStore {
	return &FileStore{fs: fsys, path: path}
}

// Read returns the committed value, or zero if nothing was ever committed
func (s *FileStore) Read() (uint32, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(data) != valueSize {
		return 0, fmt.Errorf("corrupt counter file %s: %d bytes", s.path, len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

// Write stages value for the next Commit
func (s *FileStore) Write(value uint32) error {
	s.pending = &value
	return nil
}

// Commit makes the staged value durable
func (s *FileStore) Commit() error {
	if s.pending == nil {
		return nil
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", s.path, err)
	}

	buf := make([]byte, valueSize)
	binary.BigEndian.PutUint32(buf, *s.pending)

	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tmp, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	s.pending = nil
	return nil
}
