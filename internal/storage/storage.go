// Package storage manages the node's artifact card: the well-known
// directory layout, pictures, spilled reports and uptime logs.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Well-known top-level directories
const (
	PicturesDir   = "/pictures"
	ReportsDir    = "/reports"
	UptimeLogsDir = "/uptimeLogs"
	ErrorLogsDir  = "/errorLogs"
)

// Directories lists every directory EnsureLayout creates
var Directories = []string{
	PicturesDir,
	ReportsDir,
	UptimeLogsDir,
	ErrorLogsDir,
}

// ErrNotMounted is returned when the card root is missing or unusable
var ErrNotMounted = errors.New("storage not mounted")

// Store is the block-storage collaborator. All paths are relative to the
// card root and every call completes synchronously.
type Store struct {
	fs     afero.Fs
	root   string // host path of the card, empty when not on disk
	logger *zap.Logger
}

// New creates a store over an already rooted filesystem
func New(fsys afero.Fs, logger *zap.Logger) *Store {
	return &Store{fs: fsys, logger: logger}
}

// NewOnDisk creates a store rooted at a host directory (the card mount point)
func NewOnDisk(root string, logger *zap.Logger) *Store {
	return &Store{
		fs:     afero.NewBasePathFs(afero.NewOsFs(), root),
		root:   root,
		logger: logger,
	}
}

// Mount verifies that the card is present and writable
func (s *Store) Mount() error {
	info, err := s.fs.Stat("/")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotMounted, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: root is not a directory", ErrNotMounted)
	}

	probe, err := afero.TempFile(s.fs, "/", ".mount-probe-")
	if err != nil {
		return fmt.Errorf("%w: card is not writable: %v", ErrNotMounted, err)
	}
	name := probe.Name()
	probe.Close()
	if err := s.fs.Remove(name); err != nil {
		s.logger.Warn("Failed to remove mount probe", zap.String("path", name), zap.Error(err))
	}

	return nil
}

// EnsureLayout creates any missing well-known directory. Creation failures
// are logged and counted but do not stop the remaining directories.
func (s *Store) EnsureLayout() (failed int) {
	for _, dir := range Directories {
		exists, err := s.DirExists(dir)
		if err != nil {
			s.logger.Warn("Failed to check directory", zap.String("dir", dir), zap.Error(err))
		}
		if exists {
			s.logger.Debug("Directory already exists", zap.String("dir", dir))
			continue
		}

		if err := s.fs.Mkdir(dir, 0755); err != nil {
			s.logger.Error("Could not create directory", zap.String("dir", dir), zap.Error(err))
			failed++
			continue
		}
		s.logger.Info("Created directory", zap.String("dir", dir))
	}
	return failed
}

// DirExists reports whether dir exists and is a directory
func (s *Store) DirExists(dir string) (bool, error) {
	return afero.DirExists(s.fs, dir)
}

// Exists reports whether a file or directory exists at p
func (s *Store) Exists(p string) (bool, error) {
	return afero.Exists(s.fs, p)
}

// UptimeLogPath returns the path of uptime log number n
func UptimeLogPath(n int) string {
	return path.Join(UptimeLogsDir, "uptimeLog"+strconv.Itoa(n)+".txt")
}

// CreateUptimeLog creates a new empty uptime log named with the smallest
// unused number and returns its path
func (s *Store) CreateUptimeLog() (string, error) {
	n := 0
	for {
		exists, err := s.Exists(UptimeLogPath(n))
		if err != nil {
			return "", fmt.Errorf("failed to probe uptime logs: %w", err)
		}
		if !exists {
			break
		}
		n++
	}

	logPath := UptimeLogPath(n)
	f, err := s.fs.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", logPath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", logPath, err)
	}
	return logPath, nil
}

// WritePicture stores a picture under the pictures directory and returns its path.
// An existing file with the same name is overwritten.
func (s *Store) WritePicture(name string, data []byte) (string, error) {
	p := path.Join(PicturesDir, name)
	if err := s.writeFile(p, data); err != nil {
		return "", err
	}
	return p, nil
}

// WriteReport stores a report document under the reports directory
func (s *Store) WriteReport(name string, data []byte) (string, error) {
	p := path.Join(ReportsDir, name)
	if err := s.writeFile(p, data); err != nil {
		return "", err
	}
	return p, nil
}

// AppendLine appends line and a newline to an existing file
func (s *Store) AppendLine(p, line string) error {
	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p, err)
	}
	if _, err := f.Write([]byte(line + "\n")); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	return nil
}

// ReadFile returns the contents of p
func (s *Store) ReadFile(p string) ([]byte, error) {
	return afero.ReadFile(s.fs, p)
}

// FreeBytes returns the free space of the card. It is only available for
// on-disk stores.
func (s *Store) FreeBytes() (uint64, error) {
	if s.root == "" {
		return 0, fmt.Errorf("free space unavailable: %w", fs.ErrInvalid)
	}
	usage, err := disk.Usage(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage of %s: %w", s.root, err)
	}
	return usage.Free, nil
}

func (s *Store) writeFile(p string, data []byte) error {
	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	return nil
}
