package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// mkdirFailFs refuses to create one directory
type mkdirFailFs struct {
	afero.Fs
	deny string
}

func (f *mkdirFailFs) Mkdir(name string, perm os.FileMode) error {
	if name == f.deny {
		return errors.New("card write protected")
	}
	return f.Fs.Mkdir(name, perm)
}

// TestMount tests mounting present, missing and read-only cards
func TestMount(t *testing.T) {
	logger := zap.NewNop()

	if err := New(afero.NewMemMapFs(), logger).Mount(); err != nil {
		t.Errorf("Mount() on memory card error = %v", err)
	}

	missing := NewOnDisk(filepath.Join(t.TempDir(), "no-card"), logger)
	if err := missing.Mount(); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Mount() on missing card error = %v, want ErrNotMounted", err)
	}

	readOnly := New(afero.NewReadOnlyFs(afero.NewMemMapFs()), logger)
	if err := readOnly.Mount(); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Mount() on read-only card error = %v, want ErrNotMounted", err)
	}
}

// TestMountOnDisk tests a real directory used as card root
func TestMountOnDisk(t *testing.T) {
	root := t.TempDir()
	s := NewOnDisk(root, zap.NewNop())

	if err := s.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Mount() left %d files behind", len(entries))
	}

	free, err := s.FreeBytes()
	if err != nil {
		t.Fatalf("FreeBytes() error = %v", err)
	}
	if free == 0 {
		t.Error("FreeBytes() = 0, expected some free space")
	}
}

// TestEnsureLayout tests directory creation and idempotency
func TestEnsureLayout(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, zap.NewNop())

	if failed := s.EnsureLayout(); failed != 0 {
		t.Fatalf("EnsureLayout() failed = %d, want 0", failed)
	}
	for _, dir := range Directories {
		ok, err := s.DirExists(dir)
		if err != nil || !ok {
			t.Errorf("directory %s missing after EnsureLayout()", dir)
		}
	}

	// Second pass finds everything in place
	if failed := s.EnsureLayout(); failed != 0 {
		t.Errorf("second EnsureLayout() failed = %d, want 0", failed)
	}
}

// TestEnsureLayoutContinuesOnFailure tests that one failed mkdir does not stop the rest
func TestEnsureLayoutContinuesOnFailure(t *testing.T) {
	s := New(&mkdirFailFs{Fs: afero.NewMemMapFs(), deny: ReportsDir}, zap.NewNop())

	if failed := s.EnsureLayout(); failed != 1 {
		t.Errorf("EnsureLayout() failed = %d, want 1", failed)
	}
	for _, dir := range []string{PicturesDir, UptimeLogsDir, ErrorLogsDir} {
		if ok, _ := s.DirExists(dir); !ok {
			t.Errorf("directory %s missing", dir)
		}
	}
}

// TestCreateUptimeLog tests probing for the smallest unused log number
func TestCreateUptimeLog(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, zap.NewNop())
	s.EnsureLayout()

	tests := []struct {
		name string
		want string
	}{
		{name: "first boot", want: "/uptimeLogs/uptimeLog0.txt"},
		{name: "second boot", want: "/uptimeLogs/uptimeLog1.txt"},
		{name: "third boot", want: "/uptimeLogs/uptimeLog2.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CreateUptimeLog()
			if err != nil {
				t.Fatalf("CreateUptimeLog() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CreateUptimeLog() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestCreateUptimeLogFillsGap tests that a removed log number is reused
func TestCreateUptimeLogFillsGap(t *testing.T) {
	fsys := afero.NewMemMapFs()
	afero.WriteFile(fsys, UptimeLogPath(0), nil, 0644)
	afero.WriteFile(fsys, UptimeLogPath(2), nil, 0644)
	s := New(fsys, zap.NewNop())

	got, err := s.CreateUptimeLog()
	if err != nil {
		t.Fatalf("CreateUptimeLog() error = %v", err)
	}
	if got != UptimeLogPath(1) {
		t.Errorf("CreateUptimeLog() = %q, want %q", got, UptimeLogPath(1))
	}
}

// TestAppendLine tests appending to an existing log and failing on a missing one
func TestAppendLine(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, zap.NewNop())
	s.EnsureLayout()
	logPath, _ := s.CreateUptimeLog()

	for _, line := range []string{"0.50 min", "15.50 min"} {
		if err := s.AppendLine(logPath, line); err != nil {
			t.Fatalf("AppendLine() error = %v", err)
		}
	}

	data, _ := s.ReadFile(logPath)
	if got := string(data); got != "0.50 min\n15.50 min\n" {
		t.Errorf("log contents = %q", got)
	}

	if err := s.AppendLine("/uptimeLogs/missing.txt", "x"); err == nil {
		t.Error("AppendLine() on missing file expected error")
	}
}

// TestWritePicture tests the picture artifact path
func TestWritePicture(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, zap.NewNop())
	s.EnsureLayout()

	p, err := s.WritePicture("4242_17.jpg", []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("WritePicture() error = %v", err)
	}
	if p != "/pictures/4242_17.jpg" {
		t.Errorf("WritePicture() path = %q", p)
	}

	data, _ := s.ReadFile(p)
	if len(data) != 2 {
		t.Errorf("picture size = %d, want 2", len(data))
	}

	if _, err := New(afero.NewReadOnlyFs(fsys), zap.NewNop()).WritePicture("x.jpg", nil); err == nil {
		t.Error("WritePicture() on read-only card expected error")
	}
}

// TestFreeBytesInMemory tests that free space needs a host path
func TestFreeBytesInMemory(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), zap.NewNop()).FreeBytes()
	if err == nil || !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("FreeBytes() error = %v, want unavailable", err)
	}
}
