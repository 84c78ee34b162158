package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Directory replays the JPEG files of a directory in name order, wrapping
// around at the end. Files are re-listed on Init only.
type Directory struct {
	*bufferPool

	fs  afero.Fs
	dir string

	mu    sync.Mutex
	files []string
	next  int
}

// NewDirectory creates a camera replaying the pictures in dir
func NewDirectory(dir string, buffers int) *Directory {
	return newDirectoryFs(afero.NewOsFs(), dir, buffers)
}

func newDirectoryFs(fsys afero.Fs, dir string, buffers int) *Directory {
	return &Directory{
		bufferPool: newBufferPool(buffers),
		fs:         fsys,
		dir:        dir,
	}
}

func (c *Directory) Name() string {
	return fmt.Sprintf("directory (%s)", c.dir)
}

func (c *Directory) Init(ctx context.Context) error {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			files = append(files, filepath.Join(c.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no JPEG files in %s", c.dir)
	}
	sort.Strings(files)

	c.mu.Lock()
	c.files = files
	c.next = 0
	c.mu.Unlock()

	c.markReady()
	return nil
}

func (c *Directory) Acquire(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq, err := c.take()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	name := c.files[c.next]
	c.next = (c.next + 1) % len(c.files)
	c.mu.Unlock()

	data, err := afero.ReadFile(c.fs, name)
	if err != nil {
		c.give()
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		c.give()
		return nil, fmt.Errorf("%s is not a JPEG: %w", name, err)
	}

	return newFrame(seq, data, cfg.Width, cfg.Height), nil
}

func (c *Directory) Release(frame *Frame) {
	if frame == nil {
		return
	}
	c.give()
}
