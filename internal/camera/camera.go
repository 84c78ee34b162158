// Package camera provides the frame sources a node can capture from.
//
// Every implementation owns a fixed number of frame buffers. Acquire hands
// one out and Release returns it; a frame that is never released keeps its
// buffer, exactly like a driver frame buffer would.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotInitialized is returned by Acquire before a successful Init
	ErrNotInitialized = errors.New("camera not initialized")

	// ErrNoBuffer is returned when every frame buffer is still held
	ErrNoBuffer = errors.New("no free frame buffer")
)

// Frame is one captured JPEG picture.
// Data must not be modified after Acquire returns it.
type Frame struct {
	ID        string
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// Camera is the camera collaborator
type Camera interface {
	// Init configures and starts the sensor
	Init(ctx context.Context) error

	// Acquire captures a frame
	Acquire(ctx context.Context) (*Frame, error)

	// Release returns a frame buffer to the camera. Releasing nil is a no-op.
	Release(frame *Frame)

	// Name returns the camera name for logging
	Name() string
}

// Config selects and parameterises a camera source
type Config struct {
	Source      string
	Directory   string
	Width       int
	Height      int
	JPEGQuality int
	Buffers     int
}

// New creates the camera configured by cfg
func New(cfg Config, logger *zap.Logger) (Camera, error) {
	source := strings.ToLower(cfg.Source)
	if source == "" {
		source = "synthetic"
	}

	switch source {
	case "synthetic":
		logger.Info("Using synthetic camera",
			zap.Int("width", cfg.Width),
			zap.Int("height", cfg.Height))
		return NewSynthetic(cfg.Width, cfg.Height, cfg.JPEGQuality, cfg.Buffers), nil
	case "directory":
		if cfg.Directory == "" {
			return nil, fmt.Errorf("camera directory required for directory source")
		}
		logger.Info("Using directory camera", zap.String("directory", cfg.Directory))
		return NewDirectory(cfg.Directory, cfg.Buffers), nil
	default:
		return nil, fmt.Errorf("unknown camera source: %s", cfg.Source)
	}
}
