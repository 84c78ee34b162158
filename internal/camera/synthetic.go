package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"sync"
)

// Synthetic renders JPEG test scenes in-process: a sky gradient with an
// occasional dark subject wandering across it. Useful on hosts without a
// sensor and for exercising the whole pipeline.
type Synthetic struct {
	*bufferPool

	width   int
	height  int
	quality int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic creates a synthetic camera
func NewSynthetic(width, height, quality, buffers int) *Synthetic {
	return &Synthetic{
		bufferPool: newBufferPool(buffers),
		width:      width,
		height:     height,
		quality:    quality,
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (c *Synthetic) Name() string {
	return fmt.Sprintf("synthetic (%dx%d)", c.width, c.height)
}

// Init validates the picture properties and renders one frame to prove the
// encoder works
func (c *Synthetic) Init(ctx context.Context) error {
	if c.width <= 0 || c.height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.width, c.height)
	}
	if c.quality < 1 || c.quality > 100 {
		return fmt.Errorf("invalid JPEG quality %d (must be 1-100)", c.quality)
	}
	if _, err := c.render(); err != nil {
		return fmt.Errorf("camera self-test failed: %w", err)
	}
	c.markReady()
	return nil
}

func (c *Synthetic) Acquire(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq, err := c.take()
	if err != nil {
		return nil, err
	}

	data, err := c.render()
	if err != nil {
		c.give()
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return newFrame(seq, data, c.width, c.height), nil
}

func (c *Synthetic) Release(frame *Frame) {
	if frame == nil {
		return
	}
	c.give()
}

func (c *Synthetic) render() ([]byte, error) {
	c.mu.Lock()
	subject := c.rng.Intn(2) == 0
	cx := c.rng.Intn(c.width)
	cy := c.height/2 + c.rng.Intn(c.height/2+1) - c.height/4
	radius := c.height/6 + 1
	c.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, c.width, c.height))
	for y := 0; y < c.height; y++ {
		shade := uint8(200 - 80*y/c.height)
		for x := 0; x < c.width; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	if subject {
		for y := cy - radius; y <= cy+radius; y++ {
			for x := cx - radius; x <= cx+radius; x++ {
				if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= radius*radius {
					img.SetGray(x, y, color.Gray{Y: 20})
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
